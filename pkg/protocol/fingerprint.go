package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Fingerprint computes the deterministic request fingerprint of spec §3:
// SHA-256 of `tool_name || 0x00 || canonical-json(arguments)`, stable
// regardless of JSON object key order (spec §9 design note: must not rely on
// the host JSON library's iteration order, so keys are sorted explicitly
// before re-encoding).
func Fingerprint(toolName string, args json.RawMessage) (string, error) {
	canon, err := canonicalize(args)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0x00})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalize re-encodes arbitrary JSON with object keys sorted at every
// nesting level, so structurally-identical-but-differently-ordered objects
// produce byte-identical output.
func canonicalize(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return canonicalMarshal(v)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := canonicalMarshal(t[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		buf := []byte{'['}
		for i, elem := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			eb, err := canonicalMarshal(elem)
			if err != nil {
				return nil, err
			}
			buf = append(buf, eb...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(t)
	}
}
