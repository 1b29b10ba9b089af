package registry

import (
	"strings"
)

// DifferentialDescriptionTopN bounds how many discriminating words a
// differential description carries (spec §4.8 "top-N words, original order
// preserved"), grounded on original_source/src/gateway/differential.rs's
// "the first 8 such words... form the differential description".
const DifferentialDescriptionTopN = 8

// DifferentialDescriptions computes, for each tool in a "family" sharing a
// common name prefix, a discriminating description built from words present
// in that tool's own description but absent from every sibling's
// description in the same family (spec §4.8, §8 scenario 6). Families are
// grouped by the part of the tool name before its first separator (`_`,
// `.`, `-`, or whitespace); a family of size one gets its
// description back unchanged since there is nothing to discriminate against.
func DifferentialDescriptions(tools []AggregateTool) map[string]string {
	families := groupByPrefix(tools)
	out := make(map[string]string, len(tools))

	for _, members := range families {
		if len(members) < 2 {
			for _, m := range members {
				out[m.GlobalName] = m.Tool.Description
			}
			continue
		}

		wordSets := make([]map[string]struct{}, len(members))
		for i, m := range members {
			wordSets[i] = wordSet(m.Tool.Description)
		}

		for i, m := range members {
			own := orderedWords(m.Tool.Description)
			var discriminators []string
			for _, w := range own {
				sharedByAll := true
				for j := range members {
					if j == i {
						continue
					}
					if _, present := wordSets[j][w]; present {
						sharedByAll = false
						break
					}
				}
				if sharedByAll {
					discriminators = append(discriminators, w)
					if len(discriminators) == DifferentialDescriptionTopN {
						break
					}
				}
			}
			if len(discriminators) == 0 {
				out[m.GlobalName] = m.Tool.Description
				continue
			}
			out[m.GlobalName] = strings.Join(discriminators, " ")
		}
	}
	return out
}

// groupByPrefix buckets tools by the portion of their name before the first
// separator rune, the "family" prefix referenced in spec §4.8.
func groupByPrefix(tools []AggregateTool) map[string][]AggregateTool {
	families := map[string][]AggregateTool{}
	for _, t := range tools {
		key := namePrefix(t.Tool.Name)
		families[key] = append(families[key], t)
	}
	return families
}

func namePrefix(name string) string {
	if i := strings.IndexAny(name, "_.- \t"); i > 0 {
		return name[:i]
	}
	return name
}

// stopWords are dropped before discrimination since they carry no
// distinguishing signal between family members (spec §8 scenario 6 expects
// only content words like "search"/"messages"/"query" to survive, not
// connectives like "by"/"to"/"in").
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "by": {}, "to": {}, "in": {}, "of": {},
	"for": {}, "and": {}, "or": {}, "on": {}, "with": {}, "from": {},
}

func orderedWords(description string) []string {
	fields := strings.Fields(strings.ToLower(description))
	seen := map[string]struct{}{}
	var out []string
	for _, f := range fields {
		f = strings.Trim(f, ".,:;!?\"'()")
		if f == "" {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func wordSet(description string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range orderedWords(description) {
		set[w] = struct{}{}
	}
	return set
}
