// Package authz implements the access-control stack of spec §4.7: transport
// identity, credential resolution, rate limiting, backend/tool/profile
// scopes, global tool policy, and mTLS policy rules.
package authz

import "strings"

// Matches implements the three name-matching forms spec §4.7.5 and §8 call
// for: exact names, "server:tool" qualified names (handled by callers that
// pass the qualified string as name), and "prefix*" globs. A pattern is a
// glob only if it ends in "*"; anything else must match exactly.
func Matches(pattern, name string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == name
}

// MatchesAny reports whether name matches any of patterns.
func MatchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if Matches(p, name) {
			return true
		}
	}
	return false
}

// QualifiedName builds the "server:tool" form used for scope matching.
func QualifiedName(backend, tool string) string {
	return backend + ":" + tool
}
