// Package limiter implements the sliding-window rate limiter: path-rule
// resolution plus a call into the state store's atomic admit.
package limiter

import "strings"

// MatchPath reports whether pattern matches path using glob-style segment
// semantics: "*" matches exactly one path segment, "**" matches any number
// of segments including zero. No regex is exposed to configuration; this is
// a small hand-written matcher because filepath.Match has no multi-segment
// wildcard (see DESIGN.md).
func MatchPath(pattern, path string) bool {
	return matchSegments(splitPath(pattern), splitPath(path))
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}

	head := pattern[0]
	if head == "**" {
		if matchSegments(pattern[1:], path) {
			return true
		}
		if len(path) == 0 {
			return false
		}
		return matchSegments(pattern, path[1:])
	}

	if len(path) == 0 {
		return false
	}
	if head == "*" || head == path[0] {
		return matchSegments(pattern[1:], path[1:])
	}
	return false
}
