package tools

import "strings"

// MatchGlob reports whether the slash-separated path p matches pattern.
// Matching is segment-aware: "**" matches zero or more whole segments,
// "*" matches any run of characters within one segment and "?" matches
// exactly one character within a segment. Everything else is literal.
// A pattern without "/" is matched against the last segment only, so
// "*.ts" finds TypeScript files at any depth.
func MatchGlob(pattern, p string) bool {
	pattern = strings.Trim(pattern, "/")
	p = strings.Trim(p, "/")
	if pattern == "" {
		return false
	}
	if !strings.Contains(pattern, "/") && pattern != "**" {
		if i := strings.LastIndexByte(p, '/'); i >= 0 {
			p = p[i+1:]
		}
	}
	return matchSegments(strings.Split(pattern, "/"), splitPath(p))
}

func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pat, segs []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			// Collapse runs of ** and try every split point.
			for len(pat) > 0 && pat[0] == "**" {
				pat = pat[1:]
			}
			if len(pat) == 0 {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(pat, segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 || !matchSegment(pat[0], segs[0]) {
			return false
		}
		pat, segs = pat[1:], segs[1:]
	}
	return len(segs) == 0
}

// matchSegment matches one path segment against a pattern of literals,
// '*' and '?'. It is the usual two-pointer wildcard match with
// backtracking to the most recent star.
func matchSegment(pat, s string) bool {
	pr, sr := []rune(pat), []rune(s)
	pi, si := 0, 0
	star, mark := -1, 0
	for si < len(sr) {
		switch {
		case pi < len(pr) && (pr[pi] == '?' || pr[pi] == sr[si]):
			pi++
			si++
		case pi < len(pr) && pr[pi] == '*':
			star, mark = pi, si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pr) && pr[pi] == '*' {
		pi++
	}
	return pi == len(pr)
}
