package agent

import (
	"regexp"
	"strings"
)

// minHelpfulLength is the shortest trimmed answer accepted as-is.
const minHelpfulLength = 20

var refusalPattern = regexp.MustCompile(`(?i)\b(cannot answer|can't answer|cannot fulfill|can't fulfill|can't help|cannot help|not available to me|unable to access)\b`)

// UnhelpfulFunc decides whether a final answer should be replaced by the
// fallback summary.
type UnhelpfulFunc func(answer string) bool

// IsUnhelpful is the default policy: near-empty answers and refusals.
func IsUnhelpful(answer string) bool {
	a := strings.TrimSpace(answer)
	if len([]rune(a)) < minHelpfulLength {
		return true
	}
	return refusalPattern.MatchString(a)
}
