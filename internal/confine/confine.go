// Package confine keeps tool-supplied storage locations inside the
// session root. The check is lexical and advisory; it does not stand in
// for access control in the object store itself.
package confine

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrViolation matches every [ViolationError] via errors.Is.
var ErrViolation = errors.New("path outside session root")

// ErrNoRoot is returned by [Validate] for a missing or placeholder root.
var ErrNoRoot = errors.New("session root is not set")

// ViolationError reports a candidate location that resolves outside the
// session root.
type ViolationError struct {
	Candidate string
	Root      string
	Resolved  string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("location %q resolves to %q, outside session root %q", e.Candidate, e.Resolved, e.Root)
}

// Is makes errors.Is(err, ErrViolation) succeed.
func (e *ViolationError) Is(target error) bool { return target == ErrViolation }

// sentinels are placeholder values models emit when they mean "the
// root" or have nothing better to say.
var sentinels = map[string]bool{
	"":          true,
	"unknown":   true,
	"undefined": true,
	"null":      true,
	".":         true,
	"/":         true,
}

// IsSentinel reports whether s is empty or a placeholder location.
func IsSentinel(s string) bool {
	return sentinels[strings.ToLower(strings.TrimSpace(s))]
}

// Validate rejects roots that cannot anchor a session.
func Validate(root string) error {
	if IsSentinel(root) || CleanRoot(root) == "" {
		return ErrNoRoot
	}
	return nil
}

// CleanRoot returns root in the form the object store uses for
// locations: cleaned, with no leading or trailing "/".
func CleanRoot(root string) string {
	return strings.Trim(path.Clean("/"+strings.TrimSpace(root)), "/")
}

// Normalize maps a candidate location onto root.
//
// Locations are object-store relative, so a leading "/" on either side
// is ignored. Sentinels resolve to root. A candidate already equal to
// root, or prefixed by root + "/", is kept. Anything else is treated as
// relative to root. The result is cleaned lexically, and a result that
// is not root or below it is rejected with a *ViolationError. ".."
// segments that climb above root are never clamped.
func Normalize(candidate, root string) (string, error) {
	if err := Validate(root); err != nil {
		return "", err
	}
	root = CleanRoot(root)

	c := strings.TrimSpace(candidate)
	if IsSentinel(c) {
		return root, nil
	}
	c = strings.TrimLeft(c, "/")

	joined := c
	if c != root && !strings.HasPrefix(c, root+"/") {
		joined = root + "/" + c
	}

	resolved := path.Clean(joined)
	if !Within(resolved, root) {
		return "", &ViolationError{Candidate: candidate, Root: root, Resolved: resolved}
	}
	return resolved, nil
}

// Within reports whether p is root or a descendant of root. Both are
// compared after lexical cleaning, without a leading "/".
func Within(p, root string) bool {
	root = CleanRoot(root)
	p = strings.TrimLeft(path.Clean(p), "/")
	return p == root || strings.HasPrefix(p, root+"/")
}
