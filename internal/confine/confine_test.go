package confine

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	const root = "CodeZips/abc123/myapp"

	tests := []struct {
		name      string
		candidate string
		want      string
		violation bool
	}{
		{name: "empty", candidate: "", want: root},
		{name: "unknown", candidate: "unknown", want: root},
		{name: "undefined", candidate: "undefined", want: root},
		{name: "null", candidate: "null", want: root},
		{name: "dot", candidate: ".", want: root},
		{name: "slash", candidate: "/", want: root},
		{name: "root itself", candidate: root, want: root},
		{name: "already under root", candidate: root + "/src", want: root + "/src"},
		{name: "relative", candidate: "src/main.ts", want: root + "/src/main.ts"},
		{name: "leading slash stripped", candidate: "/src", want: root + "/src"},
		{name: "dotdot staying inside", candidate: "src/../lib", want: root + "/lib"},
		{name: "prefixed dotdot staying inside", candidate: root + "/src/../lib", want: root + "/lib"},
		{name: "climb out", candidate: "../../etc", violation: true},
		{name: "prefixed climb out", candidate: root + "/../../etc", violation: true},
		{name: "sibling with shared prefix", candidate: "CodeZips/abc123/myapp2", want: root + "/CodeZips/abc123/myapp2"},
		{name: "absolute elsewhere is re-rooted", candidate: "/etc", want: root + "/etc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.candidate, root)
			if tt.violation {
				if !errors.Is(err, ErrViolation) {
					t.Fatalf("Normalize(%q) err = %v, want ErrViolation", tt.candidate, err)
				}
				var ve *ViolationError
				if !errors.As(err, &ve) || ve.Root != root {
					t.Errorf("expected *ViolationError with root, got %#v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q) unexpected error: %v", tt.candidate, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.candidate, got, tt.want)
			}
		})
	}
}

func TestNormalize_ResultAlwaysWithinRoot(t *testing.T) {
	roots := []string{"CodeZips/abc123/myapp", "/root/abc"}
	candidates := []string{"", "a", "/a/b", "../x", "a/../../b", "./a/./b", "a//b", "..", "/..", "a/b/../../..", "null"}

	for _, root := range roots {
		for _, c := range candidates {
			got, err := Normalize(c, root)
			if err != nil {
				if !errors.Is(err, ErrViolation) {
					t.Errorf("Normalize(%q, %q) returned non-violation error %v", c, root, err)
				}
				continue
			}
			if !Within(got, root) {
				t.Errorf("Normalize(%q, %q) = %q escapes root", c, root, got)
			}
		}
	}
}

func TestNormalize_LeadingSlashRoot(t *testing.T) {
	const root = "/CodeZips/abc123/myapp"

	tests := []struct {
		candidate string
		want      string
	}{
		{"", "CodeZips/abc123/myapp"},
		{"src", "CodeZips/abc123/myapp/src"},
		{"CodeZips/abc123/myapp/src", "CodeZips/abc123/myapp/src"},
		{"/CodeZips/abc123/myapp/src", "CodeZips/abc123/myapp/src"},
		{"src/../etc", "CodeZips/abc123/myapp/etc"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.candidate, root)
		if err != nil || got != tt.want {
			t.Errorf("Normalize(%q, %q) = %q, %v; want %q", tt.candidate, root, got, err, tt.want)
		}
	}

	_, err := Normalize("../../etc", "/root/abc")
	var ve *ViolationError
	if !errors.As(err, &ve) {
		t.Fatalf("Normalize(../../etc) err = %v, want violation", err)
	}
	if ve.Root != "root/abc" {
		t.Errorf("violation root = %q, want root/abc", ve.Root)
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		p, root string
		want    bool
	}{
		{"CodeZips/abc123/myapp/src/main.ts", "/CodeZips/abc123/myapp", true},
		{"/CodeZips/abc123/myapp", "CodeZips/abc123/myapp/", true},
		{"CodeZips/abc123/myapp2/main.ts", "CodeZips/abc123/myapp", false},
		{"CodeZips/abc123/myapp/../other", "CodeZips/abc123/myapp", false},
	}
	for _, tt := range tests {
		if got := Within(tt.p, tt.root); got != tt.want {
			t.Errorf("Within(%q, %q) = %v, want %v", tt.p, tt.root, got, tt.want)
		}
	}
}

func TestCleanRoot(t *testing.T) {
	for in, want := range map[string]string{
		"CodeZips/abc123/myapp":    "CodeZips/abc123/myapp",
		"/CodeZips/abc123/myapp/":  "CodeZips/abc123/myapp",
		" //CodeZips//abc123/./x ": "CodeZips/abc123/x",
	} {
		if got := CleanRoot(in); got != want {
			t.Errorf("CleanRoot(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidate(t *testing.T) {
	for _, root := range []string{"", "unknown", " Unknown ", "null", "/", ".", "//", "/./"} {
		if err := Validate(root); !errors.Is(err, ErrNoRoot) {
			t.Errorf("Validate(%q) = %v, want ErrNoRoot", root, err)
		}
	}
	if err := Validate("CodeZips/abc123/myapp"); err != nil {
		t.Errorf("Validate(valid) = %v", err)
	}
	if _, err := Normalize("src", "unknown"); !errors.Is(err, ErrNoRoot) {
		t.Errorf("Normalize with sentinel root = %v, want ErrNoRoot", err)
	}
}
