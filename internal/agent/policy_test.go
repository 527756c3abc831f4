package agent

import (
	"strings"
	"testing"
)

func TestIsUnhelpful(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   bool
	}{
		{name: "empty", answer: "", want: true},
		{name: "whitespace", answer: " \n\t ", want: true},
		{name: "too short", answer: "ok", want: true},
		{name: "short after trim", answer: "   nineteen chars!!   ", want: true},
		{name: "exactly minimum", answer: strings.Repeat("a", minHelpfulLength), want: false},
		{name: "runes not bytes", answer: strings.Repeat("é", minHelpfulLength-1), want: true},
		{name: "refusal", answer: "Sorry, I cannot answer that question right now.", want: true},
		{name: "refusal contraction", answer: "I can't help with that request, unfortunately.", want: true},
		{name: "refusal case", answer: "The file is NOT AVAILABLE TO ME in this upload.", want: true},
		{name: "access refusal", answer: "I was unable to access the repository contents.", want: true},
		{name: "real answer", answer: "The entrypoint src/main.ts imports util and logs its result.", want: false},
		{name: "mentions help", answer: "The helper in util.ts can help callers compute 42.", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnhelpful(tt.answer); got != tt.want {
				t.Errorf("IsUnhelpful(%q) = %v, want %v", tt.answer, got, tt.want)
			}
		})
	}
}

func TestStripPaths(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "relative path", in: "See src/app/main.ts for details.", want: "See main.ts for details."},
		{name: "url", in: "Open https://example.com/files/report.pdf now", want: "Open report.pdf now"},
		{name: "backslashes", in: `in src\lib\util.ts [2]`, want: "in util.ts [2]"},
		{name: "several", in: "[1] a/b.go and c/d/e.go", want: "[1] b.go and e.go"},
		{name: "bare name kept", in: "main.ts calls util()", want: "main.ts calls util()"},
		{name: "no extension kept", in: "read and/or write", want: "read and/or write"},
		{name: "dotted names", in: "configs/app.config.json", want: "app.config.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripPaths(tt.in); got != tt.want {
				t.Errorf("StripPaths(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
