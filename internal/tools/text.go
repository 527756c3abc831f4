package tools

import (
	"path"
	"strings"
	"unicode/utf8"
)

// textExtensions are the file extensions readFileText will decode.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true, ".adoc": true,
	".go": true, ".mod": true, ".sum": true,
	".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
	".vue": true, ".svelte": true, ".astro": true,
	".json": true, ".jsonc": true, ".yaml": true, ".yml": true, ".toml": true,
	".ini": true, ".cfg": true, ".conf": true, ".properties": true, ".env": true,
	".xml": true, ".html": true, ".htm": true, ".css": true, ".scss": true, ".sass": true, ".less": true,
	".py": true, ".rb": true, ".php": true, ".pl": true, ".lua": true, ".r": true,
	".java": true, ".kt": true, ".kts": true, ".scala": true, ".groovy": true, ".gradle": true,
	".c": true, ".h": true, ".cc": true, ".cpp": true, ".hpp": true, ".cs": true,
	".rs": true, ".swift": true, ".m": true, ".dart": true, ".ex": true, ".exs": true,
	".sh": true, ".bash": true, ".zsh": true, ".fish": true, ".ps1": true, ".bat": true,
	".sql": true, ".graphql": true, ".gql": true, ".proto": true,
	".csv": true, ".tsv": true, ".log": true, ".lock": true,
	".tf": true, ".hcl": true, ".dockerfile": true, ".gitignore": true, ".editorconfig": true,
}

// textNames are extensionless files that are conventionally text.
var textNames = map[string]bool{
	"dockerfile": true, "makefile": true, "license": true, "readme": true,
	"changelog": true, "procfile": true, "gemfile": true, "rakefile": true,
	"jenkinsfile": true, "vagrantfile": true, "codeowners": true,
}

// IsTextFile reports whether name looks like a text file by extension
// or well-known name.
func IsTextFile(name string) bool {
	base := strings.ToLower(path.Base(name))
	if textNames[base] {
		return true
	}
	ext := path.Ext(base)
	if ext == "" && strings.HasPrefix(base, ".") {
		ext = base
	}
	return textExtensions[ext]
}

// decodeText turns downloaded bytes into valid UTF-8. When the data was
// cut at a byte budget, a partial trailing rune is dropped rather than
// replaced; any other invalid sequence becomes U+FFFD.
func decodeText(data []byte, truncated bool) string {
	if truncated {
		data = trimPartialRune(data)
	}
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}

func trimPartialRune(b []byte) []byte {
	// A rune is at most utf8.UTFMax bytes; only the tail can be partial.
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if !utf8.RuneStart(c) {
			continue
		}
		if !utf8.FullRune(b[len(b)-i:]) {
			return b[:len(b)-i]
		}
		break
	}
	return b
}

// stripFences removes a Markdown code fence wrapped around the whole
// body, as models often add one despite instructions.
func stripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	nl := strings.IndexByte(t, '\n')
	if nl < 0 {
		return ""
	}
	body := t[nl+1:]
	if end := strings.LastIndex(body, "```"); end >= 0 && strings.TrimSpace(body[end+3:]) == "" {
		body = body[:end]
	}
	return strings.TrimRight(body, " \t\n") + "\n"
}
