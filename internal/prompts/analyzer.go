package prompts

import (
	"fmt"
	"strings"
)

// AnalyzerSystemPrompt frames single-shot document analysis.
const AnalyzerSystemPrompt = `You answer questions about a set of uploaded documents using only the numbered
evidence snippets provided. Follow these rules:
- Refer to documents by their bare file name only (for example "main.ts"),
  never by directory path or URL.
- Support each claim with the bracketed index of the snippet it comes from,
  for example [1] or [2][3].
- If the snippets do not contain the answer, say so plainly.
- Reply in Markdown.`

// Snippet is one numbered piece of evidence for the analyzer.
type Snippet struct {
	FileName string
	Text     string
}

// AnalyzerUserPrompt lays out the question followed by numbered
// evidence. Indices start at 1 and match the [n] citations requested
// by AnalyzerSystemPrompt.
func AnalyzerUserPrompt(question string, snippets []Snippet) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nEvidence:\n", question)
	if len(snippets) == 0 {
		sb.WriteString("(no matching snippets were found)\n")
	}
	for i, s := range snippets {
		fmt.Fprintf(&sb, "\n[%d] %s\n%s\n", i+1, s.FileName, s.Text)
	}
	return sb.String()
}
