package prompts

import (
	"fmt"
	"strings"
)

// FinalAnswerNudge is appended as a user turn when the round budget is
// exhausted and tools are withheld for one last completion.
const FinalAnswerNudge = "You have used all available tool rounds. Using only what you have already gathered, answer the question now. Do not request any more tools."

// EmptyResponseFallback is the user-facing message returned when the
// model produced nothing and no files were read either.
const EmptyResponseFallback = "I wasn't able to compose an answer from the uploaded files. Please try rephrasing the question or naming the files you are interested in."

// FileSummary describes one file read during a session, for the
// fallback answer.
type FileSummary struct {
	Name      string
	Path      string
	Bytes     int
	Truncated bool
}

// FallbackAnswer composes the answer sent when the model's reply is
// empty or unhelpful. It lists what was read so the user can see the
// agent did look, then suggests next steps. The output depends only on
// its inputs.
func FallbackAnswer(files []FileSummary) string {
	if len(files) == 0 {
		return EmptyResponseFallback
	}

	var sb strings.Builder
	sb.WriteString("I couldn't produce a complete answer, but here is what I reviewed:\n\n")
	for _, f := range files {
		label := f.Name
		if f.Path != "" && f.Path != f.Name {
			label = fmt.Sprintf("%s (`%s`)", f.Name, f.Path)
		}
		fmt.Fprintf(&sb, "- **%s**: %s", label, humanBytes(f.Bytes))
		if f.Truncated {
			sb.WriteString(", truncated")
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("\n**Next steps**\n\n")
	sb.WriteString("- Ask about one of the files above by name.\n")
	sb.WriteString("- Narrow the question to a specific function, class or behaviour.\n")
	if anyTruncated(files) {
		sb.WriteString("- Some files were only partly read; ask about a specific section of them.\n")
	}
	return sb.String()
}

func anyTruncated(files []FileSummary) bool {
	for _, f := range files {
		if f.Truncated {
			return true
		}
	}
	return false
}

func humanBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB read", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB read", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d bytes read", n)
}
