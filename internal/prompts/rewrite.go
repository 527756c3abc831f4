package prompts

import "fmt"

// RewriteSystemPrompt instructs the model performing an updateFile
// rewrite. It must answer with the file body and nothing else.
const RewriteSystemPrompt = `You rewrite source files. You will receive a file and editing instructions.
Return ONLY the complete final file body after applying the instructions.
Do not add explanations, commentary, headings or Markdown code fences.
Preserve everything the instructions do not ask you to change.`

// rewriteUserTemplate carries the file to rewrite. Format verbs:
// 1: file name, 2: instructions, 3: current file body.
const rewriteUserTemplate = `File: %s

Instructions:
%s

Current file body:
%s`

// RewriteUserPrompt returns the user turn for a file rewrite.
func RewriteUserPrompt(name, instructions, body string) string {
	return fmt.Sprintf(rewriteUserTemplate, name, instructions, body)
}
