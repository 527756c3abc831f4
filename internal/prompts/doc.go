// Package prompts contains the LLM prompt templates used by the review
// agent and the document analyzer.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation and can be validated by tests.
//
// Convention: each prompt category gets its own file (system.go,
// rewrite.go, analyzer.go) with an exported function that accepts the
// dynamic parts and returns the fully interpolated prompt string.
package prompts
