package tools

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// maxPreviewLines bounds the changed-line preview in a DiffSummary.
const maxPreviewLines = 40

// DiffSummary describes how updateFile changed a file.
type DiffSummary struct {
	LinesAdded   int      `json:"linesAdded"`
	LinesRemoved int      `json:"linesRemoved"`
	CharsAdded   int      `json:"charsAdded"`
	CharsRemoved int      `json:"charsRemoved"`
	Preview      []string `json:"preview,omitempty"`
	PreviewCut   bool     `json:"previewTruncated,omitempty"`
}

func summarizeDiff(before, after string) DiffSummary {
	var sum DiffSummary
	dmp := diffmatchpatch.New()

	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			continue
		}
		lines := strings.Split(d.Text, "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		prefix := "+ "
		if d.Type == diffmatchpatch.DiffDelete {
			prefix = "- "
			sum.LinesRemoved += len(lines)
		} else {
			sum.LinesAdded += len(lines)
		}
		for _, l := range lines {
			if len(sum.Preview) >= maxPreviewLines {
				sum.PreviewCut = true
				break
			}
			sum.Preview = append(sum.Preview, prefix+l)
		}
	}

	chars := dmp.DiffMain(before, after, false)
	chars = dmp.DiffCleanupSemantic(chars)
	for _, d := range chars {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			sum.CharsAdded += len([]rune(d.Text))
		case diffmatchpatch.DiffDelete:
			sum.CharsRemoved += len([]rune(d.Text))
		}
	}
	return sum
}
