package search

import (
	"io"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// PlainText reduces a snippet that may carry highlight markup (<em>,
// <mark>, <b>) to plain text with collapsed whitespace. Entities are
// decoded.
func PlainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapseSpace(s)
	}
	tokenizer := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if tokenizer.Err() != io.EOF {
				// Unparseable tail; keep what was recovered.
				b.Write(tokenizer.Raw())
			}
			return collapseSpace(b.String())
		case html.TextToken:
			b.Write(tokenizer.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			if isBreak(string(name)) {
				b.WriteByte(' ')
			}
		}
	}
}

func isBreak(tag string) bool {
	switch tag {
	case "br", "p", "div", "li", "tr", "td", "pre":
		return true
	}
	return false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Tokens splits s into lower-cased word tokens of two or more letters
// or digits.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

// Overlap is the fraction of distinct query tokens present in text.
func Overlap(query, text string) float64 {
	q := Tokens(query)
	if len(q) == 0 {
		return 0
	}
	have := make(map[string]bool)
	for _, t := range Tokens(text) {
		have[t] = true
	}
	seen := make(map[string]bool)
	hits := 0
	for _, t := range q {
		if seen[t] {
			continue
		}
		seen[t] = true
		if have[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(seen))
}

// Rescore strips markup from each match, blends the backend score with
// local token overlap against query, and returns the matches ordered by
// the blended score. At most limit matches are kept when limit > 0.
// Matches with empty text after stripping are dropped.
func Rescore(query string, matches []Match, limit int) []Match {
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		m.Text = PlainText(m.Text)
		if m.Text == "" {
			continue
		}
		m.Score = 0.5*clamp01(m.Score) + 0.5*Overlap(query, m.FileName+" "+m.Text)
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
