package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/rajeevc5260/Code-Review-Helper/internal/search"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

func (r *Registry) registerSearchTools() {
	r.Register(&Tool{
		Name: "searchContent",
		Description: "Semantic search over the text of every file in this upload. Returns the best matching snippets " +
			"with their file names. Use it to find where something is implemented before reading whole files.",
		Parameters: object([]string{"query"}, map[string]any{
			"query": prop("string", "What to look for, in natural language or as code identifiers"),
			"limit": prop("integer", "Maximum snippets to return (default 10)"),
		}),
		Phase:   PhaseFileAnalysis,
		Handler: typed(r.searchContent),
	})
}

type searchContentArgs struct {
	Query string  `json:"query"`
	Limit flexInt `json:"limit"`
}

func (a *searchContentArgs) validate() error {
	if strings.TrimSpace(a.Query) == "" {
		return argError("query", "required")
	}
	return nil
}

// SearchResult is the result of searchContent.
type SearchResult struct {
	Query   string         `json:"query"`
	Matches []search.Match `json:"matches"`
}

func (r *Registry) searchContent(ctx context.Context, s *Session, a *searchContentArgs) (any, error) {
	if s.SubjectID == "" {
		return nil, fmt.Errorf("searchContent: session has no subject to search")
	}
	limit := clamp(int(a.Limit), 1, maxSearchLimit, defaultSearchLimit)

	res, err := r.search.Search(ctx, s.SubjectID, a.Query, search.Options{
		Awareness: true,
		ReRanking: true,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", a.Query, err)
	}
	return &SearchResult{
		Query:   a.Query,
		Matches: search.Rescore(a.Query, res.Matches, limit),
	}, nil
}
