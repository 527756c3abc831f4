package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rajeevc5260/Code-Review-Helper/internal/httpkit"
)

// HTTPProvider talks to a content search service over JSON:
//
//	POST {base}/search  {"namespace","query","limit","awareness","reRanking"}
//
// and expects a [Result] body in reply.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPProvider creates a provider for the service at baseURL.
func NewHTTPProvider(baseURL, apiKey string, logger *slog.Logger) *HTTPProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger.With("component", "search"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, 500*time.Millisecond),
		),
	}
}

func (p *HTTPProvider) Name() string { return "http" }

type searchRequest struct {
	Namespace string `json:"namespace"`
	Query     string `json:"query"`
	Options
}

// Search posts the query and decodes the ranked result.
func (p *HTTPProvider) Search(ctx context.Context, namespace, query string, opts Options) (*Result, error) {
	body, err := json.Marshal(searchRequest{Namespace: namespace, Query: query, Options: opts})
	if err != nil {
		return nil, fmt.Errorf("search: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("search: HTTP %d: %s", resp.StatusCode, errBody)
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}

	// Some backends only fill the grouped view.
	if len(out.Matches) == 0 {
		for _, f := range out.Files {
			for _, m := range f.Matches {
				if m.FileName == "" {
					m.FileName = f.FileName
				}
				if m.FileID == "" {
					m.FileID = f.FileID
				}
				if m.Path == "" {
					m.Path = f.Path
				}
				out.Matches = append(out.Matches, m)
			}
		}
	}

	p.logger.Debug("search complete",
		"namespace", namespace,
		"files", len(out.Files),
		"matches", len(out.Matches),
		"elapsed", time.Since(start),
	)
	return &out, nil
}
