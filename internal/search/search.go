// Package search is the content search client used by the searchContent
// tool and the document analyzer. A backend indexes uploaded files per
// namespace (the upload's subject id) and returns ranked text matches.
//
// Each backend implements the [Provider] interface. The [Manager]
// selects the configured backend by name.
package search

import (
	"context"
	"fmt"
)

// Match is one snippet of a file that matched a query.
type Match struct {
	FileID   string  `json:"fileId,omitempty"`
	FileName string  `json:"fileName"`
	Path     string  `json:"path,omitempty"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}

// FileHit groups the matches found in one file.
type FileHit struct {
	FileID   string  `json:"fileId,omitempty"`
	FileName string  `json:"fileName"`
	Path     string  `json:"path,omitempty"`
	Matches  []Match `json:"matches"`
}

// Result carries both views a backend returns: matches grouped by file
// and the same matches as one flat ranked list.
type Result struct {
	Files   []FileHit `json:"files"`
	Matches []Match   `json:"matches"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Awareness asks the backend to widen snippets with surrounding
	// context from the same document.
	Awareness bool `json:"awareness"`

	// ReRanking asks the backend to re-rank candidates with its own
	// model before returning them.
	ReRanking bool `json:"reRanking"`

	// Limit is the maximum number of matches. Zero means backend default.
	Limit int `json:"limit,omitempty"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Search runs query within namespace.
	Search(ctx context.Context, namespace, query string, opts Options) (*Result, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	primary   string
}

// NewManager creates a search manager. The primary provider name
// determines which backend is used by default.
func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
	}
}

// Register adds a provider to the manager.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Name reports the primary provider name, so a Manager is itself a Provider.
func (m *Manager) Name() string { return m.primary }

// Search runs a query against the primary provider.
func (m *Manager) Search(ctx context.Context, namespace, query string, opts Options) (*Result, error) {
	p, ok := m.providers[m.primary]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", m.primary)
	}
	return p.Search(ctx, namespace, query, opts)
}

// Configured reports whether the primary provider is registered.
func (m *Manager) Configured() bool {
	_, ok := m.providers[m.primary]
	return ok
}
