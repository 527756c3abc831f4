package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/rajeevc5260/Code-Review-Helper/internal/storage"
)

const (
	defaultTreeDepth = 8
	maxTreeDepth     = 32
	defaultTreeLimit = 200
	maxTreeLimit     = 1000
)

func (r *Registry) registerTreeTools() {
	r.Register(&Tool{
		Name: "findInTree",
		Description: "Search the folder tree below a location for files or folders by name. " +
			"query matches a case-insensitive substring of the name or path; glob matches the path relative to " +
			"rootLocation (\"**\" spans folders, \"*\" and \"?\" stay within one name; a glob without \"/\" matches the name). " +
			"With both set, both must match.",
		Parameters: object(nil, map[string]any{
			"rootLocation": prop("string", "Folder to search from (default: upload root)"),
			"query":        prop("string", "Substring to look for in names and paths"),
			"glob":         prop("string", "Glob pattern such as \"**/*.ts\" or \"src/*/index.*\""),
			"maxDepth":     prop("integer", "How many folder levels to descend (default 8)"),
			"limit":        prop("integer", "Maximum matches to return (default 200)"),
		}),
		Phase:   PhaseDirectoryScan,
		Handler: typed(r.findInTree),
	})
}

type findInTreeArgs struct {
	RootLocation string  `json:"rootLocation"`
	Query        string  `json:"query"`
	Glob         string  `json:"glob"`
	MaxDepth     flexInt `json:"maxDepth"`
	Limit        flexInt `json:"limit"`
}

// TreeMatch is one entry found by findInTree.
type TreeMatch struct {
	FileID string `json:"fileId,omitempty"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	IsDir  bool   `json:"isDir"`
	Size   int64  `json:"size,omitempty"`
	Depth  int    `json:"depth"`
}

// TreeResult is the result of findInTree.
type TreeResult struct {
	RootLocation   string      `json:"rootLocation"`
	Matches        []TreeMatch `json:"matches"`
	ScannedFolders int         `json:"scannedFolders"`
	ScannedFiles   int         `json:"scannedFiles"`
	LimitReached   bool        `json:"limitReached"`
}

type queued struct {
	location string
	depth    int
}

// findInTree walks breadth-first so shallow matches are found before
// the limit is spent on deep ones.
func (r *Registry) findInTree(ctx context.Context, s *Session, a *findInTreeArgs) (any, error) {
	root, err := s.Confine(a.RootLocation)
	if err != nil {
		return nil, err
	}
	maxDepth := clamp(int(a.MaxDepth), 1, maxTreeDepth, defaultTreeDepth)
	limit := clamp(int(a.Limit), 1, maxTreeLimit, defaultTreeLimit)
	query := strings.ToLower(strings.TrimSpace(a.Query))
	glob := strings.TrimSpace(a.Glob)

	res := &TreeResult{RootLocation: root, Matches: []TreeMatch{}}
	queue := []queued{{location: root, depth: 0}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]

		listing, err := r.gw.List(ctx, cur.location, 0, 1)
		if err != nil {
			if cur.location == root {
				return nil, fmt.Errorf("list %s: %w", cur.location, err)
			}
			r.logger.Debug("skipping unreadable folder", "location", cur.location, "error", err)
			continue
		}
		res.ScannedFolders++

		for _, item := range listing.Items {
			depth := cur.depth + 1
			if item.IsDir {
				if depth < maxDepth {
					queue = append(queue, queued{location: item.Path, depth: depth})
				}
			} else {
				res.ScannedFiles++
			}

			rel := strings.TrimPrefix(strings.TrimPrefix(item.Path, root), "/")
			if !treeMatch(item, rel, query, glob) {
				continue
			}
			if len(res.Matches) >= limit {
				res.LimitReached = true
				return res, nil
			}
			res.Matches = append(res.Matches, TreeMatch{
				FileID: item.ID,
				Name:   item.Name,
				Path:   item.Path,
				IsDir:  item.IsDir,
				Size:   item.Size,
				Depth:  depth,
			})
		}
	}
	return res, nil
}

func treeMatch(item storage.Object, rel, query, glob string) bool {
	if query == "" && glob == "" {
		return !item.IsDir
	}
	if query != "" && !strings.Contains(strings.ToLower(item.Name), query) &&
		!strings.Contains(strings.ToLower(rel), query) {
		return false
	}
	if glob != "" && !MatchGlob(glob, rel) {
		return false
	}
	return true
}
