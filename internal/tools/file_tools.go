package tools

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rajeevc5260/Code-Review-Helper/internal/llm"
	"github.com/rajeevc5260/Code-Review-Helper/internal/prompts"
	"github.com/rajeevc5260/Code-Review-Helper/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100

	// hardReadMax caps a model-supplied maxBytes.
	hardReadMax = 4 << 20

	// readLinkTTL is the lifetime of the internal link readFileText
	// downloads through.
	readLinkTTL = 5 * time.Minute

	defaultLinkExpiry = 15 * time.Minute
)

func (r *Registry) registerFileTools() {
	r.Register(&Tool{
		Name: "listFiles",
		Description: "List the immediate children (files and folders) of a storage location inside the upload. " +
			"Results are paged. Folders have no fileId; pass their path as the next location.",
		Parameters: object([]string{"location"}, map[string]any{
			"location": prop("string", "Folder to list, relative to or under the upload root. Empty lists the root."),
			"limit":    prop("integer", "Items per page, 1-100 (default 50)"),
			"page":     prop("integer", "Page number starting at 1 (default 1)"),
		}),
		Phase:   PhaseDirectoryScan,
		Handler: typed(r.listFiles),
	})

	r.Register(&Tool{
		Name: "readFileText",
		Description: "Read the text content of a file. Binary files are skipped. " +
			"Large files are truncated at maxBytes and flagged as truncated.",
		Parameters: object([]string{"fileId", "name"}, map[string]any{
			"fileId":   prop("string", "The fileId returned by listFiles or findInTree"),
			"name":     prop("string", "The file name, used to decide whether it is text"),
			"maxBytes": prop("integer", "Maximum bytes to read (default 524288)"),
		}),
		Phase:   PhaseFileAccess,
		Handler: typed(r.readFileText),
	})

	r.Register(&Tool{
		Name:        "getDownloadUrl",
		Description: "Create a temporary download link for a file, for the user to open.",
		Parameters: object([]string{"fileId"}, map[string]any{
			"fileId": prop("string", "The fileId to link to"),
			"expiry": prop("string", "Link lifetime as a duration such as \"30m\" or a number of seconds. Default 15m, maximum 24h."),
		}),
		Phase:   PhaseFileAccess,
		Handler: typed(r.getDownloadURL),
	})

	r.Register(&Tool{
		Name: "updateFile",
		Description: "Rewrite a text file according to instructions. The file is replaced in place under the same name " +
			"and receives a new fileId. Only use this when the user asks for a change.",
		Parameters: object([]string{"fileId", "name", "instructions"}, map[string]any{
			"fileId":       prop("string", "The fileId of the file to change"),
			"name":         prop("string", "The file name"),
			"location":     prop("string", "Folder holding the file (defaults to the file's current folder)"),
			"instructions": prop("string", "What to change, in plain language"),
		}),
		Phase:   PhaseFileUpdate,
		Handler: typed(r.updateFile),
	})
}

type listFilesArgs struct {
	Location string  `json:"location"`
	Limit    flexInt `json:"limit"`
	Page     flexInt `json:"page"`
}

func (r *Registry) listFiles(ctx context.Context, s *Session, a *listFilesArgs) (any, error) {
	loc, err := s.Confine(a.Location)
	if err != nil {
		return nil, err
	}
	limit := clamp(int(a.Limit), 1, maxListLimit, defaultListLimit)
	page := max(int(a.Page), 1)

	listing, err := r.gw.List(ctx, loc, limit, page)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", loc, err)
	}
	return listing, nil
}

type readFileArgs struct {
	FileID   string  `json:"fileId"`
	Name     string  `json:"name"`
	MaxBytes flexInt `json:"maxBytes"`
}

func (a *readFileArgs) validate() error {
	if strings.TrimSpace(a.FileID) == "" {
		return argError("fileId", "required")
	}
	if a.MaxBytes < 0 {
		return argError("maxBytes", "must be positive")
	}
	return nil
}

// ReadResult is the result of readFileText.
type ReadResult struct {
	FileID    string `json:"fileId"`
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
	Reason    string `json:"reason,omitempty"`
	BytesRead int    `json:"bytesRead"`
	Size      int64  `json:"size,omitempty"`
	Truncated bool   `json:"truncated"`
	Text      string `json:"text,omitempty"`
}

func (r *Registry) readFileText(ctx context.Context, s *Session, a *readFileArgs) (any, error) {
	p, err := s.ConfineFile(a.FileID)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(a.Name)
	if name == "" {
		name = path.Base(p)
	}

	if !IsTextFile(name) {
		return &ReadResult{
			FileID:  a.FileID,
			Name:    name,
			Path:    p,
			Skipped: true,
			Reason:  fmt.Sprintf("not a text file (%s)", extLabel(name)),
		}, nil
	}

	maxBytes := r.readMax
	if a.MaxBytes > 0 {
		maxBytes = min(int64(a.MaxBytes), hardReadMax)
	}

	text, content, err := r.fetchText(ctx, a.FileID, maxBytes)
	if err != nil {
		return nil, err
	}

	s.AddGathered(GatheredFile{
		FileID:    a.FileID,
		Name:      name,
		Path:      p,
		BytesRead: len(content.Data),
		Truncated: content.Truncated,
		Text:      text,
	})

	return &ReadResult{
		FileID:    a.FileID,
		Name:      name,
		Path:      p,
		BytesRead: len(content.Data),
		Size:      content.Size,
		Truncated: content.Truncated,
		Text:      text,
	}, nil
}

// fetchText signs a short-lived link and downloads through it, the same
// path an external client would take.
func (r *Registry) fetchText(ctx context.Context, fileID string, maxBytes int64) (string, *storage.Content, error) {
	link, err := r.gw.DownloadURL(ctx, fileID, readLinkTTL)
	if err != nil {
		return "", nil, fmt.Errorf("link %s: %w", fileID, err)
	}
	content, err := r.gw.Download(ctx, link.URL, maxBytes)
	if err != nil {
		return "", nil, fmt.Errorf("download %s: %w", fileID, err)
	}
	return decodeText(content.Data, content.Truncated), content, nil
}

func extLabel(name string) string {
	if ext := path.Ext(name); ext != "" {
		return ext
	}
	return "no extension"
}

type downloadURLArgs struct {
	FileID string       `json:"fileId"`
	Expiry flexDuration `json:"expiry"`
}

func (a *downloadURLArgs) validate() error {
	if strings.TrimSpace(a.FileID) == "" {
		return argError("fileId", "required")
	}
	if a.Expiry < 0 {
		return argError("expiry", "must be positive")
	}
	return nil
}

func (r *Registry) getDownloadURL(ctx context.Context, _ *Session, a *downloadURLArgs) (any, error) {
	expiry := time.Duration(a.Expiry)
	if expiry == 0 {
		expiry = defaultLinkExpiry
	}
	expiry = min(expiry, storage.MaxLinkExpiry)

	link, err := r.gw.DownloadURL(ctx, a.FileID, expiry)
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", a.FileID, err)
	}
	return link, nil
}

type updateFileArgs struct {
	FileID       string `json:"fileId"`
	Name         string `json:"name"`
	Location     string `json:"location"`
	Instructions string `json:"instructions"`
}

func (a *updateFileArgs) validate() error {
	if strings.TrimSpace(a.FileID) == "" {
		return argError("fileId", "required")
	}
	if strings.TrimSpace(a.Instructions) == "" {
		return argError("instructions", "required")
	}
	return nil
}

// UpdateResult is the result of updateFile.
type UpdateResult struct {
	FileID         string      `json:"fileId"`
	PreviousFileID string      `json:"previousFileId"`
	Name           string      `json:"name"`
	Location       string      `json:"location"`
	Bytes          int         `json:"bytes"`
	Diff           DiffSummary `json:"diff"`
}

func (r *Registry) updateFile(ctx context.Context, s *Session, a *updateFileArgs) (any, error) {
	if r.llm == nil || r.model == "" {
		return nil, fmt.Errorf("updateFile: no model configured for rewrites")
	}

	p, err := s.ConfineFile(a.FileID)
	if err != nil {
		return nil, err
	}
	// The rewrite replaces the file in place; name and location only
	// confirm which file the model means.
	loc, name := path.Dir(p), path.Base(p)
	if strings.TrimSpace(a.Location) != "" {
		want, err := s.Confine(a.Location)
		if err != nil {
			return nil, err
		}
		if want != loc {
			return nil, argError("location", "%s is not the location of the file (%s)", want, loc)
		}
	}
	if n := strings.TrimSpace(a.Name); n != "" && path.Base(n) != name {
		return nil, argError("name", "%s does not match the file name %s", n, name)
	}
	if !IsTextFile(name) {
		return nil, argError("name", "%s is not a text file", name)
	}

	before, content, err := r.fetchText(ctx, a.FileID, r.readMax)
	if err != nil {
		return nil, err
	}
	if content.Truncated {
		return nil, fmt.Errorf("%s is larger than %d bytes; refusing a partial rewrite", name, r.readMax)
	}

	resp, err := r.llm.Chat(ctx, r.model, []llm.Message{
		{Role: llm.RoleSystem, Content: prompts.RewriteSystemPrompt},
		{Role: llm.RoleUser, Content: prompts.RewriteUserPrompt(name, a.Instructions, before)},
	}, nil, llm.Options{ToolChoice: llm.ToolChoiceNone})
	if err != nil {
		return nil, fmt.Errorf("rewrite %s: %w", name, err)
	}

	after := stripFences(resp.Message.Content)
	if strings.TrimSpace(after) == "" {
		return nil, fmt.Errorf("rewrite %s: model returned an empty file body; original left unchanged", name)
	}
	if strings.HasSuffix(before, "\n") && !strings.HasSuffix(after, "\n") {
		after += "\n"
	}

	if err := r.gw.Delete(ctx, a.FileID); err != nil {
		return nil, fmt.Errorf("delete %s: %w", p, err)
	}
	obj, err := r.gw.Upload(ctx, loc, name, []byte(after))
	if err != nil {
		r.logger.Error("upload after delete failed; file is missing",
			"path", p, "location", loc, "error", err)
		return nil, fmt.Errorf("upload %s/%s (original already deleted): %w", loc, name, err)
	}
	s.markUpdated(obj.Path)

	r.logger.Info("file rewritten", "path", obj.Path, "bytes", len(after))

	return &UpdateResult{
		FileID:         obj.ID,
		PreviousFileID: a.FileID,
		Name:           name,
		Location:       loc,
		Bytes:          len(after),
		Diff:           summarizeDiff(before, after),
	}, nil
}
