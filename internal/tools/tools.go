// Package tools defines the tools the review agent can call against an
// uploaded file tree, and the registry that dispatches them.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rajeevc5260/Code-Review-Helper/internal/llm"
	"github.com/rajeevc5260/Code-Review-Helper/internal/search"
	"github.com/rajeevc5260/Code-Review-Helper/internal/storage"
)

// Stream phases a tool reports progress under.
const (
	PhaseDirectoryScan = "directory_scan"
	PhaseFileAccess    = "file_access"
	PhaseFileUpdate    = "file_update"
	PhaseFileAnalysis  = "file_analysis"
)

// Handler executes a tool call. The returned value is marshaled to JSON
// and fed back to the model.
type Handler func(ctx context.Context, s *Session, args map[string]any) (any, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Phase       string         `json:"phase"`
	Handler     Handler        `json:"-"`
}

// Deps are the collaborators the built-in tools need.
type Deps struct {
	Gateway storage.Gateway
	LLM     llm.Client
	Model   string

	// Search enables searchContent when non-nil.
	Search search.Provider

	// ReadMaxBytes is the default readFileText budget. Zero selects
	// DefaultReadMaxBytes.
	ReadMaxBytes int64

	Logger *slog.Logger
}

// DefaultReadMaxBytes is the readFileText budget when none is configured.
const DefaultReadMaxBytes = 512 * 1024

// Registry holds available tools.
type Registry struct {
	tools   map[string]*Tool
	gw      storage.Gateway
	llm     llm.Client
	model   string
	search  search.Provider
	readMax int64
	logger  *slog.Logger
}

// NewRegistry creates a registry with the review tools registered.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ReadMaxBytes <= 0 {
		deps.ReadMaxBytes = DefaultReadMaxBytes
	}
	r := &Registry{
		tools:   make(map[string]*Tool),
		gw:      deps.Gateway,
		llm:     deps.LLM,
		model:   deps.Model,
		search:  deps.Search,
		readMax: deps.ReadMaxBytes,
		logger:  deps.Logger.With("component", "tools"),
	}
	r.registerFileTools()
	r.registerTreeTools()
	if r.search != nil {
		r.registerSearchTools()
	}
	return r
}

// Ready reports whether the registry has a storage gateway to act on.
func (r *Registry) Ready() bool {
	return r != nil && r.gw != nil
}

// Register adds a tool to the registry, replacing any tool of the same name.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all tools for the LLM in OpenAI function format, sorted
// by name so prompts are stable across runs.
func (r *Registry) List() []map[string]any {
	result := make([]map[string]any, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Phase returns the stream phase of a tool, or "tool" for unknown names.
func (r *Registry) Phase(name string) string {
	if t := r.tools[name]; t != nil && t.Phase != "" {
		return t.Phase
	}
	return "tool"
}

// Execute runs a tool by name and returns its JSON-encoded result.
// Unknown names yield *ErrToolUnavailable; bad arguments yield
// *ArgumentError. Every call, failed or not, is recorded on s.
func (r *Registry) Execute(ctx context.Context, s *Session, name string, args map[string]any) (result string, err error) {
	start := time.Now()
	defer func() { s.Record(name, args, err, time.Since(start)) }()

	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	out, err := tool.Handler(ctx, s, args)
	if err != nil {
		var ae *ArgumentError
		if errors.As(err, &ae) && ae.Tool == "" {
			ae.Tool = name
		}
		r.logger.Debug("tool failed", "tool", name, "error", err, "elapsed", time.Since(start))
		return "", err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("%s: marshal result: %w", name, err)
	}
	r.logger.Debug("tool complete", "tool", name, "bytes", len(data), "elapsed", time.Since(start))
	return string(data), nil
}

// validator is implemented by argument structs with constraints beyond
// their JSON shape.
type validator interface {
	validate() error
}

// typed adapts a handler over a decoded argument struct.
func typed[A any](fn func(ctx context.Context, s *Session, a *A) (any, error)) Handler {
	return func(ctx context.Context, s *Session, raw map[string]any) (any, error) {
		var a A
		if len(raw) > 0 {
			data, err := json.Marshal(raw)
			if err != nil {
				return nil, &ArgumentError{Reason: err.Error()}
			}
			if err := json.Unmarshal(data, &a); err != nil {
				return nil, decodeError(err)
			}
		}
		if v, ok := any(&a).(validator); ok {
			if err := v.validate(); err != nil {
				return nil, err
			}
		}
		return fn(ctx, s, &a)
	}
}

func decodeError(err error) *ArgumentError {
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) {
		return argError(te.Field, "expected %s", te.Type)
	}
	return &ArgumentError{Reason: err.Error()}
}

// flexInt accepts a JSON number or a numeric string. Models frequently
// quote integers.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	fl, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", s)
	}
	*f = flexInt(fl)
	return nil
}

// flexDuration accepts a Go duration string ("15m", "2h") or a number of
// seconds.
type flexDuration time.Duration

func (f *flexDuration) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexDuration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("not a duration: %s", s)
	}
	*f = flexDuration(d)
	return nil
}

func clamp(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	return max(lo, min(v, hi))
}

// schema helpers keep the parameter definitions below readable.
func object(required []string, props map[string]any) map[string]any {
	m := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		m["required"] = required
	}
	return m
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}
