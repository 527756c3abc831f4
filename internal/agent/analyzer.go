package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/rajeevc5260/Code-Review-Helper/internal/events"
	"github.com/rajeevc5260/Code-Review-Helper/internal/llm"
	"github.com/rajeevc5260/Code-Review-Helper/internal/memory"
	"github.com/rajeevc5260/Code-Review-Helper/internal/prompts"
	"github.com/rajeevc5260/Code-Review-Helper/internal/search"
	"github.com/rajeevc5260/Code-Review-Helper/internal/stream"
	"github.com/rajeevc5260/Code-Review-Helper/internal/tools"
)

// DefaultMaxSnippets is the evidence budget when none is configured.
const DefaultMaxSnippets = 8

// searchTool names the analyzer's search step in events.
const searchTool = "searchContent"

// AnalyzerConfig tunes the document analyzer.
type AnalyzerConfig struct {
	Model          string
	MaxSnippets    int
	RequestTimeout time.Duration
	KeepAlive      time.Duration
	Temperature    float64
	MaxTokens      int
}

// AnalyzerDeps are the analyzer's collaborators. Bus and Logger are
// optional.
type AnalyzerDeps struct {
	LLM    llm.Client
	Search search.Provider
	Store  memory.Store
	Bus    *events.Bus
	Logger *slog.Logger
}

// Analyzer answers a question about an upload from content search
// snippets in one completion, citing evidence by index.
type Analyzer struct {
	llm    llm.Client
	search search.Provider
	store  memory.Store
	bus    *events.Bus
	logger *slog.Logger
	cfg    AnalyzerConfig
	now    func() time.Time
}

// NewAnalyzer creates a document analyzer.
func NewAnalyzer(deps AnalyzerDeps, cfg AnalyzerConfig) *Analyzer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.MaxSnippets <= 0 {
		cfg.MaxSnippets = DefaultMaxSnippets
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = stream.DefaultKeepAlive
	}
	return &Analyzer{
		llm:    deps.LLM,
		search: deps.Search,
		store:  deps.Store,
		bus:    deps.Bus,
		logger: deps.Logger.With("component", "analyzer"),
		cfg:    cfg,
		now:    time.Now,
	}
}

// Source is one evidence snippet as reported to the client.
type Source struct {
	Index    int     `json:"index"`
	FileName string  `json:"file_name"`
	FileID   string  `json:"file_id,omitempty"`
	Score    float64 `json:"score"`
}

// Run answers one question, streaming events to em. Like
// [Orchestrator.Run] it always ends with a finished event.
func (a *Analyzer) Run(ctx context.Context, req *Request, em stream.Emitter) (res *Result) {
	r := newRun(em, a.bus, events.SourceAnalyzer, a.logger, a.now())
	res = r.res

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.RequestTimeout)
	defer cancel()

	defer func() { r.finish(a.now()) }()
	stopKeepAlive := stream.KeepAlive(ctx, em, a.cfg.KeepAlive)
	defer stopKeepAlive()
	defer r.recoverPanic()

	a.run(ctx, r, req)
	return res
}

func (a *Analyzer) run(ctx context.Context, r *run, req *Request) {
	if err := req.Validate(); err != nil {
		r.fail(KindValidation, err)
		return
	}
	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	if err := a.checkConfig(model); err != nil {
		r.fail(KindConfiguration, err)
		return
	}
	if !r.resolveSubject(ctx, a.store, req) {
		return
	}
	if r.subjectID == "" {
		r.fail(KindValidation, errors.New("conversation has no subject to search"))
		return
	}

	r.primeConversation(ctx, a.store, req, 0)
	ctx = tools.WithRequestID(ctx, r.res.RequestID)

	r.emit(stream.EventStart, map[string]any{
		"request_id":      r.res.RequestID,
		"conversation_id": r.res.ConversationID,
		"subject_id":      r.subjectID,
		"model":           model,
	})
	a.bus.Emit(events.SourceAnalyzer, events.KindRequestStart, map[string]any{
		"request_id":      r.res.RequestID,
		"conversation_id": r.res.ConversationID,
		"subject_id":      r.subjectID,
	})

	matches, ok := a.gather(ctx, r, req.Message)
	if !ok {
		return
	}

	snippets := make([]prompts.Snippet, len(matches))
	sources := make([]Source, len(matches))
	for i, m := range matches {
		name := baseName(m)
		snippets[i] = prompts.Snippet{FileName: name, Text: m.Text}
		sources[i] = Source{Index: i + 1, FileName: name, FileID: m.FileID, Score: m.Score}
	}

	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: prompts.AnalyzerSystemPrompt},
		{Role: llm.RoleUser, Content: prompts.AnalyzerUserPrompt(req.Message, snippets)},
	}
	a.bus.Emit(events.SourceAnalyzer, events.KindLLMCall, map[string]any{
		"request_id": r.res.RequestID,
		"model":      model,
		"snippets":   len(snippets),
	})
	resp, err := a.llm.Chat(ctx, model, msgs, nil, llm.Options{
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
		ToolChoice:  llm.ToolChoiceNone,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			r.fail(KindTimeout, fmt.Errorf("request timed out: %w", err))
		} else {
			r.fail(KindLLM, fmt.Errorf("LLM call failed: %w", err))
		}
		return
	}
	r.countTokens(resp)
	r.res.Rounds = 1

	answer := strings.TrimSpace(StripPaths(resp.Message.Content))
	if answer == "" {
		answer = prompts.EmptyResponseFallback
		r.res.Fallback = true
	}
	r.res.Answer = answer

	r.emit(stream.EventAnalysisResult, map[string]any{
		"message":         answer,
		"conversation_id": r.res.ConversationID,
		"sources":         sources,
		"fallback":        r.res.Fallback,
	})
	r.persistAnswer(ctx, a.store, answer, map[string]any{
		"request_id": r.res.RequestID,
		"model":      model,
		"kind":       "analysis",
		"sources":    sources,
	})
}

func (a *Analyzer) checkConfig(model string) error {
	var missing []string
	if a.llm == nil {
		missing = append(missing, "LLM client")
	}
	if model == "" {
		missing = append(missing, "model")
	}
	if a.search == nil {
		missing = append(missing, "content search")
	}
	if a.store == nil {
		missing = append(missing, "conversation store")
	}
	if len(missing) > 0 {
		return fmt.Errorf("not configured: %s", strings.Join(missing, ", "))
	}
	return nil
}

// gather searches the subject's namespace and keeps the best snippets.
func (a *Analyzer) gather(ctx context.Context, r *run, query string) ([]search.Match, bool) {
	phase := tools.PhaseFileAnalysis
	r.emit(phase+stream.Started, map[string]any{
		"tool":      searchTool,
		"phase":     phase,
		"query":     query,
		"namespace": r.subjectID,
	})
	a.bus.Emit(events.SourceAnalyzer, events.KindToolCall, map[string]any{
		"request_id": r.res.RequestID,
		"tool":       searchTool,
		"phase":      phase,
	})

	start := time.Now()
	result, err := a.search.Search(ctx, r.subjectID, query, search.Options{
		Awareness: true,
		ReRanking: true,
		Limit:     a.cfg.MaxSnippets * 3,
	})
	elapsed := time.Since(start)
	r.res.ToolCalls++
	a.bus.Emit(events.SourceAnalyzer, events.KindToolDone, map[string]any{
		"request_id":  r.res.RequestID,
		"tool":        searchTool,
		"ok":          err == nil,
		"duration_ms": elapsed.Milliseconds(),
	})

	if err != nil {
		r.failed = true
		r.logger.Warn("search failed", "error", err, "elapsed", elapsed)
		r.emit(stream.EventError, map[string]any{
			"kind":        KindTool,
			"tool":        searchTool,
			"phase":       phase,
			"duration_ms": elapsed.Milliseconds(),
			"error":       err.Error(),
		})
		return nil, false
	}

	var candidates []search.Match
	if result != nil {
		candidates = result.Matches
		if len(candidates) == 0 {
			for _, f := range result.Files {
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
					candidates = append(candidates, m)
				}
			}
		}
	}
	matches := search.Rescore(query, candidates, a.cfg.MaxSnippets)

	files := make([]string, 0, len(matches))
	seen := make(map[string]bool)
	for _, m := range matches {
		if n := baseName(m); !seen[n] {
			seen[n] = true
			files = append(files, n)
		}
	}
	r.logger.Debug("search complete", "candidates", len(candidates), "kept", len(matches), "elapsed", elapsed)
	r.emit(phase+stream.Complete, map[string]any{
		"tool":        searchTool,
		"phase":       phase,
		"duration_ms": elapsed.Milliseconds(),
		"candidates":  len(candidates),
		"matches":     len(matches),
		"files":       files,
	})
	return matches, true
}

func baseName(m search.Match) string {
	name := m.FileName
	if name == "" {
		name = m.Path
	}
	if name == "" {
		return "unknown"
	}
	return path.Base(strings.ReplaceAll(name, `\`, "/"))
}

// pathRef matches a URL or slash-separated path whose last segment looks
// like a file name.
var pathRef = regexp.MustCompile(`(?:[A-Za-z][A-Za-z0-9+.-]*://)?(?:[\w.~@-]*[/\\])+([\w-][\w.-]*\.[A-Za-z0-9]+)\b`)

// StripPaths rewrites path-like file references in an answer to bare
// file names.
func StripPaths(answer string) string {
	return pathRef.ReplaceAllString(answer, "$1")
}
