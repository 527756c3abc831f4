package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rajeevc5260/Code-Review-Helper/internal/confine"
	"github.com/rajeevc5260/Code-Review-Helper/internal/events"
	"github.com/rajeevc5260/Code-Review-Helper/internal/llm"
	"github.com/rajeevc5260/Code-Review-Helper/internal/memory"
	"github.com/rajeevc5260/Code-Review-Helper/internal/prompts"
	"github.com/rajeevc5260/Code-Review-Helper/internal/stream"
	"github.com/rajeevc5260/Code-Review-Helper/internal/tools"
)

// Defaults applied by NewOrchestrator for zero Config fields.
const (
	DefaultMaxRounds      = 12
	DefaultHistoryWindow  = 5
	DefaultRequestTimeout = 5 * time.Minute
)

// seedTool is the call synthesized when the model's first turn inspects
// nothing.
const seedTool = "listFiles"

// Config bounds the review loop.
type Config struct {
	Model          string
	MaxRounds      int
	HistoryWindow  int
	KeepAlive      time.Duration
	RequestTimeout time.Duration
	Temperature    float64
	MaxTokens      int
}

// Deps are the orchestrator's collaborators. Bus and Logger are optional.
type Deps struct {
	LLM    llm.Client
	Tools  *tools.Registry
	Store  memory.Store
	Bus    *events.Bus
	Logger *slog.Logger

	// Unhelpful replaces IsUnhelpful when set.
	Unhelpful UnhelpfulFunc
}

// Orchestrator runs review conversations: it prompts the model, executes
// the tools it asks for inside the session root, and streams progress.
type Orchestrator struct {
	llm       llm.Client
	tools     *tools.Registry
	store     memory.Store
	bus       *events.Bus
	logger    *slog.Logger
	cfg       Config
	unhelpful UnhelpfulFunc
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Unhelpful == nil {
		deps.Unhelpful = IsUnhelpful
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = stream.DefaultKeepAlive
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Orchestrator{
		llm:       deps.LLM,
		tools:     deps.Tools,
		store:     deps.Store,
		bus:       deps.Bus,
		logger:    deps.Logger.With("component", "agent"),
		cfg:       cfg,
		unhelpful: deps.Unhelpful,
		now:       time.Now,
	}
}

// review holds the state of one run of the loop.
type review struct {
	*run
	session  *tools.Session
	model    string
	messages []llm.Message
	toolDefs []map[string]any
}

// Run answers one question, streaming events to em. It always ends with
// a finished event and never panics. The run is detached from ctx's
// cancellation so a disconnected client does not lose the persisted
// answer, but it is bounded by the configured request timeout.
func (o *Orchestrator) Run(ctx context.Context, req *Request, em stream.Emitter) (res *Result) {
	r := newRun(em, o.bus, events.SourceAgent, o.logger, o.now())
	res = r.res

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RequestTimeout)
	defer cancel()

	defer func() { r.finish(o.now()) }()
	stopKeepAlive := stream.KeepAlive(ctx, em, o.cfg.KeepAlive)
	defer stopKeepAlive()
	defer r.recoverPanic()

	o.run(ctx, r, req)
	return res
}

func (o *Orchestrator) run(ctx context.Context, r *run, req *Request) {
	// INIT
	if err := req.Validate(); err != nil {
		r.fail(KindValidation, err)
		return
	}
	model := req.Model
	if model == "" {
		model = o.cfg.Model
	}
	if err := o.checkConfig(model); err != nil {
		r.fail(KindConfiguration, err)
		return
	}

	// VALIDATING
	if !r.resolveSubject(ctx, o.store, req) {
		return
	}
	root, err := o.resolveRoot(ctx, r.subjectID, req.Structure)
	if err != nil {
		if errors.Is(err, confine.ErrNoRoot) {
			r.fail(KindValidation, err)
		} else {
			r.fail(KindPersistence, err)
		}
		return
	}

	history := r.primeConversation(ctx, o.store, req, o.cfg.HistoryWindow)

	session, err := tools.NewSession(root, r.subjectID, r.res.ConversationID)
	if err != nil {
		r.fail(KindValidation, err)
		return
	}
	root = session.Root
	ctx = tools.WithConversationID(ctx, r.res.ConversationID)
	ctx = tools.WithRequestID(ctx, r.res.RequestID)

	rv := &review{
		run:      r,
		session:  session,
		model:    model,
		toolDefs: o.tools.List(),
	}
	rv.messages = append(rv.messages, llm.Message{Role: llm.RoleSystem, Content: prompts.ReviewSystemPrompt(root, o.cfg.MaxRounds)})
	rv.messages = append(rv.messages, historyMessages(history)...)
	rv.messages = append(rv.messages, llm.Message{Role: llm.RoleUser, Content: req.Message})

	r.logger.Info("review started",
		"conversation", r.res.ConversationID,
		"subject", r.subjectID,
		"root", root,
		"model", model,
		"history", len(history),
	)
	r.emit(stream.EventStart, map[string]any{
		"request_id":      r.res.RequestID,
		"conversation_id": r.res.ConversationID,
		"subject_id":      r.subjectID,
		"root":            root,
		"model":           model,
		"max_rounds":      o.cfg.MaxRounds,
	})
	o.bus.Emit(events.SourceAgent, events.KindRequestStart, map[string]any{
		"request_id":      r.res.RequestID,
		"conversation_id": r.res.ConversationID,
		"subject_id":      r.subjectID,
	})

	answer, ok := o.loop(ctx, rv)
	if !ok {
		return
	}
	o.answer(ctx, rv, answer)
}

func (o *Orchestrator) checkConfig(model string) error {
	var missing []string
	if o.llm == nil {
		missing = append(missing, "LLM client")
	}
	if model == "" {
		missing = append(missing, "model")
	}
	if !o.tools.Ready() {
		missing = append(missing, "file storage")
	}
	if o.store == nil {
		missing = append(missing, "conversation store")
	}
	if len(missing) > 0 {
		return fmt.Errorf("not configured: %s", strings.Join(missing, ", "))
	}
	return nil
}

// resolveRoot prefers a root in freshly supplied structure JSON, then the
// stored structure.
func (o *Orchestrator) resolveRoot(ctx context.Context, subjectID string, fresh json.RawMessage) (string, error) {
	root := memory.RootFromJSON(fresh)
	if root == "" && subjectID != "" {
		st, err := o.store.GetStructure(ctx, subjectID)
		switch {
		case errors.Is(err, memory.ErrNotFound):
		case err != nil:
			return "", fmt.Errorf("load structure: %w", err)
		default:
			root = st.ResolveRoot()
		}
	}
	if err := confine.Validate(root); err != nil {
		return "", fmt.Errorf("subject %q has no usable root: %w", subjectID, err)
	}
	return root, nil
}

// loop runs SEEDING and the bounded rounds. It returns the candidate
// answer text, or false after failing the run.
func (o *Orchestrator) loop(ctx context.Context, rv *review) (string, bool) {
	resp, err := o.chat(ctx, rv, 0, llm.ToolChoiceAuto)
	if err != nil {
		o.failChat(rv, err)
		return "", false
	}

	// SEEDING
	if !resp.HasToolCalls() && o.tools.Get(seedTool) != nil {
		r := rv.run
		r.logger.Debug("seeding root listing", "root", rv.session.Root)
		r.emit(stream.EventProgress, map[string]any{"stage": "seeding", "tool": seedTool})
		call := llm.NewToolCall("seed_1", seedTool, map[string]any{"location": rv.session.Root})
		rv.messages = append(rv.messages, llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call}})
		rv.messages = append(rv.messages, o.dispatch(ctx, rv, 0, call))

		resp, err = o.chat(ctx, rv, 0, llm.ToolChoiceAuto)
		if err != nil {
			o.failChat(rv, err)
			return "", false
		}
	}

	// ROUND(n)
	for resp.HasToolCalls() {
		if rv.res.Rounds >= o.cfg.MaxRounds {
			rv.logger.Info("round budget exhausted", "rounds", rv.res.Rounds)
			rv.emit(stream.EventProgress, map[string]any{"stage": "final_answer", "rounds": rv.res.Rounds})
			rv.messages = append(rv.messages, llm.Message{Role: llm.RoleUser, Content: prompts.FinalAnswerNudge})
			resp, err = o.chat(ctx, rv, rv.res.Rounds+1, llm.ToolChoiceNone)
			if err != nil {
				o.failChat(rv, err)
				return "", false
			}
			break
		}
		if err := ctx.Err(); err != nil {
			rv.fail(KindTimeout, fmt.Errorf("request timed out after %d rounds: %w", rv.res.Rounds, err))
			return "", false
		}

		rv.res.Rounds++
		round := rv.res.Rounds
		rv.emit(stream.EventProgress, map[string]any{
			"stage":      "round",
			"round":      round,
			"max_rounds": o.cfg.MaxRounds,
			"tool_calls": len(resp.Message.ToolCalls),
		})

		rv.messages = append(rv.messages, resp.Message)
		for _, call := range resp.Message.ToolCalls {
			rv.messages = append(rv.messages, o.dispatch(ctx, rv, round, call))
		}

		resp, err = o.chat(ctx, rv, round, llm.ToolChoiceAuto)
		if err != nil {
			o.failChat(rv, err)
			return "", false
		}
	}
	return resp.Message.Content, true
}

// chat invokes the model with the running context.
func (o *Orchestrator) chat(ctx context.Context, rv *review, round int, choice string) (*llm.ChatResponse, error) {
	toolDefs := rv.toolDefs
	if choice == llm.ToolChoiceNone {
		toolDefs = nil
	}
	o.bus.Emit(events.SourceAgent, events.KindLLMCall, map[string]any{
		"request_id": rv.res.RequestID,
		"round":      round,
		"model":      rv.model,
		"tools":      len(toolDefs),
	})
	rv.logger.Debug("calling LLM", "round", round, "model", rv.model, "messages", len(rv.messages), "tools", len(toolDefs))

	resp, err := o.llm.Chat(ctx, rv.model, rv.messages, toolDefs, llm.Options{
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
		ToolChoice:  choice,
	})
	if err != nil {
		return nil, err
	}
	rv.countTokens(resp)
	o.bus.Emit(events.SourceAgent, events.KindLLMResponse, map[string]any{
		"request_id": rv.res.RequestID,
		"round":      round,
		"model":      resp.Model,
		"tokens_in":  resp.InputTokens,
		"tokens_out": resp.OutputTokens,
		"tool_calls": len(resp.Message.ToolCalls),
	})
	return resp, nil
}

func (o *Orchestrator) failChat(rv *review, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		rv.fail(KindTimeout, fmt.Errorf("request timed out: %w", err))
		return
	}
	rv.fail(KindLLM, fmt.Errorf("LLM call failed: %w", err))
}

// dispatch executes one tool call and returns the tool message fed back
// to the model. Failures become {"error": ...} results.
func (o *Orchestrator) dispatch(ctx context.Context, rv *review, round int, call llm.ToolCall) llm.Message {
	name := call.Function.Name
	phase := o.tools.Phase(name)
	rv.emit(phase+stream.Started, map[string]any{
		"tool":      name,
		"phase":     phase,
		"call_id":   call.ID,
		"round":     round,
		"arguments": call.Function.Arguments,
	})
	o.bus.Emit(events.SourceAgent, events.KindToolCall, map[string]any{
		"request_id": rv.res.RequestID,
		"tool":       name,
		"phase":      phase,
	})

	start := time.Now()
	result, err := o.tools.Execute(ctx, rv.session, name, call.Function.Arguments)
	elapsed := time.Since(start)
	rv.res.ToolCalls++

	o.bus.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
		"request_id":  rv.res.RequestID,
		"tool":        name,
		"ok":          err == nil,
		"duration_ms": elapsed.Milliseconds(),
	})

	if err != nil {
		kind := KindTool
		if errors.Is(err, confine.ErrViolation) {
			kind = KindConfinement
		}
		rv.logger.Warn("tool failed", "tool", name, "kind", kind, "error", err, "elapsed", elapsed)
		rv.emit(stream.EventError, map[string]any{
			"kind":        kind,
			"tool":        name,
			"phase":       phase,
			"call_id":     call.ID,
			"round":       round,
			"duration_ms": elapsed.Milliseconds(),
			"error":       err.Error(),
		})
		data, _ := json.Marshal(map[string]string{"error": err.Error()})
		return llm.Message{Role: llm.RoleTool, Content: string(data), ToolCallID: call.ID}
	}

	rv.logger.Debug("tool complete", "tool", name, "bytes", len(result), "elapsed", elapsed)
	rv.emit(phase+stream.Complete, map[string]any{
		"tool":         name,
		"phase":        phase,
		"call_id":      call.ID,
		"round":        round,
		"duration_ms":  elapsed.Milliseconds(),
		"result_bytes": len(result),
	})
	return llm.Message{Role: llm.RoleTool, Content: result, ToolCallID: call.ID}
}

// answer runs ANSWERING and PERSISTING.
func (o *Orchestrator) answer(ctx context.Context, rv *review, candidate string) {
	answer := strings.TrimSpace(candidate)
	if o.unhelpful(answer) {
		rv.logger.Info("answer replaced by fallback", "length", len(answer))
		answer = prompts.FallbackAnswer(fileSummaries(rv.session.Gathered()))
		rv.res.Fallback = true
	}
	rv.res.Answer = answer

	files := rv.session.FilesTouched()
	rv.emit(stream.EventResult, map[string]any{
		"message":         answer,
		"conversation_id": rv.res.ConversationID,
		"fallback":        rv.res.Fallback,
		"rounds":          rv.res.Rounds,
		"tool_calls":      rv.res.ToolCalls,
		"files_touched":   files,
	})

	rv.persistAnswer(ctx, o.store, answer, map[string]any{
		"request_id":    rv.res.RequestID,
		"model":         rv.model,
		"rounds":        rv.res.Rounds,
		"tool_calls":    rv.res.ToolCalls,
		"files_touched": files,
		"fallback":      rv.res.Fallback,
		"invocations":   rv.session.Invocations(),
	})
}

func fileSummaries(gathered []tools.GatheredFile) []prompts.FileSummary {
	out := make([]prompts.FileSummary, 0, len(gathered))
	for _, g := range gathered {
		out = append(out, prompts.FileSummary{
			Name:      g.Name,
			Path:      g.Path,
			Bytes:     g.BytesRead,
			Truncated: g.Truncated,
		})
	}
	return out
}
