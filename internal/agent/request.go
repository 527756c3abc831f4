// Package agent drives an LLM through rounds of tool calls against an
// uploaded file tree and streams its progress to the caller.
//
// Two flows share the request, conversation and event plumbing in this
// file: the [Orchestrator] runs the multi-round review loop, and the
// [Analyzer] answers one question from content search snippets in a
// single completion. Neither returns an error: every failure becomes an
// `error` event followed by `finished{status:"failed"}`.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rajeevc5260/Code-Review-Helper/internal/events"
	"github.com/rajeevc5260/Code-Review-Helper/internal/llm"
	"github.com/rajeevc5260/Code-Review-Helper/internal/memory"
	"github.com/rajeevc5260/Code-Review-Helper/internal/stream"
)

// MaxMessageBytes bounds the user's question.
const MaxMessageBytes = 16 * 1024

// Run statuses reported in the finished event.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Error kinds reported in error events.
const (
	KindValidation    = "validation"
	KindConfiguration = "configuration"
	KindConfinement   = "confinement"
	KindTool          = "tool"
	KindLLM           = "llm"
	KindTimeout       = "timeout"
	KindPersistence   = "persistence"
	KindInternal      = "internal"
)

// Request is one question about an upload.
type Request struct {
	Message        string `json:"message"`
	UserID         string `json:"user_id,omitempty"`
	SubjectID      string `json:"subject_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`

	// Structure is freshly supplied structure JSON. A "root" field in it
	// takes precedence over the stored structure.
	Structure json.RawMessage `json:"structure,omitempty"`

	// Model overrides the configured model.
	Model string `json:"model,omitempty"`
}

// Validate checks the request shape.
func (r *Request) Validate() error {
	if r == nil {
		return errors.New("request is required")
	}
	msg := strings.TrimSpace(r.Message)
	switch {
	case msg == "":
		return errors.New("message is required")
	case len(r.Message) > MaxMessageBytes:
		return fmt.Errorf("message exceeds %d bytes", MaxMessageBytes)
	case r.SubjectID == "" && r.ConversationID == "":
		return errors.New("subject_id or conversation_id is required")
	}
	return nil
}

// Result summarises a finished run.
type Result struct {
	RequestID      string        `json:"request_id"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Status         string        `json:"status"`
	Answer         string        `json:"answer,omitempty"`
	Fallback       bool          `json:"fallback,omitempty"`
	Rounds         int           `json:"rounds"`
	ToolCalls      int           `json:"tool_calls"`
	Elapsed        time.Duration `json:"elapsed"`
}

// generateRequestID returns a short random id for log correlation.
func generateRequestID() string {
	return "r_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// persistTimeout bounds store writes made after the run context may
// already have expired.
const persistTimeout = 10 * time.Second

// run is the per-request state shared by both flows.
type run struct {
	em     stream.Emitter
	bus    *events.Bus
	source string
	logger *slog.Logger
	start  time.Time
	res    *Result

	subjectID string
	userID    string
	model     string // as reported by the last completion
	tokensIn  int
	tokensOut int
	failed    bool
}

func newRun(em stream.Emitter, bus *events.Bus, source string, logger *slog.Logger, now time.Time) *run {
	id := generateRequestID()
	return &run{
		em:     em,
		bus:    bus,
		source: source,
		logger: logger.With("request_id", id),
		start:  now,
		res:    &Result{RequestID: id, Status: StatusSuccess},
	}
}

// emit sends an event. A failed write means the client is gone; the run
// carries on so the answer is still persisted.
func (r *run) emit(name string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	if err := r.em.Emit(name, payload); err != nil {
		r.logger.Debug("event not delivered", "event", name, "error", err)
	}
}

// fail emits an error event and marks the run failed.
func (r *run) fail(kind string, err error) {
	r.failed = true
	r.logger.Warn("run failed", "kind", kind, "error", err)
	r.emit(stream.EventError, map[string]any{
		"kind":       kind,
		"error":      err.Error(),
		"request_id": r.res.RequestID,
	})
}

// warn emits a non-terminal error event.
func (r *run) warn(kind string, err error) {
	r.logger.Warn("run degraded", "kind", kind, "error", err)
	r.emit(stream.EventError, map[string]any{
		"kind":       kind,
		"error":      err.Error(),
		"request_id": r.res.RequestID,
	})
}

// recoverPanic converts a panic into an error event. It must be deferred
// directly.
func (r *run) recoverPanic() {
	if p := recover(); p != nil {
		r.logger.Error("run panicked", "panic", p, "stack", string(debug.Stack()))
		r.failed = true
		r.emit(stream.EventError, map[string]any{
			"kind":       KindInternal,
			"error":      "internal error",
			"request_id": r.res.RequestID,
		})
	}
}

// finish emits the terminal event. It runs exactly once per request.
func (r *run) finish(now time.Time) {
	r.res.Elapsed = now.Sub(r.start)
	if r.failed {
		r.res.Status = StatusFailed
	}
	r.emit(stream.EventFinished, map[string]any{
		"status":          r.res.Status,
		"request_id":      r.res.RequestID,
		"conversation_id": r.res.ConversationID,
		"rounds":          r.res.Rounds,
		"tool_calls":      r.res.ToolCalls,
		"elapsed_ms":      r.res.Elapsed.Milliseconds(),
	})
	r.bus.Emit(r.source, events.KindRequestComplete, map[string]any{
		"request_id":       r.res.RequestID,
		"conversation_id":  r.res.ConversationID,
		"subject_id":       r.subjectID,
		"model":            r.model,
		"status":           r.res.Status,
		"rounds":           r.res.Rounds,
		"tool_calls":       r.res.ToolCalls,
		"total_tokens_in":  r.tokensIn,
		"total_tokens_out": r.tokensOut,
		"elapsed_ms":       r.res.Elapsed.Milliseconds(),
	})
	r.logger.Info("run finished",
		"status", r.res.Status,
		"conversation", r.res.ConversationID,
		"rounds", r.res.Rounds,
		"tool_calls", r.res.ToolCalls,
		"tokens_in", r.tokensIn,
		"tokens_out", r.tokensOut,
		"elapsed", r.res.Elapsed.Round(time.Millisecond),
	)
}

// Reject reports a request that could not be decoded, without running
// either flow: one validation error event, then finished{failed}.
func Reject(em stream.Emitter, err error, logger *slog.Logger) *Result {
	if logger == nil {
		logger = slog.Default()
	}
	r := newRun(em, nil, "", logger, time.Now())
	r.fail(KindValidation, err)
	r.finish(time.Now())
	return r.res
}

// resolveSubject fills r.subjectID and r.userID, loading the
// conversation when one is named. It reports false after failing the run.
func (r *run) resolveSubject(ctx context.Context, store memory.Store, req *Request) bool {
	r.subjectID, r.userID = req.SubjectID, req.UserID
	if req.ConversationID == "" {
		return true
	}

	conv, err := store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			r.fail(KindValidation, fmt.Errorf("conversation %s not found", req.ConversationID))
		} else {
			r.fail(KindPersistence, err)
		}
		return false
	}
	if r.subjectID == "" {
		r.subjectID = conv.SubjectID
	} else if conv.SubjectID != "" && conv.SubjectID != r.subjectID {
		r.fail(KindValidation, fmt.Errorf("conversation %s belongs to a different subject", conv.ID))
		return false
	}
	if r.userID == "" {
		r.userID = conv.UserID
	}
	r.res.ConversationID = conv.ID
	return true
}

// primeConversation loads recent history, creating a conversation when
// none was named, and stores the user's message before any LLM call.
// Store failures degrade the run but never abort it.
func (r *run) primeConversation(ctx context.Context, store memory.Store, req *Request, window int) []memory.Message {
	var history []memory.Message

	if r.res.ConversationID != "" {
		msgs, err := store.RecentMessages(ctx, r.res.ConversationID, window)
		if err != nil {
			r.warn(KindPersistence, fmt.Errorf("load history: %w", err))
		} else {
			history = msgs
		}
	} else if r.userID != "" && r.subjectID != "" {
		conv := &memory.Conversation{
			UserID:    r.userID,
			SubjectID: r.subjectID,
			Title:     memory.TitleFrom(req.Message),
		}
		if err := store.CreateConversation(ctx, conv); err != nil {
			r.warn(KindPersistence, fmt.Errorf("create conversation: %w", err))
		} else {
			r.res.ConversationID = conv.ID
			r.logger.Info("conversation created", "conversation", conv.ID, "subject", r.subjectID)
		}
	}

	if r.res.ConversationID != "" {
		err := store.AddMessage(ctx, &memory.Message{
			ConversationID: r.res.ConversationID,
			UserID:         r.userID,
			Role:           memory.RoleUser,
			Content:        req.Message,
		})
		if err != nil {
			r.warn(KindPersistence, fmt.Errorf("store question: %w", err))
		}
	}
	return history
}

// persistAnswer appends the assistant message. The write runs detached
// from ctx's deadline so a timed-out run still keeps its answer.
func (r *run) persistAnswer(ctx context.Context, store memory.Store, content string, metadata map[string]any) {
	if r.res.ConversationID == "" {
		return
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		r.warn(KindPersistence, fmt.Errorf("encode metadata: %w", err))
		meta = nil
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	err = store.AddMessage(pctx, &memory.Message{
		ConversationID: r.res.ConversationID,
		UserID:         r.userID,
		Role:           memory.RoleAssistant,
		Content:        content,
		Metadata:       meta,
	})
	if err != nil {
		r.warn(KindPersistence, fmt.Errorf("store answer: %w", err))
	}
}

// historyMessages converts stored turns to LLM messages.
func historyMessages(history []memory.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == memory.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

func (r *run) countTokens(resp *llm.ChatResponse) {
	if resp == nil {
		return
	}
	r.tokensIn += resp.InputTokens
	r.tokensOut += resp.OutputTokens
	if resp.Model != "" {
		r.model = resp.Model
	}
}
