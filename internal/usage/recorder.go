package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/rajeevc5260/Code-Review-Helper/internal/config"
	"github.com/rajeevc5260/Code-Review-Helper/internal/events"
)

// recordTimeout bounds one ledger write.
const recordTimeout = 5 * time.Second

// Recorder turns request_complete events from the bus into ledger
// records. Runs that never reached the model are not recorded.
type Recorder struct {
	store  *Store
	cfg    *config.Config
	logger *slog.Logger
}

// NewRecorder creates a recorder pricing runs with cfg.LLM.Pricing.
func NewRecorder(store *Store, cfg *config.Config, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "usage"),
	}
}

// Start subscribes to bus and records until ctx is cancelled. The
// subscription is in place when Start returns. Events already buffered
// at cancellation are still recorded; wait blocks until they are.
func (r *Recorder) Start(ctx context.Context, bus *events.Bus) (wait func()) {
	ch := bus.Subscribe(256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer bus.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case ev := <-ch:
						r.observe(ctx, ev)
					default:
						return
					}
				}
			case ev, ok := <-ch:
				if !ok {
					return
				}
				r.observe(ctx, ev)
			}
		}
	}()
	return func() { <-done }
}

func (r *Recorder) observe(ctx context.Context, ev events.Event) {
	if _, err := r.Observe(ctx, ev); err != nil {
		r.logger.Warn("usage not recorded", "request_id", ev.Data["request_id"], "error", err)
	}
}

// Observe records ev if it completes a run. It reports whether a record
// was written.
func (r *Recorder) Observe(ctx context.Context, ev events.Event) (bool, error) {
	if ev.Kind != events.KindRequestComplete {
		return false, nil
	}
	d := ev.Data
	rec := Record{
		Timestamp:      ev.Timestamp,
		RequestID:      stringValue(d["request_id"]),
		ConversationID: stringValue(d["conversation_id"]),
		SubjectID:      stringValue(d["subject_id"]),
		Source:         ev.Source,
		Model:          stringValue(d["model"]),
		Status:         stringValue(d["status"]),
		Rounds:         intValue(d["rounds"]),
		ToolCalls:      intValue(d["tool_calls"]),
		InputTokens:    intValue(d["total_tokens_in"]),
		OutputTokens:   intValue(d["total_tokens_out"]),
	}
	if rec.Model == "" && rec.InputTokens == 0 && rec.OutputTokens == 0 {
		return false, nil
	}
	if rec.Model == "" {
		rec.Model = r.cfg.LLM.Default
	}
	rec.Provider = r.cfg.ProviderFor(rec.Model)
	rec.CostUSD = ComputeCost(rec.Model, rec.InputTokens, rec.OutputTokens, r.cfg.LLM.Pricing)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := r.store.Record(ctx, rec); err != nil {
		return false, err
	}
	r.logger.Debug("usage recorded",
		"request_id", rec.RequestID,
		"model", rec.Model,
		"input_tokens", rec.InputTokens,
		"output_tokens", rec.OutputTokens,
		"cost_usd", rec.CostUSD,
	)
	return true, nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// intValue accepts the numeric types an event payload may carry, both
// in-process (int) and after a JSON round trip (float64).
func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
