package usage

import (
	"context"
	"testing"
	"time"

	"github.com/rajeevc5260/Code-Review-Helper/internal/config"
	"github.com/rajeevc5260/Code-Review-Helper/internal/events"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.LLM.Default = "claude-sonnet-4-20250514"
	cfg.LLM.Pricing = testPricing()
	return cfg
}

func completeEvent(data map[string]any) events.Event {
	return events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindRequestComplete,
		Data:      data,
	}
}

func TestRecorder_Observe(t *testing.T) {
	tests := []struct {
		name     string
		ev       events.Event
		recorded bool
		wantCost float64
		wantProv string
	}{
		{
			name: "priced run",
			ev: completeEvent(map[string]any{
				"request_id":       "r1",
				"model":            "claude-opus-4-20250514",
				"status":           "success",
				"total_tokens_in":  1000,
				"total_tokens_out": 500,
			}),
			recorded: true,
			wantCost: 0.0525,
			wantProv: "anthropic",
		},
		{
			name: "json numbers",
			ev: completeEvent(map[string]any{
				"request_id":       "r2",
				"model":            "qwen2.5-coder:32b",
				"total_tokens_in":  float64(300),
				"total_tokens_out": float64(20),
			}),
			recorded: true,
			wantProv: "ollama",
		},
		{
			name: "failed before any completion",
			ev: completeEvent(map[string]any{
				"request_id":       "r3",
				"status":           "failed",
				"total_tokens_in":  0,
				"total_tokens_out": 0,
			}),
		},
		{
			name: "other kinds ignored",
			ev:   events.Event{Source: events.SourceAgent, Kind: events.KindToolCall, Data: map[string]any{"model": "m"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testStore(t)
			r := NewRecorder(s, testConfig(), nil)
			ctx := context.Background()

			got, err := r.Observe(ctx, tt.ev)
			if err != nil {
				t.Fatalf("Observe: %v", err)
			}
			if got != tt.recorded {
				t.Fatalf("recorded = %v, want %v", got, tt.recorded)
			}
			if !tt.recorded {
				return
			}

			start, end := time.Now().Add(-time.Minute), time.Now().Add(time.Minute)
			sum, err := s.Summary(ctx, start, end)
			if err != nil {
				t.Fatalf("Summary: %v", err)
			}
			if sum.Runs != 1 || !approx(sum.TotalCostUSD, tt.wantCost) {
				t.Errorf("summary = %+v, want 1 run costing %f", sum, tt.wantCost)
			}
			byModel, err := s.SummaryByModel(ctx, start, end)
			if err != nil {
				t.Fatalf("SummaryByModel: %v", err)
			}
			if byModel[tt.ev.Data["model"].(string)] == nil {
				t.Errorf("no group for model %v: %v", tt.ev.Data["model"], byModel)
			}
		})
	}
}

func TestRecorder_DefaultsModel(t *testing.T) {
	s := testStore(t)
	r := NewRecorder(s, testConfig(), nil)
	ctx := context.Background()

	ok, err := r.Observe(ctx, completeEvent(map[string]any{
		"request_id":      "r1",
		"total_tokens_in": 1_000_000,
	}))
	if err != nil || !ok {
		t.Fatalf("Observe = %v, %v", ok, err)
	}
	byModel, err := s.SummaryByModel(ctx, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	got := byModel["claude-sonnet-4-20250514"]
	if got == nil || !approx(got.TotalCostUSD, 3.0) {
		t.Errorf("default model group = %+v", got)
	}
}

func TestRecorder_Start(t *testing.T) {
	s := testStore(t)
	r := NewRecorder(s, testConfig(), nil)
	bus := events.New()

	ctx, cancel := context.WithCancel(context.Background())
	wait := r.Start(ctx, bus)

	bus.Emit(events.SourceAnalyzer, events.KindRequestComplete, map[string]any{
		"request_id":       "r1",
		"subject_id":       "sub-1",
		"model":            "claude-sonnet-4-20250514",
		"total_tokens_in":  10,
		"total_tokens_out": 5,
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		sum, err := s.Summary(context.Background(), time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
		if err != nil {
			t.Fatal(err)
		}
		if sum.Runs == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	bySource, err := s.SummaryBySource(context.Background(), time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if bySource[events.SourceAnalyzer] == nil {
		t.Errorf("by source = %v, want analyzer group", bySource)
	}

	cancel()
	wait()
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("subscribers after stop = %d, want 0", n)
	}
}
