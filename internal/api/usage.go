package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rajeevc5260/Code-Review-Helper/internal/usage"
)

// maxUsageWindow bounds the ?window= parameter of /v1/usage.
const maxUsageWindow = 90 * 24 * time.Hour

// UsageReporter aggregates the token ledger.
type UsageReporter interface {
	Summary(ctx context.Context, start, end time.Time) (*usage.Summary, error)
	SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
	SummaryBySource(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
}

// handleUsage reports token usage and cost over a trailing window.
// GET /v1/usage?window=24h
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage ledger not configured")
		return
	}

	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 || d > maxUsageWindow {
			s.errorResponse(w, http.StatusBadRequest, "window must be a positive duration of at most 2160h")
			return
		}
		window = d
	}

	ctx := r.Context()
	end := time.Now()
	start := end.Add(-window)

	total, err := s.usage.Summary(ctx, start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not load usage")
		return
	}
	byModel, err := s.usage.SummaryByModel(ctx, start, end)
	if err != nil {
		s.logger.Error("usage by model failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not load usage")
		return
	}
	bySource, err := s.usage.SummaryBySource(ctx, start, end)
	if err != nil {
		s.logger.Error("usage by source failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not load usage")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"window":    window.String(),
		"start":     start.UTC(),
		"end":       end.UTC(),
		"total":     total,
		"by_model":  byModel,
		"by_source": bySource,
	}, s.logger)
}
