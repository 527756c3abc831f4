package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rajeevc5260/Code-Review-Helper/internal/agent"
	"github.com/rajeevc5260/Code-Review-Helper/internal/stream"
)

// handleReviewChat runs the tool-calling review loop and streams its
// events. POST /v1/review/chat {"message": "...", "subject_id": "..."}
func (s *Server) handleReviewChat(w http.ResponseWriter, r *http.Request) {
	s.serveRun(w, r, s.reviewer, "review")
}

// handleAnalyze answers from content search snippets.
// POST /v1/analyze {"message": "...", "subject_id": "..."}
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	s.serveRun(w, r, s.analyzer, "analysis")
}

// serveRun decodes the request and hands it to runner over SSE. Only
// an oversized body is rejected with a status code; a body that does not
// decode, like any other invalid request, is reported in the stream.
func (s *Server) serveRun(w http.ResponseWriter, r *http.Request, runner Runner, what string) {
	if runner == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, what+" not configured")
		return
	}

	var req agent.Request
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decodeErr := json.NewDecoder(r.Body).Decode(&req)
	var tooLarge *http.MaxBytesError
	if errors.As(decodeErr, &tooLarge) {
		s.errorResponse(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	em, err := stream.NewSSE(w, s.logger)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	defer em.Close()

	if decodeErr != nil {
		res := agent.Reject(em, fmt.Errorf("invalid request body: %w", decodeErr), s.logger)
		s.logger.Debug("rejected undecodable "+what+" request", "request_id", res.RequestID, "error", decodeErr)
		return
	}

	res := runner.Run(r.Context(), &req, em)
	if r.Context().Err() != nil {
		s.logger.Info("client disconnected before run finished",
			"request_id", res.RequestID,
			"status", res.Status,
			"conversation", res.ConversationID,
		)
	}
}
