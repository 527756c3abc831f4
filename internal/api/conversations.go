package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rajeevc5260/Code-Review-Helper/internal/memory"
	"github.com/rajeevc5260/Code-Review-Helper/internal/render"
)

// CreateConversationRequest is the body of POST /v1/conversations.
type CreateConversationRequest struct {
	UserID    string `json:"user_id"`
	SubjectID string `json:"subject_id"`
	Title     string `json:"title,omitempty"`
}

func (s *Server) handleConversationCreate(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "conversation store not configured")
		return
	}
	var req CreateConversationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.SubjectID) == "" {
		s.errorResponse(w, http.StatusBadRequest, "user_id and subject_id are required")
		return
	}

	conv := &memory.Conversation{
		UserID:    req.UserID,
		SubjectID: req.SubjectID,
		Title:     memory.TitleFrom(req.Title),
	}
	if err := s.store.CreateConversation(r.Context(), conv); err != nil {
		s.logger.Error("create conversation failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not create conversation")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, conv, s.logger)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "conversation store not configured")
		return
	}
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		s.errorResponse(w, http.StatusBadRequest, "user_id is required")
		return
	}

	convs, err := s.store.ListConversations(r.Context(), userID, q.Get("subject_id"))
	if err != nil {
		s.logger.Error("list conversations failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not list conversations")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversations": convs,
		"count":         len(convs),
	}, s.logger)
}

// messageView is a stored message with its optional HTML rendering.
type messageView struct {
	memory.Message
	HTML string `json:"html,omitempty"`
}

// handleConversationMessages returns a conversation's messages in
// order. ?limit=n returns only the most recent n; ?format=html adds an
// HTML rendering of each message's markdown.
func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "conversation store not configured")
		return
	}
	ctx := r.Context()
	id := r.PathValue("id")

	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, memory.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("get conversation failed", "conversation", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not load conversation")
		return
	}

	var msgs []memory.Message
	if limit := parseIntParam(r, "limit", 0); limit > 0 {
		msgs, err = s.store.RecentMessages(ctx, id, limit)
	} else {
		msgs, err = s.store.Messages(ctx, id)
	}
	if err != nil {
		s.logger.Error("load messages failed", "conversation", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not load messages")
		return
	}

	asHTML := r.URL.Query().Get("format") == "html"
	views := make([]messageView, len(msgs))
	for i, m := range msgs {
		views[i] = messageView{Message: m}
		if !asHTML {
			continue
		}
		html, err := render.HTML(m.Content)
		if err != nil {
			s.logger.Warn("render failed", "message", m.ID, "error", err)
			continue
		}
		views[i].HTML = html
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversation": conv,
		"messages":     views,
		"count":        len(views),
	}, s.logger)
}

// handleStructurePut records the structure of an upload. The body is the
// structure JSON; its "root" field, or the ?root= query parameter, names
// the extracted root.
func (s *Server) handleStructurePut(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "conversation store not configured")
		return
	}
	var doc json.RawMessage
	if !s.decodeBody(w, r, &doc) {
		return
	}
	if !strings.HasPrefix(strings.TrimSpace(string(doc)), "{") {
		s.errorResponse(w, http.StatusBadRequest, "structure must be a JSON object")
		return
	}

	st := &memory.Structure{
		SubjectID: r.PathValue("subject"),
		JSON:      doc,
		Root:      r.URL.Query().Get("root"),
	}
	if st.ResolveRoot() == "" {
		s.errorResponse(w, http.StatusBadRequest, "structure has no root")
		return
	}
	if err := s.store.SaveStructure(r.Context(), st); err != nil {
		s.logger.Error("save structure failed", "subject", st.SubjectID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not save structure")
		return
	}
	s.logger.Info("structure saved", "subject", st.SubjectID, "root", st.ResolveRoot())

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, st, s.logger)
}

func (s *Server) handleStructureGet(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "conversation store not configured")
		return
	}
	subject := r.PathValue("subject")
	st, err := s.store.GetStructure(r.Context(), subject)
	if errors.Is(err, memory.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "structure not found")
		return
	}
	if err != nil {
		s.logger.Error("get structure failed", "subject", subject, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not load structure")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, st, s.logger)
}
