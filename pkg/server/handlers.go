package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/balizero/nuzantara/pkg/memory"
	"github.com/balizero/nuzantara/pkg/protocol"
)

// maxQueryLength bounds the accepted query text.
const maxQueryLength = 8000

type queryRequest struct {
	Query     string            `json:"query"`
	SessionID string            `json:"session_id,omitempty"`
	Hints     map[string]string `json:"hints,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleQuery runs one turn and streams its events as SSE. The event
// channel is bounded; a slow client backpressures the turn instead of
// growing memory, and a gone client cancels it.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no principal")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}
	if len(req.Query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "query too long")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	q := protocol.Query{
		Text:      req.Query,
		SessionID: req.SessionID,
		Principal: principal,
		Hints:     req.Hints,
	}

	events := make(chan protocol.Event, s.limits.EventBuffer)
	go func() {
		defer close(events)
		s.orch.HandleTurn(ctx, q, func(ev protocol.Event) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	clientGone := false
	for ev := range events {
		if clientGone {
			continue
		}
		if err := sse.write(ev); err != nil {
			s.logger.DebugContext(ctx, "Client disconnected mid-stream", "session_id", q.SessionID)
			clientGone = true
			cancel()
		}
	}
}

// handleHistory returns the stored messages of a session owned by the
// calling principal.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no principal")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	rawLimit := r.URL.Query().Get("limit")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	limit := 50
	if rawLimit != "" {
		n, err := strconv.Atoi(rawLimit)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be in [1,500]")
			return
		}
		limit = n
	}

	if _, err := s.sessions.GetOrCreateSession(r.Context(), sessionID, principal.ID); err != nil {
		if errors.Is(err, memory.ErrSessionOwnership) {
			writeError(w, http.StatusForbidden, "session belongs to another principal")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to open session")
		return
	}

	messages, err := s.sessions.GetMessages(r.Context(), sessionID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
	})
}

// historyAppendRequest carries one externally written message, such as a
// human operator note added to a session transcript.
type historyAppendRequest struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content"`
}

// handleHistoryAppend writes one message into a session owned by the
// calling principal. Content goes through the same storage redaction as
// messages persisted by a turn.
func (s *Server) handleHistoryAppend(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no principal")
		return
	}

	var req historyAppendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content must not be empty")
		return
	}
	if len(req.Content) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "content too long")
		return
	}

	if _, err := s.sessions.GetOrCreateSession(r.Context(), req.SessionID, principal.ID); err != nil {
		if errors.Is(err, memory.ErrSessionOwnership) {
			writeError(w, http.StatusForbidden, "session belongs to another principal")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to open session")
		return
	}

	content := req.Content
	if s.redactor != nil {
		content = s.redactor.RedactForStorage(content)
	}

	var msg protocol.Message
	switch req.Role {
	case "", string(protocol.RoleUser):
		msg = protocol.NewUserMessage(content)
	case string(protocol.RoleAssistant):
		msg = protocol.NewAssistantMessage(content, nil)
	default:
		writeError(w, http.StatusBadRequest, "role must be user or assistant")
		return
	}

	if err := s.sessions.AppendMessage(r.Context(), req.SessionID, msg); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to append message")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": req.SessionID,
		"message":    msg,
	})
}

// handleTools lists the registered tool schemas.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.toolDefs})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}
