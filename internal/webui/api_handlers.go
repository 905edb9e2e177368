package webui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ca-srg/slackself/internal/selfmessages"
	"github.com/google/uuid"
)

// activeRunHandle is a registered run bound to one request.
type activeRunHandle struct {
	id     string
	ctx    context.Context
	events <-chan selfmessages.Event
	cancel context.CancelFunc
	server *Server
}

// close stops the run and releases its slot.
func (h *activeRunHandle) close() {
	h.cancel()
	h.server.sseManager.Unregister(h.id)
}

// requestFromQuery reads start, end and types from the query string.
func requestFromQuery(r *http.Request) selfmessages.Request {
	query := r.URL.Query()
	return selfmessages.Request{
		Start: query.Get("start"),
		End:   query.Get("end"),
		Types: selfmessages.ParseSelection(query["types"]),
	}
}

// startRun authenticates the caller, registers a run slot and starts the
// aggregation. On failure it returns the HTTP status and body to send instead.
func (s *Server) startRun(r *http.Request) (*activeRunHandle, int, *ErrorResponse) {
	sess, err := s.currentSession(r)
	if err != nil {
		return nil, http.StatusUnauthorized, &ErrorResponse{Error: errNotLoggedIn}
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.config.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(r.Context(), s.config.RunTimeout)
	} else {
		ctx, cancel = context.WithCancel(r.Context())
	}

	id := uuid.NewString()
	if err := s.sseManager.Register(id, sess.UserID, cancel); err != nil {
		cancel()
		if errors.Is(err, ErrTooManyRuns) {
			return nil, http.StatusServiceUnavailable, &ErrorResponse{Error: errTooManyRuns}
		}
		return nil, http.StatusServiceUnavailable, &ErrorResponse{Error: string(selfmessages.ErrorKindCanceled)}
	}

	events, err := s.runner.Run(ctx, sess.AccessToken, requestFromQuery(r))
	if err != nil {
		cancel()
		s.sseManager.Unregister(id)
		status, body := runErrorResponse(err)
		return nil, status, body
	}

	return &activeRunHandle{id: id, ctx: ctx, events: events, cancel: cancel, server: s}, 0, nil
}

// runErrorResponse maps a run failure to its HTTP status and body.
func runErrorResponse(err error) (int, *ErrorResponse) {
	body := &ErrorResponse{Error: string(selfmessages.KindOf(err))}
	var runErr *selfmessages.RunError
	if errors.As(err, &runErr) {
		body.Detail = runErr.Detail
	}

	switch selfmessages.KindOf(err) {
	case selfmessages.ErrorKindInvalidDate:
		return http.StatusBadRequest, body
	case selfmessages.ErrorKindNotLoggedIn:
		return http.StatusUnauthorized, body
	default:
		return http.StatusInternalServerError, body
	}
}

// handleSelfMessages runs an aggregation and answers with the grouped result
func (s *Server) handleSelfMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	run, status, body := s.startRun(r)
	if body != nil {
		s.writeError(w, status, *body)
		return
	}
	defer run.close()
	clearWriteDeadline(w)

	result, err := selfmessages.Collect(run.ctx, run.events)
	if err != nil {
		status, body := runErrorResponse(err)
		s.writeError(w, status, *body)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// clearWriteDeadline lifts the server write timeout for long running responses.
func clearWriteDeadline(w http.ResponseWriter) {
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		s.logger.Printf("Failed to encode JSON response: %v", err)
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, body ErrorResponse) {
	s.writeJSON(w, status, body)
}
