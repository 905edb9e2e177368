package webui

import (
	"net/http"
	"time"

	"github.com/ca-srg/slackself/internal/selfmessages"
)

// setSSEHeaders prepares w for an event stream
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

// handleSelfMessagesSSE streams the progress and result of one aggregation run
func (s *Server) handleSelfMessagesSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, ErrorResponse{Error: errStreamingUnsupported})
		return
	}

	run, status, body := s.startRun(r)
	if body != nil {
		setSSEHeaders(w)
		w.WriteHeader(status)
		s.writeFrame(w, body)
		flusher.Flush()
		return
	}
	defer run.close()
	clearWriteDeadline(w)

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(s.sseManager.HeartbeatInterval())
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = w.Write(heartbeatFrame)
			flusher.Flush()
		case ev, ok := <-run.events:
			if !ok {
				// The run stopped without a terminal event: the time limit fired.
				s.writeFrame(w, ErrorResponse{Error: string(selfmessages.ErrorKindCanceled)})
				flusher.Flush()
				return
			}
			s.writeFrame(w, ev)
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		}
	}
}

// writeFrame encodes payload as one SSE data event
func (s *Server) writeFrame(w http.ResponseWriter, payload interface{}) {
	data, err := selfmessages.EncodeJSON(payload)
	if err != nil {
		s.logger.Printf("Failed to encode SSE event: %v", err)
		data = []byte(`{"error":"failed_to_fetch_messages"}`)
	}
	_, _ = w.Write(formatSSEMessage(data))
}
