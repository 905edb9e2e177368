package webui

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrTooManyRuns is returned when the concurrent run limit is reached.
var ErrTooManyRuns = errors.New("too many concurrent runs")

// SSEConfig holds configuration for the run registry and event streams
type SSEConfig struct {
	HeartbeatInterval time.Duration
	MaxRuns           int
}

// activeRun is one aggregation run attached to an HTTP request.
type activeRun struct {
	ID      string
	UserID  string
	Started time.Time
	cancel  context.CancelFunc
}

// SSEManager tracks in-flight aggregation runs so they can be limited and
// cancelled on shutdown.
type SSEManager struct {
	runs   map[string]*activeRun
	mu     sync.Mutex
	config *SSEConfig
	logger *log.Logger
	closed bool
}

// NewSSEManager creates a new run registry
func NewSSEManager(config *SSEConfig, logger *log.Logger) *SSEManager {
	if config == nil {
		config = &SSEConfig{}
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 15 * time.Second
	}
	if config.MaxRuns <= 0 {
		config.MaxRuns = 20
	}
	if logger == nil {
		logger = log.Default()
	}

	return &SSEManager{
		runs:   make(map[string]*activeRun),
		config: config,
		logger: logger,
	}
}

// Register records a run. cancel is invoked when the manager stops.
func (m *SSEManager) Register(id, userID string, cancel context.CancelFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return context.Canceled
	}
	if len(m.runs) >= m.config.MaxRuns {
		return ErrTooManyRuns
	}

	m.runs[id] = &activeRun{
		ID:      id,
		UserID:  userID,
		Started: time.Now(),
		cancel:  cancel,
	}
	m.logger.Printf("run registered: %s (user=%s, active=%d)", id, userID, len(m.runs))
	return nil
}

// Unregister forgets a finished run
func (m *SSEManager) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run, ok := m.runs[id]; ok {
		delete(m.runs, id)
		m.logger.Printf("run finished: %s after %v (active=%d)", id, time.Since(run.Started).Round(time.Millisecond), len(m.runs))
	}
}

// Stop cancels every active run and rejects new ones
func (m *SSEManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for _, run := range m.runs {
		run.cancel()
	}
	m.runs = make(map[string]*activeRun)
}

// ActiveRuns returns the number of in-flight runs
func (m *SSEManager) ActiveRuns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// HeartbeatInterval returns how often idle streams receive a keep-alive comment
func (m *SSEManager) HeartbeatInterval() time.Duration {
	return m.config.HeartbeatInterval
}

// formatSSEMessage frames a JSON payload as a single SSE data event.
func formatSSEMessage(data []byte) []byte {
	msg := make([]byte, 0, len(data)+8)
	msg = append(msg, "data: "...)
	msg = append(msg, data...)
	return append(msg, '\n', '\n')
}

var heartbeatFrame = []byte(": ping\n\n")
