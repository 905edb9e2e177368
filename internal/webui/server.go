package webui

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ca-srg/slackself/internal/session"
)

// ServerConfig holds the web server configuration
type ServerConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RunTimeout        time.Duration
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	MaxRuns           int
	TLSCertFile       string
	TLSKeyFile        string
}

// DefaultServerConfig returns the default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:              "localhost",
		Port:              3000,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		RunTimeout:        600 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		SweepInterval:     10 * time.Minute,
		MaxRuns:           20,
	}
}

// Dependencies are the collaborators the server routes requests to.
type Dependencies struct {
	Runner   Runner
	Sessions *session.Manager
	// Auth is nil when the Slack app credentials are not configured.
	Auth OAuthClient
	// MCPHandler is mounted at /mcp when set.
	MCPHandler http.Handler
	Logger     *log.Logger
}

// Server is the browser-facing HTTP server
type Server struct {
	config       *ServerConfig
	runner       Runner
	sessions     *session.Manager
	auth         OAuthClient
	mcpHandler   http.Handler
	httpServer   *http.Server
	templates    *TemplateManager
	sseManager   *SSEManager
	logger       *log.Logger
	now          func() time.Time
	shutdownOnce sync.Once
}

// NewServer creates a new web server
func NewServer(serverConfig *ServerConfig, deps Dependencies) (*Server, error) {
	if serverConfig == nil {
		serverConfig = DefaultServerConfig()
	}
	if deps.Runner == nil {
		return nil, errors.New("webui: runner is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("webui: session manager is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[webui] ", log.LstdFlags)
	}

	templates, err := NewTemplateManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize templates: %w", err)
	}

	return &Server{
		config:     serverConfig,
		runner:     deps.Runner,
		sessions:   deps.Sessions,
		auth:       deps.Auth,
		mcpHandler: deps.MCPHandler,
		templates:  templates,
		sseManager: NewSSEManager(&SSEConfig{
			HeartbeatInterval: serverConfig.HeartbeatInterval,
			MaxRuns:           serverConfig.MaxRuns,
		}, logger),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.setupRoutes())
}

// Run starts the server and blocks until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	go s.sweepSessions(ctx)

	errChan := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
			s.logger.Printf("Starting server at https://%s", s.httpServer.Addr)
			err = s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			s.logger.Printf("Starting server at http://%s", s.httpServer.Addr)
			err = s.httpServer.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		s.sseManager.Stop()
		return err
	}
}

// shutdown cancels in-flight runs and drains the HTTP server
func (s *Server) shutdown() error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.logger.Println("Shutting down server...")

		s.sseManager.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}
	})
	return shutdownErr
}

// sweepSessions drops expired sessions until ctx is done
func (s *Server) sweepSessions(ctx context.Context) {
	interval := s.config.SweepInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Sweep(); n > 0 {
				s.logger.Printf("expired sessions removed: %d", n)
			}
		}
	}
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/api/auth/slack/login", s.handleLogin)
	mux.HandleFunc("/api/auth/slack/callback", s.handleCallback)
	mux.HandleFunc("/api/auth/slack/logout", s.handleLogout)
	mux.HandleFunc("/api/user", s.handleUser)

	mux.HandleFunc("/api/slack/self_messages", s.handleSelfMessages)
	mux.HandleFunc("/api/slack/self_messages_sse", s.handleSelfMessagesSSE)

	if s.mcpHandler != nil {
		mux.Handle("/mcp", s.mcpHandler)
	}

	return mux
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// The health probe is too noisy to log.
		skipLog := r.URL.Path == "/health"

		if !skipLog {
			s.logger.Printf("%s %s", r.Method, r.URL.Path)
		}

		next.ServeHTTP(w, r)

		if !skipLog {
			s.logger.Printf("%s %s completed in %v", r.Method, r.URL.Path, time.Since(start))
		}
	})
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
