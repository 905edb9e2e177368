package mcpserver

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ca-srg/slackself/internal/selfmessages"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Runner starts aggregation runs.
type Runner interface {
	Run(ctx context.Context, token string, req selfmessages.Request) (<-chan selfmessages.Event, error)
}

// Config configures the MCP server.
type Config struct {
	Name    string
	Version string
	// RunTimeout bounds every tool call. Zero disables the bound.
	RunTimeout time.Duration
	Logger     *log.Logger
}

// Server exposes the aggregation as an MCP tool.
type Server struct {
	runner Runner
	config Config
	logger *log.Logger
}

// New creates a Server.
func New(runner Runner, cfg Config) (*Server, error) {
	if runner == nil {
		return nil, errors.New("mcpserver: runner is required")
	}
	if cfg.Name == "" {
		cfg.Name = "slackself-mcp-server"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{runner: runner, config: cfg, logger: logger}, nil
}

// NewMCPServer builds an SDK server whose tools run as cred.
func (s *Server) NewMCPServer(cred Credential) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    s.config.Name,
		Version: s.config.Version,
	}, nil)

	tool := newSelfMessagesTool(s.runner, cred, s.config.RunTimeout, s.logger)
	server.AddTool(tool.definition(), tool.handle)
	return server
}

// RunStdio serves one client over stdin/stdout until ctx is done or the client leaves.
func (s *Server) RunStdio(ctx context.Context, token string) error {
	s.logger.Printf("Starting MCP server on stdio")
	return s.NewMCPServer(Credential{Token: token, Method: AuthMethodStdio}).Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler serves MCP over HTTP. Every request must carry a bearer token
// that resolve accepts; the tool runs with the Slack token it resolves to.
func (s *Server) HTTPHandler(resolve TokenResolver) http.Handler {
	getServer := func(r *http.Request) *mcp.Server {
		cred, err := resolve(bearerToken(r))
		if err != nil {
			return nil
		}
		return s.NewMCPServer(cred)
	}
	return requireBearer(resolve, newTransportMux(getServer))
}
