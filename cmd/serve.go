package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/ca-srg/slackself/internal/mcpserver"
	"github.com/ca-srg/slackself/internal/session"
	"github.com/ca-srg/slackself/internal/slackauth"
	"github.com/ca-srg/slackself/internal/webui"
)

var (
	serveHost    string
	servePort    int
	serveMaxRuns int
	serveNoMCP   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web app with Slack sign-in",
	Long: `
The serve command starts a local web server that provides:
- Slack OAuth sign-in with a user token
- A page to pick a date range and conversation types
- Live progress over Server-Sent Events while messages are collected
- JSON export of the grouped result
- An MCP endpoint at /mcp (bearer token: session token or Slack user token)

Required environment: SLACK_CLIENT_ID, SLACK_CLIENT_SECRET, SLACK_REDIRECT_URI, SESSION_SECRET.

Example:
  slackself serve                       # Start with defaults (localhost:3000)
  slackself serve --port 8443           # Use custom port
`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind the web server (default SERVER_HOST)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to bind the web server (default SERVER_PORT)")
	serveCmd.Flags().IntVar(&serveMaxRuns, "max-runs", 20, "Maximum number of concurrent aggregation runs")
	serveCmd.Flags().BoolVar(&serveNoMCP, "no-mcp", false, "Do not mount the MCP endpoint")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stdout, "[webui] ", log.LstdFlags)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.ServerHost = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.ServerPort = servePort
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	shutdownTelemetry := initTelemetry(cfg, logger)
	defer shutdownTelemetry()

	service, err := newService(cfg, log.New(os.Stdout, "", log.LstdFlags))
	if err != nil {
		return err
	}

	sessions, err := session.NewManager(session.Options{
		Secret:       []byte(cfg.SessionSecret),
		CookieName:   cfg.SessionCookieName,
		TTL:          cfg.SessionTTL,
		SecureCookie: cfg.SessionSecureCookie,
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	auth, err := slackauth.New(slackauth.Config{
		ClientID:     cfg.SlackClientID,
		ClientSecret: cfg.SlackClientSecret,
		RedirectURI:  cfg.SlackRedirectURI,
		APIURL:       cfg.SlackAPIURL,
		Logger:       log.New(os.Stdout, "[slackauth] ", log.LstdFlags),
	})
	if err != nil {
		return fmt.Errorf("failed to create Slack OAuth client: %w", err)
	}

	deps := webui.Dependencies{
		Runner:   service,
		Sessions: sessions,
		Auth:     auth,
		Logger:   logger,
	}
	if !serveNoMCP {
		mcpSrv, err := mcpserver.New(service, mcpserver.Config{
			RunTimeout: cfg.RunTimeout,
			Logger:     log.New(os.Stdout, "[mcp] ", log.LstdFlags),
		})
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}
		deps.MCPHandler = mcpSrv.HTTPHandler(mcpserver.NewTokenResolver(sessions))
	}

	serverConfig := webui.DefaultServerConfig()
	serverConfig.Host = cfg.ServerHost
	serverConfig.Port = cfg.ServerPort
	serverConfig.RunTimeout = cfg.RunTimeout
	serverConfig.MaxRuns = serveMaxRuns
	serverConfig.TLSCertFile = cfg.ServerTLSCert
	serverConfig.TLSKeyFile = cfg.ServerTLSKey

	server, err := webui.NewServer(serverConfig, deps)
	if err != nil {
		return fmt.Errorf("failed to create web server: %w", err)
	}

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	return server.Run(ctx)
}
