package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/ca-srg/slackself/internal/mcpserver"
)

var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Serve the self_messages tool to an MCP client over stdio",
	Long: `
The mcp-server command speaks the Model Context Protocol on stdin/stdout and
exposes one tool, self_messages (start, end, types), that returns your
messages grouped by conversation. Calls run with SLACK_USER_TOKEN.

Logs go to stderr. The web server started by "slackself serve" offers the
same tool over HTTP at /mcp.

Example client configuration:
  {"command": "slackself", "args": ["mcp-server"], "env": {"SLACK_USER_TOKEN": "xoxp-..."}}
`,
	RunE: runMCPServer,
}

func runMCPServer(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stderr, "[mcp] ", log.LstdFlags)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateUserToken(); err != nil {
		return err
	}

	shutdownTelemetry := initTelemetry(cfg, logger)
	defer shutdownTelemetry()

	service, err := newService(cfg, logger)
	if err != nil {
		return err
	}

	server, err := mcpserver.New(service, mcpserver.Config{
		RunTimeout: cfg.RunTimeout,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	return server.RunStdio(ctx, cfg.SlackUserToken)
}
