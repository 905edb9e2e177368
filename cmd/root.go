package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "slackself",
	Short: "slackself - collect your own Slack messages over a date range",
	Long: `slackself searches the messages you posted in Slack between two dates and
groups them by conversation (channels, group DMs and DMs).

It runs as a local web app with Slack sign-in (serve), as a one-shot CLI
(fetch) or as an MCP server (mcp-server).`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(mcpServerCmd)
}
