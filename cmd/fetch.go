package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ca-srg/slackself/internal/markup"
	"github.com/ca-srg/slackself/internal/selfmessages"
)

// outputFormat is the --format flag value.
type outputFormat string

const (
	formatJSON outputFormat = "json"
	formatText outputFormat = "text"
)

var _ pflag.Value = (*outputFormat)(nil)

func (f *outputFormat) String() string { return string(*f) }

func (f *outputFormat) Set(v string) error {
	switch outputFormat(strings.ToLower(v)) {
	case formatJSON:
		*f = formatJSON
	case formatText:
		*f = formatText
	default:
		return fmt.Errorf("unsupported format %q (want json or text)", v)
	}
	return nil
}

func (f *outputFormat) Type() string { return "format" }

var (
	fetchStart   string
	fetchEnd     string
	fetchTypes   []string
	fetchFormat  outputFormat = formatJSON
	fetchOutput  string
	fetchVerbose bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Collect your messages for a date range and print them",
	Long: `
The fetch command runs one aggregation with SLACK_USER_TOKEN and prints the
result grouped by conversation. Progress is shown on stderr.

Example:
  slackself fetch --start 2024-06-01 --end 2024-06-03
  slackself fetch --start 2024-06-01 --end 2024-06-01 --types dm,group_dm --format text
  slackself fetch --start 2024-06-01 --end 2024-06-30 --output june.json
`,
	RunE: runFetch,
}

func init() {
	today := time.Now().Format(selfmessages.DateLayout)
	fetchCmd.Flags().StringVar(&fetchStart, "start", today, "First day to include (YYYY-MM-DD)")
	fetchCmd.Flags().StringVar(&fetchEnd, "end", today, "Last day to include (YYYY-MM-DD)")
	fetchCmd.Flags().StringSliceVarP(&fetchTypes, "types", "t", selfmessages.DefaultTypes, "Conversation types: channel, group_dm, dm")
	fetchCmd.Flags().VarP(&fetchFormat, "format", "f", "Output format: json or text")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "Write the result to a file instead of stdout")
	fetchCmd.Flags().BoolVarP(&fetchVerbose, "verbose", "v", false, "Log Slack API calls to stderr")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateUserToken(); err != nil {
		return err
	}

	logger := discardLogger()
	if fetchVerbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	shutdownTelemetry := initTelemetry(cfg, logger)
	defer shutdownTelemetry()

	service, err := newService(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()
	if cfg.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	events, err := service.Run(ctx, cfg.SlackUserToken, selfmessages.Request{
		Start: fetchStart,
		End:   fetchEnd,
		Types: selfmessages.ParseSelection(fetchTypes),
	})
	if err != nil {
		return err
	}

	spinner, _ := pterm.DefaultSpinner.WithWriter(os.Stderr).Start("Starting...")
	result, err := selfmessages.CollectWithProgress(ctx, events, func(ev selfmessages.Event) {
		if spinner != nil {
			spinner.UpdateText(ev.Message)
		}
	})
	if err != nil {
		if spinner != nil {
			spinner.Fail(describeRunError(err))
		}
		return err
	}
	if spinner != nil {
		spinner.Success(fmt.Sprintf("%d messages in %d conversations", result.TotalMessages(), len(result.Buckets)))
	}

	out := io.Writer(os.Stdout)
	if fetchOutput != "" {
		f, err := os.Create(fetchOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	if fetchFormat == formatText {
		return writeText(out, result)
	}
	return writeJSON(out, result)
}

// describeRunError turns a run failure into a one-line message for the terminal.
func describeRunError(err error) string {
	kind := selfmessages.KindOf(err)
	switch kind {
	case selfmessages.ErrorKindInvalidDate:
		return "Dates must be YYYY-MM-DD"
	case selfmessages.ErrorKindAuthFailed, selfmessages.ErrorKindNotLoggedIn:
		return "Slack rejected the user token"
	case selfmessages.ErrorKindCanceled:
		return "Interrupted"
	}
	return fmt.Sprintf("Failed (%s): %v", kind, err)
}

func writeJSON(w io.Writer, result *selfmessages.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(result)
}

// writeText prints conversations by name with their messages oldest first.
func writeText(w io.Writer, result *selfmessages.Result) error {
	if result == nil {
		return nil
	}
	names := make([]string, 0, len(result.Buckets))
	for name := range result.Buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		bucket := result.Buckets[name]
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s (%s, %d)\n", name, bucket.Kind, len(bucket.Messages))
		for _, msg := range bucket.Messages {
			text := strings.ReplaceAll(markup.Plain(msg.Text), "\n", "\n    ")
			fmt.Fprintf(&b, "%s  %s\n", msg.Date, text)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
