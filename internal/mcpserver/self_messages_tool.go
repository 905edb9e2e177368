package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ca-srg/slackself/internal/selfmessages"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
)

// SelfMessagesToolName is the name the aggregation tool is registered under.
const SelfMessagesToolName = "self_messages"

// typesArg accepts either ["channel","dm"] or "channel,dm".
type typesArg []string

func (t *typesArg) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("types must be a string or an array of strings: %w", err)
	}
	*t = strings.Split(joined, ",")
	return nil
}

type selfMessagesArgs struct {
	Start string   `json:"start"`
	End   string   `json:"end"`
	Types typesArg `json:"types,omitempty"`
}

type selfMessagesTool struct {
	runner  Runner
	cred    Credential
	timeout time.Duration
	logger  *log.Logger
}

func newSelfMessagesTool(runner Runner, cred Credential, timeout time.Duration, logger *log.Logger) *selfMessagesTool {
	return &selfMessagesTool{runner: runner, cred: cred, timeout: timeout, logger: logger}
}

func (t *selfMessagesTool) definition() *mcp.Tool {
	datePattern := `^\d{4}-\d{2}-\d{2}$`
	return &mcp.Tool{
		Name: SelfMessagesToolName,
		Description: "Collect the messages the signed-in Slack user posted between two dates (inclusive), " +
			"grouped by conversation display name. Each group carries its conversation type and the messages " +
			"sorted oldest first.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"start": {
					Type:        "string",
					Format:      "date",
					Pattern:     datePattern,
					Description: "First day to include, YYYY-MM-DD.",
				},
				"end": {
					Type:        "string",
					Format:      "date",
					Pattern:     datePattern,
					Description: "Last day to include, YYYY-MM-DD.",
				},
				"types": {
					Type:        "array",
					Description: "Conversation types to keep. Defaults to all of them.",
					Items: &jsonschema.Schema{
						Type: "string",
						Enum: []any{selfmessages.TypeChannel, selfmessages.TypeGroupDM, selfmessages.TypeDM},
					},
				},
			},
			Required: []string{"start", "end"},
			Examples: []any{
				map[string]any{"start": "2024-06-01", "end": "2024-06-03"},
				map[string]any{"start": "2024-06-01", "end": "2024-06-01", "types": []string{"dm"}},
			},
		},
	}
}

func (t *selfMessagesTool) handle(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, call := startToolCall(ctx, SelfMessagesToolName, t.cred.Method)
	defer call.end(ctx)

	var args selfMessagesArgs
	if req != nil && req.Params != nil && len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			call.fail("invalid_arguments", err)
			return nil, fmt.Errorf("failed to unmarshal tool arguments: %w", err)
		}
	}
	call.span.SetAttributes(
		attribute.String("mcp.self_messages.start", args.Start),
		attribute.String("mcp.self_messages.end", args.End),
		attribute.StringSlice("mcp.self_messages.types", args.Types),
	)

	runCtx, cancel := t.runContext(ctx)
	defer cancel()

	events, err := t.runner.Run(runCtx, t.cred.Token, selfmessages.Request{
		Start: args.Start,
		End:   args.End,
		Types: selfmessages.ParseSelection(args.Types),
	})
	if err == nil {
		var result *selfmessages.Result
		result, err = selfmessages.Collect(runCtx, t.forwardProgress(runCtx, req, events))
		if err == nil {
			return t.success(call, result)
		}
	}

	kind := string(selfmessages.KindOf(err))
	t.logger.Printf("self_messages failed user=%s kind=%s: %v", t.cred.UserID, kind, err)
	call.fail(kind, err)
	return errorResult(err), nil
}

func (t *selfMessagesTool) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout > 0 {
		return context.WithTimeout(ctx, t.timeout)
	}
	return context.WithCancel(ctx)
}

// forwardProgress relays progress events to the client as MCP progress
// notifications when the call carries a progress token.
func (t *selfMessagesTool) forwardProgress(ctx context.Context, req *mcp.CallToolRequest, events <-chan selfmessages.Event) <-chan selfmessages.Event {
	if req == nil || req.Params == nil || req.Session == nil {
		return events
	}
	token := req.Params.GetProgressToken()
	if token == nil {
		return events
	}

	out := make(chan selfmessages.Event)
	go func() {
		defer close(out)
		step := 0.0
		for ev := range events {
			if ev.Type == selfmessages.EventProgress {
				step++
				_ = req.Session.NotifyProgress(ctx, &mcp.ProgressNotificationParams{
					ProgressToken: token,
					Progress:      step,
					Message:       ev.Message,
				})
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (t *selfMessagesTool) success(call *toolCall, result *selfmessages.Result) (*mcp.CallToolResult, error) {
	payload, err := selfmessages.EncodeJSON(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	conversations := 0
	if result != nil {
		conversations = len(result.Buckets)
	}
	call.span.SetAttributes(
		attribute.Int("mcp.self_messages.conversations", conversations),
		attribute.Int("mcp.self_messages.messages", result.TotalMessages()),
	)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}, nil
}

// errorResult reports a failed run as a tool error carrying the error tag.
func errorResult(err error) *mcp.CallToolResult {
	runErr := &selfmessages.RunError{Kind: selfmessages.KindOf(err)}
	var typed *selfmessages.RunError
	if errors.As(err, &typed) {
		runErr.Detail = typed.Detail
	}
	payload, _ := json.Marshal(runErr)
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}
}
