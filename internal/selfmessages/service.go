package selfmessages

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SlackAPI is every Slack Web API call a run makes on behalf of one user.
type SlackAPI interface {
	SearchClient
	DirectoryClient
	// WhoAmI returns the user id the credential belongs to.
	WhoAmI(ctx context.Context) (string, error)
}

// ClientFactory builds a SlackAPI bound to a user credential.
type ClientFactory func(token string) SlackAPI

// Options configures a Service. The zero value uses the reference limits.
type Options struct {
	PageSize          int
	MaxPages          int
	MemberConcurrency int
	Location          *time.Location
	Logger            *log.Logger
}

// Service runs aggregation requests. It holds no per-run state and is safe for
// concurrent use.
type Service struct {
	newClient ClientFactory
	opts      Options
	logger    *log.Logger
	metrics   *instruments
}

// NewService constructs a Service.
func NewService(factory ClientFactory, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		newClient: factory,
		opts:      opts,
		logger:    logger,
		metrics:   defaultInstruments,
	}
}

// Run validates req and starts one aggregation run for the user owning token.
// Validation and missing-credential failures are returned synchronously; everything
// after that is reported on the returned channel, which is closed after the terminal
// event. Cancelling ctx stops further Slack calls. The consumer must either drain the
// channel or cancel ctx.
func (s *Service) Run(ctx context.Context, token string, req Request) (<-chan Event, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		return nil, newRunError(ErrorKindNotLoggedIn, "no user credential", nil)
	}
	if s.newClient == nil {
		return nil, newRunError(ErrorKindFetchMessages, "slack client factory not configured", nil)
	}

	events := make(chan Event)
	go s.run(ctx, token, req, events)
	return events, nil
}

func (s *Service) run(ctx context.Context, token string, req Request, events chan<- Event) {
	defer close(events)

	runID := uuid.NewString()
	started := time.Now()
	ctx, span := tracer.Start(ctx, "selfmessages.service.run")
	defer span.End()
	span.SetAttributes(attribute.String("slackself.run_id", runID))

	reporter := newReporter(ctx, events)
	logger := log.New(s.logger.Writer(), fmt.Sprintf("%srun=%s ", s.logger.Prefix(), runID[:8]), s.logger.Flags())

	defer func() {
		if rec := recover(); rec != nil {
			logger.Printf("run panicked: %v", rec)
			span.SetStatus(codes.Error, "panic")
			s.metrics.recordRun(ctx, string(ErrorKindFetchMessages), started)
			reporter.fail(newRunError(ErrorKindFetchMessages, "unexpected failure", fmt.Errorf("%v", rec)))
		}
	}()

	result, err := s.execute(ctx, token, req, reporter, logger)
	if err != nil {
		runErr, ok := err.(*RunError)
		if !ok {
			runErr = newRunError(ErrorKindFetchMessages, "run failed", err)
		}
		logger.Printf("run failed kind=%s: %v", runErr.Kind, runErr)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, string(runErr.Kind))
		s.metrics.recordRun(ctx, string(runErr.Kind), started)
		reporter.fail(runErr)
		return
	}

	logger.Printf("run completed conversations=%d messages=%d elapsed=%s",
		len(result.Buckets), result.TotalMessages(), time.Since(started).Round(time.Millisecond))
	span.SetAttributes(
		attribute.Int("slackself.conversations", len(result.Buckets)),
		attribute.Int("slackself.messages", result.TotalMessages()),
	)
	s.metrics.recordRun(ctx, "complete", started)
	reporter.complete(result)
}

func (s *Service) execute(ctx context.Context, token string, req Request, reporter *Reporter, logger *log.Logger) (*Result, error) {
	start, _ := ParseDate(req.Start)
	end, _ := ParseDate(req.End)
	client := s.newClient(token)

	reporter.Progress("Checking authentication...", nil)
	selfID, err := client.WhoAmI(ctx)
	if err != nil {
		if isContextError(err) {
			return nil, newRunError(ErrorKindCanceled, "auth.test interrupted", err)
		}
		return nil, newRunError(ErrorKindAuthFailed, "auth.test failed", err)
	}
	if selfID == "" {
		return nil, newRunError(ErrorKindAuthFailed, "auth.test returned no user id", nil)
	}

	query := BuildQuery(selfID, start, end)
	logger.Printf("query prepared hash=%s start=%s end=%s", telemetryFingerprint(query), req.Start, req.End)
	reporter.Progress("Search query ready", map[string]any{"query": query})
	reporter.Progress("Targets: "+strings.Join(req.Types.Labels(), ", "), nil)

	paginator := NewPaginator(client, PaginatorOptions{
		PageSize: s.opts.PageSize,
		MaxPages: s.opts.MaxPages,
		Reporter: reporter,
		Logger:   logger,
	})
	matches, stats, err := paginator.All(ctx, query)
	if err != nil {
		return nil, err
	}
	reporter.Progress(fmt.Sprintf("All pages fetched: %d matches", len(matches)), map[string]any{
		"pages":       stats.Pages,
		"total":       stats.Total,
		"cap_reached": stats.CapReached,
	})

	reporter.Progress("Grouping by conversation...", nil)
	resolver := NewResolver(client, selfID, ResolverOptions{
		MemberConcurrency: s.opts.MemberConcurrency,
		Logger:            logger,
	})
	resolved := make([]ResolvedMatch, 0, len(matches))
	for _, m := range matches {
		// Kinds are fixed by the reference flags, so unselected conversations are
		// dropped before any lookup is spent on them.
		if !req.Types.Includes(Classify(m.Conversation)) {
			continue
		}
		if !resolver.Cached(m.Conversation.ID) {
			switch {
			case m.Conversation.IsIM:
				reporter.Progress("Resolving DM counterpart name...", nil)
			case m.Conversation.IsMPIM:
				reporter.Progress("Resolving group DM member names...", nil)
			}
		}
		label := resolver.Resolve(ctx, m.Conversation)
		if err := ctx.Err(); err != nil {
			return nil, newRunError(ErrorKindCanceled, "conversation resolution interrupted", err)
		}
		resolved = append(resolved, ResolvedMatch{Match: m, Label: label})
	}

	reporter.Progress("Formatting results...", nil)
	result := Aggregate(resolved, req.Types, s.opts.Location)
	reporter.Progress(fmt.Sprintf("Done: %d messages after filtering", result.TotalMessages()), nil)
	return result, nil
}
