package selfmessages

import (
	"context"
	"fmt"
	"io"
	"log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// MaxPageSize is the largest count search.messages accepts.
	MaxPageSize = 100
	// DefaultMaxPages is also the upper bound: a run never requests more pages.
	DefaultMaxPages = 100
)

// SearchClient runs one search.messages page request.
type SearchClient interface {
	SearchMessages(ctx context.Context, query string, page, pageSize int) (*SearchPage, error)
}

// PaginatorOptions configures a Paginator.
type PaginatorOptions struct {
	PageSize int
	MaxPages int
	Reporter *Reporter
	Logger   *log.Logger
}

// PageStats summarises a pagination pass.
type PageStats struct {
	Pages      int
	TotalPages int
	Total      int
	Matches    int
	CapReached bool
}

// Paginator walks search.messages pages sequentially.
type Paginator struct {
	client   SearchClient
	pageSize int
	maxPages int
	reporter *Reporter
	logger   *log.Logger
	metrics  *instruments
}

// NewPaginator constructs a Paginator. Out-of-range options are clamped.
func NewPaginator(client SearchClient, opts PaginatorOptions) *Paginator {
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 || maxPages > DefaultMaxPages {
		maxPages = DefaultMaxPages
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Paginator{
		client:   client,
		pageSize: pageSize,
		maxPages: maxPages,
		reporter: opts.Reporter,
		logger:   logger,
		metrics:  defaultInstruments,
	}
}

// Each requests pages 1, 2, 3, ... and hands every page's timestamped matches to
// visit before the next page is requested. The expected page count is recomputed
// from the total reported by the most recent page. A failed page aborts the walk.
func (p *Paginator) Each(ctx context.Context, query string, visit func(page int, matches []SearchMatch) error) (*PageStats, error) {
	ctx, span := tracer.Start(ctx, "selfmessages.paginator.each")
	defer span.End()
	span.SetAttributes(
		attribute.String("slack.query_hash", telemetryFingerprint(query)),
		attribute.Int("slack.page_size", p.pageSize),
	)

	stats := &PageStats{}
	page := 1
	totalPages := 1

	for {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "context_cancelled")
			return stats, searchError(page, err)
		}

		p.reporter.Progress(fmt.Sprintf("Fetching page %d...", page), nil)

		result, err := p.client.SearchMessages(ctx, query, page, p.pageSize)
		if err != nil {
			p.logger.Printf("search page=%d failed: %v", page, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "search_failed")
			return stats, searchError(page, err)
		}
		p.metrics.recordPage(ctx)
		if result == nil {
			result = &SearchPage{}
		}

		matches := make([]SearchMatch, 0, len(result.Matches))
		for _, m := range result.Matches {
			if m.Timestamp == "" {
				continue
			}
			matches = append(matches, m)
		}

		stats.Pages = page
		stats.Total = result.Total
		stats.Matches += len(matches)
		totalPages = ceilDiv(result.Total, p.pageSize)
		stats.TotalPages = totalPages

		p.logger.Printf("search page=%d/%d returned=%d kept=%d cumulative=%d total=%d",
			page, totalPages, len(result.Matches), len(matches), stats.Matches, result.Total)
		p.reporter.Progress(
			fmt.Sprintf("Page %d/%d done: %d matches, %d/%d so far", page, totalPages, len(result.Matches), stats.Matches, result.Total),
			nil,
		)

		if visit != nil {
			if err := visit(page, matches); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "visit_failed")
				return stats, err
			}
		}

		page++
		if page > totalPages {
			break
		}
		if page > p.maxPages {
			stats.CapReached = true
			p.logger.Printf("search page cap reached max_pages=%d total_pages=%d", p.maxPages, totalPages)
			p.reporter.Progress(fmt.Sprintf("Warning: reached the %d page limit, remaining results were not fetched", p.maxPages), map[string]any{
				"level":     "warning",
				"max_pages": p.maxPages,
			})
			break
		}
	}

	span.SetAttributes(
		attribute.Int("slack.pages", stats.Pages),
		attribute.Int("slack.total", stats.Total),
		attribute.Int("slack.matches", stats.Matches),
		attribute.Bool("slack.cap_reached", stats.CapReached),
	)
	return stats, nil
}

// All collects every match of every page.
func (p *Paginator) All(ctx context.Context, query string) ([]SearchMatch, *PageStats, error) {
	var all []SearchMatch
	stats, err := p.Each(ctx, query, func(_ int, matches []SearchMatch) error {
		all = append(all, matches...)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return all, stats, nil
}

func ceilDiv(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
