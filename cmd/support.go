package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ca-srg/slackself/internal/config"
	"github.com/ca-srg/slackself/internal/observability"
	"github.com/ca-srg/slackself/internal/selfmessages"
	"github.com/ca-srg/slackself/internal/slackapi"
)

// loadConfig reads .env when present and then the process environment.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// initTelemetry starts OpenTelemetry and returns a shutdown hook that never fails the command.
func initTelemetry(cfg *config.Config, logger *log.Logger) func() {
	shutdown, err := observability.Init(context.Background(), cfg, logger)
	if err != nil {
		logger.Printf("Warning: OpenTelemetry disabled: %v", err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Printf("Warning: OpenTelemetry shutdown: %v", err)
		}
	}
}

// newService wires the aggregation pipeline to the Slack Web API.
func newService(cfg *config.Config, logger *log.Logger) (*selfmessages.Service, error) {
	location, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	factory := slackapi.NewFactory(
		slackapi.WithAPIURL(cfg.SlackAPIURL),
		slackapi.WithRatePerMinute(cfg.SlackRatePerMinute),
		slackapi.WithLogger(log.New(logger.Writer(), "[slackapi] ", logger.Flags())),
	)

	return selfmessages.NewService(factory, selfmessages.Options{
		PageSize:          cfg.SearchPageSize,
		MaxPages:          cfg.SearchMaxPages,
		MemberConcurrency: cfg.MemberLookupConcurrency,
		Location:          location,
		Logger:            log.New(logger.Writer(), "[selfmessages] ", logger.Flags()),
	}), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *log.Logger) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Printf("Received signal: %v", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// discardLogger is used when a command's stdout carries data.
func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
