package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	env "github.com/netflix/go-env"
)

const minSessionSecretLength = 32

// Config holds every setting read from the environment.
type Config struct {
	// Slack OAuth app and Web API
	SlackClientID      string `env:"SLACK_CLIENT_ID"`
	SlackClientSecret  string `env:"SLACK_CLIENT_SECRET"`
	SlackRedirectURI   string `env:"SLACK_REDIRECT_URI"`
	SlackUserToken     string `env:"SLACK_USER_TOKEN"`
	SlackAPIURL        string `env:"SLACK_API_URL"`
	SlackRatePerMinute int    `env:"SLACK_RATE_PER_MINUTE,default=50"`

	// Browser session
	SessionSecret       string        `env:"SESSION_SECRET"`
	SessionCookieName   string        `env:"SESSION_COOKIE_NAME,default=slack_local_app"`
	SessionTTL          time.Duration `env:"SESSION_TTL,default=168h"`
	SessionSecureCookie bool          `env:"SESSION_SECURE_COOKIE,default=false"`

	// HTTP server
	ServerHost    string `env:"SERVER_HOST,default=localhost"`
	ServerPort    int    `env:"SERVER_PORT,default=3000"`
	ServerTLSCert string `env:"SERVER_TLS_CERT"`
	ServerTLSKey  string `env:"SERVER_TLS_KEY"`

	// Aggregation runs
	RunTimeout              time.Duration `env:"RUN_TIMEOUT,default=600s"`
	SearchPageSize          int           `env:"SEARCH_PAGE_SIZE,default=100"`
	SearchMaxPages          int           `env:"SEARCH_MAX_PAGES,default=100"`
	MemberLookupConcurrency int           `env:"MEMBER_LOOKUP_CONCURRENCY,default=1"`
	DisplayTimezone         string        `env:"DISPLAY_TIMEZONE,default=Local"`

	// OpenTelemetry
	OTelEnabled              bool    `env:"OTEL_ENABLED,default=false"`
	OTelServiceName          string  `env:"OTEL_SERVICE_NAME,default=slackself"`
	OTelExporterOTLPEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelExporterOTLPProtocol string  `env:"OTEL_EXPORTER_OTLP_PROTOCOL,default=http/protobuf"`
	OTelResourceAttributes   string  `env:"OTEL_RESOURCE_ATTRIBUTES"`
	OTelTracesSampler        string  `env:"OTEL_TRACES_SAMPLER,default=always_on"`
	OTelTracesSamplerArg     float64 `env:"OTEL_TRACES_SAMPLER_ARG,default=1.0"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var config Config

	_, err := env.UnmarshalFromEnviron(&config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// validateConfig validates configuration values and adjusts them to safe ranges
func validateConfig(config *Config) error {
	if config.SearchPageSize < 1 || config.SearchPageSize > 100 {
		config.SearchPageSize = 100
	}
	if config.SearchMaxPages < 1 || config.SearchMaxPages > 100 {
		config.SearchMaxPages = 100
	}
	if config.MemberLookupConcurrency < 1 {
		config.MemberLookupConcurrency = 1
	}
	if config.MemberLookupConcurrency > 10 {
		config.MemberLookupConcurrency = 10
	}
	if config.SlackRatePerMinute < 1 {
		config.SlackRatePerMinute = 50
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = 600 * time.Second
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = 168 * time.Hour
	}
	if strings.TrimSpace(config.SessionCookieName) == "" {
		config.SessionCookieName = "slack_local_app"
	}

	if config.ServerPort < 1 || config.ServerPort > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", config.ServerPort)
	}
	if (config.ServerTLSCert == "") != (config.ServerTLSKey == "") {
		return fmt.Errorf("SERVER_TLS_CERT and SERVER_TLS_KEY must be set together")
	}

	if config.SlackAPIURL != "" {
		parsed, err := url.Parse(config.SlackAPIURL)
		if err != nil {
			return fmt.Errorf("invalid SLACK_API_URL: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("SLACK_API_URL scheme must be http or https")
		}
	}

	if _, err := config.Location(); err != nil {
		return err
	}

	return nil
}

// ValidateServe checks the settings the browser-facing server cannot run without.
func (c *Config) ValidateServe() error {
	var missing []string
	if c.SlackClientID == "" {
		missing = append(missing, "SLACK_CLIENT_ID")
	}
	if c.SlackClientSecret == "" {
		missing = append(missing, "SLACK_CLIENT_SECRET")
	}
	if c.SlackRedirectURI == "" {
		missing = append(missing, "SLACK_REDIRECT_URI")
	}
	if c.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if len(c.SessionSecret) < minSessionSecretLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLength)
	}
	if _, err := url.ParseRequestURI(c.SlackRedirectURI); err != nil {
		return fmt.Errorf("invalid SLACK_REDIRECT_URI: %w", err)
	}
	return nil
}

// ValidateUserToken checks that a user token is available for headless commands.
func (c *Config) ValidateUserToken() error {
	if strings.TrimSpace(c.SlackUserToken) == "" {
		return fmt.Errorf("SLACK_USER_TOKEN is required")
	}
	if !strings.HasPrefix(c.SlackUserToken, "xoxp-") {
		return fmt.Errorf("SLACK_USER_TOKEN must be a user token (xoxp-)")
	}
	return nil
}

// Location resolves DISPLAY_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.DisplayTimezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid DISPLAY_TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ServerPort))
}

// TLSEnabled reports whether the server should serve HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.ServerTLSCert != "" && c.ServerTLSKey != ""
}
