package webui

import (
	"context"

	"github.com/ca-srg/slackself/internal/selfmessages"
	"github.com/ca-srg/slackself/internal/slackauth"
)

// Runner starts aggregation runs.
type Runner interface {
	Run(ctx context.Context, token string, req selfmessages.Request) (<-chan selfmessages.Event, error)
}

// OAuthClient performs the Slack OAuth v2 handshake.
type OAuthClient interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (*slackauth.Identity, error)
}

// Error tags returned by the auth endpoints.
const (
	errMissingEnvVars       = "missing_env_vars"
	errInvalidStateOrCode   = "invalid_state_or_code"
	errNoUserToken          = "no_user_token"
	errOAuthFailed          = "oauth_failed"
	errNotLoggedIn          = "not_logged_in"
	errTooManyRuns          = "too_many_runs"
	errStreamingUnsupported = "streaming_unsupported"
)

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Error    string `json:"error"`
	Detail   string `json:"detail,omitempty"`
	LoggedIn *bool  `json:"loggedIn,omitempty"`
}

// UserInfo is the signed-in user as shown to the browser.
type UserInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	TeamName string `json:"teamName,omitempty"`
	Email    string `json:"email,omitempty"`
}

// UserResponse answers /api/user.
type UserResponse struct {
	LoggedIn bool      `json:"loggedIn"`
	User     *UserInfo `json:"user,omitempty"`
}

// LogoutResponse answers /api/auth/slack/logout.
type LogoutResponse struct {
	OK bool `json:"ok"`
}

// HealthResponse answers /health.
type HealthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"active_runs"`
}

// PageData feeds the index template.
type PageData struct {
	LoggedIn bool
	User     *UserInfo
	Today    string
}
