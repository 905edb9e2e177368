package mcpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ca-srg/slackself/internal/session"
)

// Authentication methods reported on spans and metrics.
const (
	AuthMethodSession    = "session"
	AuthMethodSlackToken = "slack_token"
	AuthMethodStdio      = "stdio"
)

const slackUserTokenPrefix = "xoxp-"

// ErrUnauthorized is returned when a bearer credential cannot be resolved.
var ErrUnauthorized = errors.New("mcpserver: missing or invalid bearer token")

// Credential is the Slack user token a tool call runs with.
type Credential struct {
	Token  string
	Method string
	UserID string
}

// TokenResolver maps a bearer token to a Credential.
type TokenResolver func(bearer string) (Credential, error)

// SessionLookup finds a browser session by its signed token.
type SessionLookup interface {
	Lookup(token string) (*session.Data, error)
}

// NewTokenResolver accepts Slack user tokens as they are and session tokens
// issued by the web server.
func NewTokenResolver(sessions SessionLookup) TokenResolver {
	return func(bearer string) (Credential, error) {
		bearer = strings.TrimSpace(bearer)
		switch {
		case bearer == "":
			return Credential{}, ErrUnauthorized
		case strings.HasPrefix(bearer, slackUserTokenPrefix):
			return Credential{Token: bearer, Method: AuthMethodSlackToken}, nil
		case sessions == nil:
			return Credential{}, ErrUnauthorized
		}

		data, err := sessions.Lookup(bearer)
		if err != nil || data.AccessToken == "" {
			return Credential{}, ErrUnauthorized
		}
		return Credential{Token: data.AccessToken, Method: AuthMethodSession, UserID: data.UserID}, nil
	}
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireBearer rejects requests whose bearer token does not resolve.
func requireBearer(resolve TokenResolver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := resolve(bearerToken(r)); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="slackself"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "not_logged_in"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
