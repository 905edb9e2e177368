package slackauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ca-srg/slackself/internal/slackapi"
	"github.com/slack-go/slack"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	authorizeEndpoint = "https://slack.com/oauth/v2/authorize"
	tokenEndpoint     = "https://slack.com/api/oauth.v2.access"
	unknownUser       = "Unknown User"
)

// UserScopes are the user-token scopes needed to search and name conversations.
var UserScopes = []string{
	"channels:read",
	"groups:read",
	"im:read",
	"mpim:read",
	"channels:history",
	"groups:history",
	"im:history",
	"mpim:history",
	"search:read",
}

var (
	// ErrMissingConfig is returned when the OAuth app is not configured.
	ErrMissingConfig = errors.New("slackauth: client id, secret and redirect uri are required")
	// ErrNoUserToken is returned when Slack did not grant a user token.
	ErrNoUserToken = errors.New("slackauth: response carried no user token")
)

// ExchangeError is a failed oauth.v2.access call. Code is Slack's error string.
type ExchangeError struct {
	Code  string
	Cause error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("slackauth: code exchange failed: %s", e.Code)
}

func (e *ExchangeError) Unwrap() error { return e.Cause }

// Config configures a Client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// APIURL overrides the Web API base used for profile lookups.
	APIURL     string
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Identity is the signed-in user as reported by Slack.
type Identity struct {
	UserID      string
	AccessToken string
	UserName    string
	AvatarURL   string
	Email       string
	TeamID      string
	TeamName    string
}

// Client drives the OAuth v2 handshake for user tokens.
type Client struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	apiURL     string
	logger     *log.Logger
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURI == "" {
		return nil, ErrMissingConfig
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authorizeEndpoint,
				TokenURL: tokenEndpoint,
			},
		},
		httpClient: httpClient,
		apiURL:     cfg.APIURL,
		logger:     logger,
	}, nil
}

// AuthorizeURL returns the Slack consent page URL for state.
func (c *Client) AuthorizeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("user_scope", strings.Join(UserScopes, ",")))
}

// Exchange trades an authorization code for a user token and looks up the user's
// profile and workspace. Profile lookups are best effort.
func (c *Client) Exchange(ctx context.Context, code string) (*Identity, error) {
	resp, err := slack.GetOAuthV2ResponseContext(ctx, c.httpClient, c.oauth.ClientID, c.oauth.ClientSecret, code, c.oauth.RedirectURL)
	if err != nil {
		var slackErr slack.SlackErrorResponse
		if errors.As(err, &slackErr) && slackErr.Err != "" {
			return nil, &ExchangeError{Code: slackErr.Err, Cause: err}
		}
		return nil, &ExchangeError{Code: "oauth_failed", Cause: err}
	}
	if resp.AuthedUser.AccessToken == "" {
		return nil, ErrNoUserToken
	}

	identity := &Identity{
		UserID:      resp.AuthedUser.ID,
		AccessToken: resp.AuthedUser.AccessToken,
		UserName:    unknownUser,
		TeamID:      resp.Team.ID,
		TeamName:    resp.Team.Name,
	}

	api := slackapi.New(identity.AccessToken,
		slackapi.WithAPIURL(c.apiURL),
		slackapi.WithHTTPClient(c.httpClient),
		slackapi.WithRateLimiter(rate.NewLimiter(rate.Inf, 0)),
		slackapi.WithLogger(c.logger),
	)

	if details, err := api.LookupUser(ctx, identity.UserID); err != nil {
		c.logger.Printf("users.info failed user=%s, continuing without profile: %v", identity.UserID, err)
	} else {
		identity.UserName = details.Name
		identity.AvatarURL = details.ImageURL
		identity.Email = details.Email
	}

	if identity.TeamName == "" {
		if name, err := api.TeamName(ctx); err != nil {
			c.logger.Printf("team.info failed, continuing without team name: %v", err)
		} else {
			identity.TeamName = name
		}
	}

	return identity, nil
}
