package slackapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ca-srg/slackself/internal/selfmessages"
	"github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

// DefaultRatePerMinute paces Web API calls made on behalf of one user.
const DefaultRatePerMinute = 50

const membersPageLimit = 200

// slackClient is the subset of *slack.Client used by Client.
type slackClient interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	SearchMessagesContext(ctx context.Context, query string, params slack.SearchParameters) (*slack.SearchMessages, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	GetUsersInConversationContext(ctx context.Context, params *slack.GetUsersInConversationParameters) ([]string, string, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	GetTeamInfoContext(ctx context.Context) (*slack.TeamInfo, error)
}

// Client implements selfmessages.SlackAPI on top of slack-go.
type Client struct {
	client  slackClient
	limiter *rate.Limiter
	logger  *log.Logger
}

type settings struct {
	apiURL        string
	httpClient    *http.Client
	limiter       *rate.Limiter
	ratePerMinute int
	logger        *log.Logger
}

// Option configures a Client.
type Option func(*settings)

// WithAPIURL points the client at a different Web API base URL.
func WithAPIURL(u string) Option {
	return func(s *settings) {
		if u == "" {
			return
		}
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		s.apiURL = u
	}
}

// WithHTTPClient overrides the HTTP client used for Web API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithRateLimiter shares an existing limiter instead of creating one per client.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(s *settings) {
		s.limiter = l
	}
}

// WithRatePerMinute sets the pacing of a client-owned limiter.
func WithRatePerMinute(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.ratePerMinute = n
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func buildSettings(opts []Option) *settings {
	s := &settings{
		ratePerMinute: DefaultRatePerMinute,
		logger:        log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.ratePerMinute)), 1)
	}
	return s
}

// New creates a Client bound to a user token.
func New(token string, opts ...Option) *Client {
	s := buildSettings(opts)

	var slackOpts []slack.Option
	if s.apiURL != "" {
		slackOpts = append(slackOpts, slack.OptionAPIURL(s.apiURL))
	}
	if s.httpClient != nil {
		slackOpts = append(slackOpts, slack.OptionHTTPClient(s.httpClient))
	}

	return &Client{
		client:  slack.New(token, slackOpts...),
		limiter: s.limiter,
		logger:  s.logger,
	}
}

// NewFactory returns a selfmessages.ClientFactory creating one Client per run.
func NewFactory(opts ...Option) selfmessages.ClientFactory {
	return func(token string) selfmessages.SlackAPI {
		return New(token, opts...)
	}
}

func newWithClient(client slackClient, opts ...Option) *Client {
	s := buildSettings(opts)
	return &Client{client: client, limiter: s.limiter, logger: s.logger}
}

// WhoAmI returns the user id owning the token.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	if err := c.waitRate(ctx); err != nil {
		return "", err
	}
	resp, err := c.client.AuthTestContext(ctx)
	if err != nil {
		return "", c.fail("auth.test", err)
	}
	return resp.UserID, nil
}

// SearchMessages requests one page of search.messages sorted by newest first.
func (c *Client) SearchMessages(ctx context.Context, query string, page, pageSize int) (*selfmessages.SearchPage, error) {
	if err := c.waitRate(ctx); err != nil {
		return nil, err
	}
	params := slack.SearchParameters{
		Sort:          "timestamp",
		SortDirection: "desc",
		Count:         pageSize,
		Page:          page,
	}
	resp, err := c.client.SearchMessagesContext(ctx, query, params)
	if err != nil {
		return nil, c.fail("search.messages", err)
	}
	if resp == nil {
		return &selfmessages.SearchPage{}, nil
	}

	out := &selfmessages.SearchPage{
		Matches: make([]selfmessages.SearchMatch, 0, len(resp.Matches)),
		Total:   resp.Total,
	}
	for _, m := range resp.Matches {
		out.Matches = append(out.Matches, convertMatch(m))
	}
	return out, nil
}

// ConversationCounterpart returns the other participant of a direct message.
func (c *Client) ConversationCounterpart(ctx context.Context, conversationID string) (string, error) {
	if err := c.waitRate(ctx); err != nil {
		return "", err
	}
	ch, err := c.client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: conversationID})
	if err != nil {
		return "", c.fail("conversations.info", err)
	}
	if ch == nil {
		return "", nil
	}
	return ch.User, nil
}

// ConversationMembers lists every member of a conversation, following cursors.
func (c *Client) ConversationMembers(ctx context.Context, conversationID string) ([]string, error) {
	var members []string
	cursor := ""
	for {
		if err := c.waitRate(ctx); err != nil {
			return nil, err
		}
		page, next, err := c.client.GetUsersInConversationContext(ctx, &slack.GetUsersInConversationParameters{
			ChannelID: conversationID,
			Cursor:    cursor,
			Limit:     membersPageLimit,
		})
		if err != nil {
			return nil, c.fail("conversations.members", err)
		}
		members = append(members, page...)
		if next == "" {
			return members, nil
		}
		cursor = next
	}
}

// UserInfo returns the naming fields of a user.
func (c *Client) UserInfo(ctx context.Context, userID string) (*selfmessages.UserProfile, error) {
	user, err := c.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &selfmessages.UserProfile{
		DisplayName: user.Profile.DisplayName,
		RealName:    user.RealName,
		AccountName: user.Name,
	}, nil
}

// UserDetails is the richer user description used for the signed-in user.
type UserDetails struct {
	ID       string
	Name     string
	Email    string
	ImageURL string
}

// LookupUser returns the details of a user including avatar and email.
func (c *Client) LookupUser(ctx context.Context, userID string) (*UserDetails, error) {
	user, err := c.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile := &selfmessages.UserProfile{
		DisplayName: user.Profile.DisplayName,
		RealName:    user.RealName,
		AccountName: user.Name,
	}
	image := user.Profile.Image72
	if image == "" {
		image = user.Profile.Image48
	}
	return &UserDetails{
		ID:       user.ID,
		Name:     profile.Name(),
		Email:    user.Profile.Email,
		ImageURL: image,
	}, nil
}

// TeamName returns the workspace name.
func (c *Client) TeamName(ctx context.Context) (string, error) {
	if err := c.waitRate(ctx); err != nil {
		return "", err
	}
	team, err := c.client.GetTeamInfoContext(ctx)
	if err != nil {
		return "", c.fail("team.info", err)
	}
	if team == nil {
		return "", nil
	}
	return team.Name, nil
}

func (c *Client) user(ctx context.Context, userID string) (*slack.User, error) {
	if err := c.waitRate(ctx); err != nil {
		return nil, err
	}
	user, err := c.client.GetUserInfoContext(ctx, userID)
	if err != nil {
		return nil, c.fail("users.info", err)
	}
	if user == nil {
		return nil, &selfmessages.APIError{Method: "users.info", Code: "user_not_found"}
	}
	return user, nil
}

func (c *Client) waitRate(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func convertMatch(m slack.SearchMessage) selfmessages.SearchMatch {
	return selfmessages.SearchMatch{
		Timestamp: m.Timestamp,
		Text:      m.Text,
		Conversation: selfmessages.ConversationRef{
			ID:        m.Channel.ID,
			Name:      m.Channel.Name,
			IsIM:      isDirectMessageID(m.Channel.ID),
			IsMPIM:    m.Channel.IsMPIM,
			IsPrivate: m.Channel.IsPrivate,
		},
	}
}

// search.messages does not flag direct messages; their ids carry a D prefix.
func isDirectMessageID(id string) bool {
	return strings.HasPrefix(id, "D")
}

func (c *Client) fail(method string, err error) error {
	wrapped := wrapError(method, err)
	c.logger.Printf("%s failed: %v", method, wrapped)
	return wrapped
}

func wrapError(method string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var slackErr slack.SlackErrorResponse
	if errors.As(err, &slackErr) {
		return &selfmessages.APIError{Method: method, Code: slackErr.Err}
	}
	var rateErr *slack.RateLimitedError
	if errors.As(err, &rateErr) {
		return &selfmessages.APIError{Method: method, Code: "ratelimited"}
	}
	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		return &selfmessages.APIError{Method: method, Code: fmt.Sprintf("http_%d", statusErr.Code)}
	}
	return fmt.Errorf("slack %s: %w", method, err)
}
