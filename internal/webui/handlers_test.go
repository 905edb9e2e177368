package webui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ca-srg/slackself/internal/selfmessages"
	"github.com/ca-srg/slackself/internal/session"
	"github.com/ca-srg/slackself/internal/slackauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu    sync.Mutex
	run   func(ctx context.Context, token string, req selfmessages.Request) (<-chan selfmessages.Event, error)
	token string
	req   selfmessages.Request
}

func (f *fakeRunner) Run(ctx context.Context, token string, req selfmessages.Request) (<-chan selfmessages.Event, error) {
	f.mu.Lock()
	f.token, f.req = token, req
	f.mu.Unlock()
	return f.run(ctx, token, req)
}

type fakeOAuth struct {
	exchange func(ctx context.Context, code string) (*slackauth.Identity, error)
}

func (f *fakeOAuth) AuthorizeURL(state string) string {
	return "https://slack.test/oauth/v2/authorize?state=" + state
}

func (f *fakeOAuth) Exchange(ctx context.Context, code string) (*slackauth.Identity, error) {
	return f.exchange(ctx, code)
}

func streamOf(events ...selfmessages.Event) <-chan selfmessages.Event {
	ch := make(chan selfmessages.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func sampleResult() *selfmessages.Result {
	return &selfmessages.Result{Buckets: map[string]selfmessages.Bucket{
		"general": {
			Kind:     selfmessages.KindPublicChannel,
			Messages: []selfmessages.Message{{Date: "2024/06/01 10:00:00", Text: "hello <@U2|alice>"}},
		},
	}}
}

type testEnv struct {
	server   *Server
	handler  http.Handler
	sessions *session.Manager
	runner   *fakeRunner
}

func newTestEnv(t *testing.T, runner Runner, auth OAuthClient) *testEnv {
	t.Helper()
	sessions, err := session.NewManager(session.Options{Secret: []byte("0123456789abcdef0123456789abcdef"), TTL: time.Hour})
	require.NoError(t, err)

	fr, _ := runner.(*fakeRunner)
	if runner == nil {
		fr = &fakeRunner{run: func(context.Context, string, selfmessages.Request) (<-chan selfmessages.Event, error) {
			return streamOf(selfmessages.Event{Type: selfmessages.EventComplete, Result: &selfmessages.Result{}}), nil
		}}
		runner = fr
	}

	cfg := DefaultServerConfig()
	cfg.HeartbeatInterval = time.Hour
	cfg.MaxRuns = 2
	server, err := NewServer(cfg, Dependencies{
		Runner:   runner,
		Sessions: sessions,
		Auth:     auth,
		MCPHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "mcp")
		}),
		Logger: log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	server.now = func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }

	return &testEnv{server: server, handler: server.Handler(), sessions: sessions, runner: fr}
}

func (e *testEnv) login(t *testing.T) []*http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	_, err := e.sessions.Save(rec, session.Data{
		UserID:      "U1",
		UserName:    "bob",
		TeamName:    "Acme",
		AccessToken: "xoxp-user",
	})
	require.NoError(t, err)
	return rec.Result().Cookies()
}

func (e *testEnv) do(method, target string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func sseFrames(body string) []string {
	var frames []string
	for _, chunk := range strings.Split(body, "\n\n") {
		if data, ok := strings.CutPrefix(chunk, "data: "); ok {
			frames = append(frames, data)
		}
	}
	return frames
}

func TestHandleIndex(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/auth/slack/login")
	assert.NotContains(t, rec.Body.String(), `id="search"`)

	rec = env.do(http.MethodGet, "/", env.login(t))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bob")
	assert.Contains(t, rec.Body.String(), `value="2024-06-01"`)
	assert.Contains(t, rec.Body.String(), `value="group_dm"`)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/nope", nil).Code)
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := env.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","active_runs":0}`, rec.Body.String())
}

func TestHandleLoginWithoutAppConfig(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := env.do(http.MethodGet, "/api/auth/slack/login", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"missing_env_vars"}`, rec.Body.String())
}

func TestOAuthFlow(t *testing.T) {
	auth := &fakeOAuth{exchange: func(_ context.Context, code string) (*slackauth.Identity, error) {
		assert.Equal(t, "good-code", code)
		return &slackauth.Identity{UserID: "U1", AccessToken: "xoxp-1", UserName: "bob", TeamName: "Acme", Email: "bob@example.com"}, nil
	}}
	env := newTestEnv(t, nil, auth)

	login := env.do(http.MethodGet, "/api/auth/slack/login", nil)
	require.Equal(t, http.StatusFound, login.Code)
	location, err := url.Parse(login.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)
	stateCookies := login.Result().Cookies()

	callback := env.do(http.MethodGet, "/api/auth/slack/callback?code=good-code&state="+state, stateCookies)
	require.Equal(t, http.StatusFound, callback.Code)
	assert.Equal(t, "/", callback.Header().Get("Location"))

	var sessionCookies []*http.Cookie
	for _, c := range callback.Result().Cookies() {
		if c.Name != session.StateCookieName {
			sessionCookies = append(sessionCookies, c)
		}
	}
	require.Len(t, sessionCookies, 1)

	user := env.do(http.MethodGet, "/api/user", sessionCookies)
	require.Equal(t, http.StatusOK, user.Code)
	assert.JSONEq(t, `{"loggedIn":true,"user":{"id":"U1","name":"bob","teamName":"Acme","email":"bob@example.com"}}`, user.Body.String())
}

func TestCallbackErrors(t *testing.T) {
	tests := []struct {
		name     string
		exchange error
		want     string
	}{
		{name: "slack error code", exchange: &slackauth.ExchangeError{Code: "invalid_code"}, want: "invalid_code"},
		{name: "no user token", exchange: slackauth.ErrNoUserToken, want: "no_user_token"},
		{name: "unexpected", exchange: errors.New("boom"), want: "oauth_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil, &fakeOAuth{exchange: func(context.Context, string) (*slackauth.Identity, error) {
				return nil, tt.exchange
			}})
			login := env.do(http.MethodGet, "/api/auth/slack/login", nil)
			location, err := url.Parse(login.Header().Get("Location"))
			require.NoError(t, err)

			rec := env.do(http.MethodGet, "/api/auth/slack/callback?code=c&state="+location.Query().Get("state"), login.Result().Cookies())
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decodeJSON(t, rec)["error"])
		})
	}

	t.Run("state mismatch", func(t *testing.T) {
		called := false
		env := newTestEnv(t, nil, &fakeOAuth{exchange: func(context.Context, string) (*slackauth.Identity, error) {
			called = true
			return nil, nil
		}})
		login := env.do(http.MethodGet, "/api/auth/slack/login", nil)

		rec := env.do(http.MethodGet, "/api/auth/slack/callback?code=c&state=forged", login.Result().Cookies())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"invalid_state_or_code"}`, rec.Body.String())
		assert.False(t, called)
	})
}

func TestHandleUserAndLogout(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(http.MethodGet, "/api/user", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"not_logged_in","loggedIn":false}`, rec.Body.String())

	cookies := env.login(t)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/user", cookies).Code)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodGet, "/api/auth/slack/logout", cookies).Code)
	logout := env.do(http.MethodPost, "/api/auth/slack/logout", cookies)
	assert.Equal(t, http.StatusOK, logout.Code)
	assert.JSONEq(t, `{"ok":true}`, logout.Body.String())

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/user", cookies).Code)
}

func TestHandleUserWithBearerSession(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	token, err := env.sessions.Save(httptest.NewRecorder(), session.Data{UserID: "U9", UserName: "carol"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"U9"`)
}

func TestHandleSelfMessages(t *testing.T) {
	runner := &fakeRunner{run: func(context.Context, string, selfmessages.Request) (<-chan selfmessages.Event, error) {
		return streamOf(
			selfmessages.Event{Type: selfmessages.EventProgress, Message: "Checking authentication..."},
			selfmessages.Event{Type: selfmessages.EventComplete, Result: sampleResult()},
		), nil
	}}
	env := newTestEnv(t, runner, nil)

	rec := env.do(http.MethodGet, "/api/slack/self_messages?start=2024-06-01&end=2024-06-03&types=dm", env.login(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"general":{"channelType":"public_channel","messages":[{"date":"2024/06/01 10:00:00","message":"hello <@U2|alice>"}]}}`, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `hello <@U2|alice>`)

	assert.Equal(t, "xoxp-user", runner.token)
	assert.Equal(t, "2024-06-01", runner.req.Start)
	assert.Equal(t, "2024-06-03", runner.req.End)
	assert.Equal(t, selfmessages.Selection{DMs: true}, runner.req.Types)
	assert.Equal(t, 0, env.server.sseManager.ActiveRuns())
}

func TestHandleSelfMessagesErrors(t *testing.T) {
	t.Run("not logged in", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		rec := env.do(http.MethodGet, "/api/slack/self_messages?start=2024-06-01&end=2024-06-01", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"not_logged_in"}`, rec.Body.String())
	})

	t.Run("invalid date", func(t *testing.T) {
		env := newTestEnv(t, selfmessages.NewService(nil, selfmessages.Options{}), nil)
		rec := env.do(http.MethodGet, "/api/slack/self_messages?start=06/01/2024&end=2024-06-01", env.login(t))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"invalid_date"}`, rec.Body.String())
		assert.Equal(t, 0, env.server.sseManager.ActiveRuns())
	})

	t.Run("search failure", func(t *testing.T) {
		env := newTestEnv(t, &fakeRunner{run: func(context.Context, string, selfmessages.Request) (<-chan selfmessages.Event, error) {
			return streamOf(selfmessages.Event{
				Type: selfmessages.EventError,
				Err:  &selfmessages.RunError{Kind: selfmessages.ErrorKindSearchFailed, Detail: "ratelimited"},
			}), nil
		}}, nil)
		rec := env.do(http.MethodGet, "/api/slack/self_messages?start=2024-06-01&end=2024-06-01", env.login(t))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"search_failed","detail":"ratelimited"}`, rec.Body.String())
	})
}

func TestHandleSelfMessagesSSE(t *testing.T) {
	runner := &fakeRunner{run: func(context.Context, string, selfmessages.Request) (<-chan selfmessages.Event, error) {
		return streamOf(
			selfmessages.Event{Type: selfmessages.EventProgress, Message: "Checking authentication..."},
			selfmessages.Event{Type: selfmessages.EventProgress, Message: "Search query ready", Data: map[string]string{"query": "from:me on:2024-06-01"}},
			selfmessages.Event{Type: selfmessages.EventComplete, Result: sampleResult()},
		), nil
	}}
	env := newTestEnv(t, runner, nil)

	rec := env.do(http.MethodGet, "/api/slack/self_messages_sse?start=2024-06-01&end=2024-06-01&types=channel,dm", env.login(t))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	frames := sseFrames(rec.Body.String())
	require.Len(t, frames, 3)
	assert.JSONEq(t, `{"progress":"Checking authentication..."}`, frames[0])
	assert.JSONEq(t, `{"progress":"Search query ready","data":{"query":"from:me on:2024-06-01"}}`, frames[1])
	assert.JSONEq(t, `{"complete":true,"data":{"general":{"channelType":"public_channel","messages":[{"date":"2024/06/01 10:00:00","message":"hello <@U2|alice>"}]}}}`, frames[2])
	assert.Contains(t, frames[2], `hello <@U2|alice>`)
	assert.Equal(t, selfmessages.Selection{Channels: true, DMs: true}, runner.req.Types)
}

func TestHandleSelfMessagesSSEPreStreamErrors(t *testing.T) {
	t.Run("not logged in", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		rec := env.do(http.MethodGet, "/api/slack/self_messages_sse?start=2024-06-01&end=2024-06-01", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, []string{`{"error":"not_logged_in"}`}, sseFrames(rec.Body.String()))
	})

	t.Run("invalid date", func(t *testing.T) {
		env := newTestEnv(t, selfmessages.NewService(nil, selfmessages.Options{}), nil)
		rec := env.do(http.MethodGet, "/api/slack/self_messages_sse?start=2024-6-1&end=2024-06-01", env.login(t))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, []string{`{"error":"invalid_date"}`}, sseFrames(rec.Body.String()))
	})

	t.Run("too many runs", func(t *testing.T) {
		env := newTestEnv(t, nil, nil)
		require.NoError(t, env.server.sseManager.Register("a", "U1", func() {}))
		require.NoError(t, env.server.sseManager.Register("b", "U1", func() {}))

		rec := env.do(http.MethodGet, "/api/slack/self_messages_sse?start=2024-06-01&end=2024-06-01", env.login(t))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, []string{`{"error":"too_many_runs"}`}, sseFrames(rec.Body.String()))
	})
}

func TestHandleSelfMessagesSSEStreamEndsWithoutTerminal(t *testing.T) {
	env := newTestEnv(t, &fakeRunner{run: func(context.Context, string, selfmessages.Request) (<-chan selfmessages.Event, error) {
		return streamOf(selfmessages.Event{Type: selfmessages.EventProgress, Message: "Checking authentication..."}), nil
	}}, nil)

	rec := env.do(http.MethodGet, "/api/slack/self_messages_sse?start=2024-06-01&end=2024-06-01", env.login(t))
	frames := sseFrames(rec.Body.String())
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"error":"canceled"}`, frames[1])
}

func TestRunTimeoutCancelsRun(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, _ string, _ selfmessages.Request) (<-chan selfmessages.Event, error) {
		ch := make(chan selfmessages.Event)
		go func() {
			defer close(ch)
			<-ctx.Done()
		}()
		return ch, nil
	}}
	env := newTestEnv(t, runner, nil)
	env.server.config.RunTimeout = 20 * time.Millisecond

	rec := env.do(http.MethodGet, "/api/slack/self_messages?start=2024-06-01&end=2024-06-01", env.login(t))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"canceled"}`, rec.Body.String())
	assert.Equal(t, 0, env.server.sseManager.ActiveRuns())
}

func TestMCPMount(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := env.do(http.MethodPost, "/mcp", nil)
	assert.Equal(t, "mcp", rec.Body.String())
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, bearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, bearerToken(req))

	req.Header.Set("Authorization", "bearer  tok ")
	assert.Equal(t, "tok", bearerToken(req))
}
