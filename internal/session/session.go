// Package session keeps signed-in users on the server and identifies them with a
// signed cookie. Only an opaque session id travels in the cookie; the Slack user
// token never leaves the process.
package session

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// StateCookieName carries the OAuth state between login and callback.
	StateCookieName = "slack_oauth_state"
	stateMaxAge     = 600 * time.Second
	issuer          = "slackself"
)

var (
	ErrNoSession      = errors.New("session: not logged in")
	ErrInvalidSession = errors.New("session: invalid session token")
)

// Data is what the server remembers about a signed-in user.
type Data struct {
	UserID      string    `json:"id"`
	UserName    string    `json:"name"`
	AvatarURL   string    `json:"avatar,omitempty"`
	Email       string    `json:"email,omitempty"`
	TeamID      string    `json:"teamId,omitempty"`
	TeamName    string    `json:"teamName,omitempty"`
	AccessToken string    `json:"-"`
	CreatedAt   time.Time `json:"-"`
}

// Options configures a Manager.
type Options struct {
	Secret       []byte
	CookieName   string
	TTL          time.Duration
	SecureCookie bool
}

// Manager issues, reads and revokes sessions.
type Manager struct {
	secret     []byte
	cookieName string
	ttl        time.Duration
	secure     bool
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]entry
}

type entry struct {
	data    Data
	expires time.Time
}

type claims struct {
	jwt.RegisteredClaims
}

// NewManager constructs a Manager.
func NewManager(opts Options) (*Manager, error) {
	if len(opts.Secret) == 0 {
		return nil, fmt.Errorf("session: secret is required")
	}
	if opts.CookieName == "" {
		opts.CookieName = "slack_local_app"
	}
	if opts.TTL <= 0 {
		opts.TTL = 7 * 24 * time.Hour
	}
	return &Manager{
		secret:     opts.Secret,
		cookieName: opts.CookieName,
		ttl:        opts.TTL,
		secure:     opts.SecureCookie,
		now:        time.Now,
		sessions:   make(map[string]entry),
	}, nil
}

// Save stores data under a fresh session id and sets the session cookie.
func (m *Manager) Save(w http.ResponseWriter, data Data) (string, error) {
	now := m.now()
	if data.CreatedAt.IsZero() {
		data.CreatedAt = now
	}
	sid := uuid.NewString()
	expires := now.Add(m.ttl)

	token, err := m.sign(sid, data.UserID, now, expires)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.sessions[sid] = entry{data: data, expires: expires}
	m.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// Load returns the session attached to the request cookie.
func (m *Manager) Load(r *http.Request) (*Data, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoSession
	}
	return m.Lookup(cookie.Value)
}

// Lookup resolves a signed session token.
func (m *Manager) Lookup(token string) (*Data, error) {
	sid, err := m.verify(token)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sid]
	if !ok {
		return nil, ErrNoSession
	}
	if !m.now().Before(e.expires) {
		delete(m.sessions, sid)
		return nil, ErrNoSession
	}
	data := e.data
	return &data, nil
}

// Destroy removes the request's session and clears the cookie.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(m.cookieName); err == nil {
		if sid, err := m.verify(cookie.Value); err == nil {
			m.mu.Lock()
			delete(m.sessions, sid)
			m.mu.Unlock()
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Sweep drops expired sessions and returns how many were removed.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for sid, e := range m.sessions {
		if !now.Before(e.expires) {
			delete(m.sessions, sid)
			removed++
		}
	}
	return removed
}

// NewState returns a random OAuth state and stores it in the state cookie.
func (m *Manager) NewState(w http.ResponseWriter) string {
	state := strings.ReplaceAll(uuid.NewString(), "-", "")
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return state
}

// VerifyState compares the callback state with the state cookie and clears the cookie.
func (m *Manager) VerifyState(w http.ResponseWriter, r *http.Request, state string) bool {
	cookie, err := r.Cookie(StateCookieName)
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	if err != nil || cookie.Value == "" || state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) == 1
}

func (m *Manager) sign(sid, subject string, issued, expires time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sid,
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("session: sign token: %w", err)
	}
	return signed, nil
}

func (m *Manager) verify(token string) (string, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if c.ID == "" {
		return "", ErrInvalidSession
	}
	return c.ID, nil
}
