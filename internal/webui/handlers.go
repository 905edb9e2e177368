package webui

import (
	"errors"
	"net/http"

	"github.com/ca-srg/slackself/internal/selfmessages"
	"github.com/ca-srg/slackself/internal/session"
	"github.com/ca-srg/slackself/internal/slackauth"
)

// handleIndex renders the single page UI
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data := PageData{Today: s.now().Format(selfmessages.DateLayout)}
	if sess, err := s.currentSession(r); err == nil {
		data.LoggedIn = true
		data.User = userInfo(sess)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.Render(w, "index.html", data); err != nil {
		s.logger.Printf("Failed to render index: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// handleHealth reports liveness and the number of in-flight runs
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", ActiveRuns: s.sseManager.ActiveRuns()})
}

// handleLogin redirects the browser to the Slack consent page
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.auth == nil {
		s.writeError(w, http.StatusInternalServerError, ErrorResponse{Error: errMissingEnvVars})
		return
	}

	state := s.sessions.NewState(w)
	http.Redirect(w, r, s.auth.AuthorizeURL(state), http.StatusFound)
}

// handleCallback completes the OAuth handshake and starts a session
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.auth == nil {
		s.writeError(w, http.StatusInternalServerError, ErrorResponse{Error: errMissingEnvVars})
		return
	}

	query := r.URL.Query()
	code := query.Get("code")
	validState := s.sessions.VerifyState(w, r, query.Get("state"))
	if code == "" || !validState {
		s.writeError(w, http.StatusBadRequest, ErrorResponse{Error: errInvalidStateOrCode})
		return
	}

	identity, err := s.auth.Exchange(r.Context(), code)
	if err != nil {
		s.logger.Printf("OAuth exchange failed: %v", err)
		var exErr *slackauth.ExchangeError
		switch {
		case errors.Is(err, slackauth.ErrNoUserToken):
			s.writeError(w, http.StatusBadRequest, ErrorResponse{Error: errNoUserToken})
		case errors.As(err, &exErr) && exErr.Code != "":
			s.writeError(w, http.StatusBadRequest, ErrorResponse{Error: exErr.Code})
		default:
			s.writeError(w, http.StatusBadRequest, ErrorResponse{Error: errOAuthFailed})
		}
		return
	}

	_, err = s.sessions.Save(w, session.Data{
		UserID:      identity.UserID,
		UserName:    identity.UserName,
		AvatarURL:   identity.AvatarURL,
		Email:       identity.Email,
		TeamID:      identity.TeamID,
		TeamName:    identity.TeamName,
		AccessToken: identity.AccessToken,
	})
	if err != nil {
		s.logger.Printf("Failed to save session: %v", err)
		s.writeError(w, http.StatusInternalServerError, ErrorResponse{Error: errOAuthFailed})
		return
	}

	s.logger.Printf("user signed in: user=%s team=%s", identity.UserID, identity.TeamID)
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleLogout destroys the current session
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sessions.Destroy(w, r)
	s.writeJSON(w, http.StatusOK, LogoutResponse{OK: true})
}

// handleUser reports the signed-in user
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, err := s.currentSession(r)
	if err != nil {
		loggedIn := false
		s.writeError(w, http.StatusUnauthorized, ErrorResponse{Error: errNotLoggedIn, LoggedIn: &loggedIn})
		return
	}
	s.writeJSON(w, http.StatusOK, UserResponse{LoggedIn: true, User: userInfo(sess)})
}

// currentSession resolves the session from the cookie, falling back to a
// bearer session token for API clients.
func (s *Server) currentSession(r *http.Request) (*session.Data, error) {
	sess, err := s.sessions.Load(r)
	if err == nil {
		return sess, nil
	}
	if token := bearerToken(r); token != "" {
		return s.sessions.Lookup(token)
	}
	return nil, err
}

func userInfo(sess *session.Data) *UserInfo {
	return &UserInfo{
		ID:       sess.UserID,
		Name:     sess.UserName,
		Avatar:   sess.AvatarURL,
		TeamName: sess.TeamName,
		Email:    sess.Email,
	}
}
