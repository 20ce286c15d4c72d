package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"numbergame/internal/game"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 20
	minPasswordLen = 6
	maxNicknameLen = 32
	maxBodyBytes   = 1 << 20
	historyLimit   = 50
)

const errBadCredentials = "invalid username or password"

// AccountStore keeps accounts and the matches they played.
type AccountStore interface {
	UserDirectory
	CreateUser(ctx context.Context, username, passwordHash string) (game.Identity, error)
	Credentials(ctx context.Context, username string) (game.Identity, string, error)
	UpdateNickname(ctx context.Context, id int64, nickname string) (game.Identity, error)
	MatchHistory(ctx context.Context, userID int64, limit int) ([]MatchEntry, error)
}

// TokenIssuer signs identity tokens for logged in users.
type TokenIssuer interface {
	Sign(id int64, username string, ttl time.Duration) (string, error)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type profileRequest struct {
	Nickname string `json:"nickname"`
}

type userResponse struct {
	User  game.Identity `json:"user"`
	Token string        `json:"token,omitempty"`
}

type historyResponse struct {
	Matches []MatchEntry `json:"matches"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if n := utf8.RuneCountInString(req.Username); n < minUsernameLen || n > maxUsernameLen {
		writeError(w, http.StatusBadRequest, "username must be 3 to 20 characters")
		return
	}
	if len(req.Password) < minPasswordLen {
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		s.logger.Error("register", "error", err)
		writeError(w, http.StatusInternalServerError, game.ErrInternal.Error())
		return
	}
	user, err := s.accounts.CreateUser(r.Context(), req.Username, hash)
	if errors.Is(err, ErrUsernameTaken) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("register", "username", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, game.ErrInternal.Error())
		return
	}
	s.logger.Info("user registered", "user", user.ID)
	s.issueSession(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, hash, err := s.accounts.Credentials(r.Context(), req.Username)
	if errors.Is(err, ErrUnknownUser) {
		writeError(w, http.StatusUnauthorized, errBadCredentials)
		return
	}
	if err != nil {
		s.logger.Error("login", "username", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, game.ErrInternal.Error())
		return
	}
	ok, err := s.hasher.Compare(hash, req.Password)
	if err != nil {
		s.logger.Warn("login with unreadable hash", "user", user.ID, "error", err)
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, errBadCredentials)
		return
	}
	s.issueSession(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.cfg.TokenCookie != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     s.cfg.TokenCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.cfg.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := identityFromContext(r.Context())
	writeJSON(w, http.StatusOK, userResponse{User: user})
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" || utf8.RuneCountInString(nickname) > maxNicknameLen {
		writeError(w, http.StatusBadRequest, "nickname must be 1 to 32 characters")
		return
	}

	current, _ := identityFromContext(r.Context())
	user, err := s.accounts.UpdateNickname(r.Context(), current.ID, nickname)
	if err != nil {
		s.logger.Error("update profile", "user", current.ID, "error", err)
		writeError(w, http.StatusInternalServerError, game.ErrInternal.Error())
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, _ := identityFromContext(r.Context())
	matches, err := s.accounts.MatchHistory(r.Context(), user.ID, historyLimit)
	if err != nil {
		s.logger.Error("match history", "user", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, game.ErrInternal.Error())
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Matches: matches})
}

// issueSession signs a token for user, sets the session cookie and echoes
// the token for clients that send it as a bearer header.
func (s *Server) issueSession(w http.ResponseWriter, status int, user game.Identity) {
	token, err := s.tokens.Sign(user.ID, user.Username, s.cfg.TokenTTL)
	if err != nil {
		s.logger.Error("sign token", "user", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, game.ErrInternal.Error())
		return
	}
	if s.cfg.TokenCookie != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     s.cfg.TokenCookie,
			Value:    token,
			Path:     "/",
			MaxAge:   int(s.cfg.TokenTTL.Seconds()),
			HttpOnly: true,
			Secure:   s.cfg.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	writeJSON(w, status, userResponse{User: user, Token: token})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
