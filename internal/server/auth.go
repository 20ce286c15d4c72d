package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"numbergame/internal/game"
)

var (
	errMissingToken = errors.New("missing token")
	errInvalidToken = errors.New("invalid token")
)

// Claims is the payload of an identity token.
type Claims struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// UserDirectory resolves a token subject to a full identity.
type UserDirectory interface {
	LookupUser(ctx context.Context, id int64) (game.Identity, error)
}

// Authenticator resolves the identity behind an HTTP request.
type Authenticator interface {
	Authenticate(r *http.Request) (game.Identity, error)
}

// TokenAuthenticator verifies HS256 identity tokens from a cookie or an
// Authorization header.
type TokenAuthenticator struct {
	secret []byte
	cookie string
	users  UserDirectory
}

// NewTokenAuthenticator builds an authenticator. A nil directory trusts the
// claims as the identity.
func NewTokenAuthenticator(secret, cookie string, users UserDirectory) *TokenAuthenticator {
	return &TokenAuthenticator{secret: []byte(secret), cookie: cookie, users: users}
}

// Sign issues a token for a user.
func (a *TokenAuthenticator) Sign(id int64, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ID:       id,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify checks the signature and expiry of a token.
func (a *TokenAuthenticator) Verify(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ID <= 0 || claims.Username == "" {
		return nil, errInvalidToken
	}
	return claims, nil
}

// Authenticate implements Authenticator. Every failure wraps
// game.ErrAuthentication.
func (a *TokenAuthenticator) Authenticate(r *http.Request) (game.Identity, error) {
	raw := a.tokenFrom(r)
	if raw == "" {
		return game.Identity{}, fmt.Errorf("%w: %w", game.ErrAuthentication, errMissingToken)
	}
	claims, err := a.Verify(raw)
	if err != nil {
		return game.Identity{}, fmt.Errorf("%w: %w", game.ErrAuthentication, err)
	}
	if a.users == nil {
		return game.Identity{ID: claims.ID, Username: claims.Username, Nickname: claims.Username}, nil
	}
	user, err := a.users.LookupUser(r.Context(), claims.ID)
	if err != nil {
		return game.Identity{}, fmt.Errorf("%w: %w", game.ErrAuthentication, err)
	}
	return user, nil
}

func (a *TokenAuthenticator) tokenFrom(r *http.Request) string {
	if a.cookie != "" {
		if c, err := r.Cookie(a.cookie); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return parseToken(r.Header.Get("Authorization"))
}

type contextKey string

const identityContextKey contextKey = "identity"

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.auth.Authenticate(r)
		if err != nil {
			s.logger.Debug("authentication failed", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, game.ErrAuthentication.Error())
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin guards the admin surface with the static ADMIN_TOKEN. An
// empty token disables it.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			writeError(w, http.StatusForbidden, "admin disabled")
			return
		}
		token := parseToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return header
}

func identityFromContext(ctx context.Context) (game.Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(game.Identity)
	return id, ok
}
