// internal/httpserver/auth.go
//
// Participant and experimenter authentication.
//   - Participants carry an HS256 JWT (cookie, bearer header, or ?token= for
//     websocket clients that cannot set headers) whose "pid" claim is the
//     player id.
//   - The experimenter audit endpoint uses HTTP basic auth checked against
//     a bcrypt hash from ADMIN_PASSWORD_HASH.

package httpserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/robalobadob/realeffort/internal/session"
)

// ctxPlayerKey is the context key type for the authenticated player id.
type ctxPlayerKey struct{}

// playerID returns the id placed into the context by requireParticipant.
func playerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxPlayerKey{}).(string)
	return id
}

// signToken creates an HS256 JWT for a participant with the configured expiry.
func (s *Server) signToken(id string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(time.Duration(s.cfg.JWTExpiresDays) * 24 * time.Hour)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"pid": id,
		"exp": exp.Unix(),
		"iat": now.Unix(),
	})
	ss, err := t.SignedString([]byte(s.cfg.JWTSecret))
	return ss, exp, err
}

// parseToken validates a token and returns its player id.
func (s *Server) parseToken(tok string) (string, error) {
	claims := jwt.MapClaims{}
	t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !t.Valid {
		return "", errors.New("invalid token")
	}
	id, _ := claims["pid"].(string)
	if id == "" {
		return "", errors.New("invalid token")
	}
	return id, nil
}

// setAuthCookie writes the participant token cookie.
func (s *Server) setAuthCookie(w http.ResponseWriter, token string, exp time.Time) {
	sameSite := http.SameSiteLaxMode
	if s.cfg.Production {
		sameSite = http.SameSiteNoneMode // required for third-party contexts when Secure
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Production,
		SameSite: sameSite,
		Expires:  exp,
	})
}

// bearerOrCookie extracts a token from the Authorization header, the auth
// cookie, or the token query parameter, in that order.
func (s *Server) bearerOrCookie(r *http.Request) string {
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	if c, err := r.Cookie(s.cfg.CookieName); err == nil {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// requireParticipant enforces a valid token for an existing player.
func (s *Server) requireParticipant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := s.bearerOrCookie(r)
			if tok == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			id, err := s.parseToken(tok)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_token")
				return
			}
			// Ensure the participant still exists
			if _, err := s.store.Player(r.Context(), id); err != nil {
				if errors.Is(err, session.ErrPlayerNotFound) {
					writeError(w, http.StatusUnauthorized, "invalid_token")
					return
				}
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			ctx := context.WithValue(r.Context(), ctxPlayerKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireAdmin checks basic auth credentials against ADMIN_USER and the
// bcrypt ADMIN_PASSWORD_HASH. With no hash configured the endpoint is closed.
func (s *Server) requireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pw, ok := r.BasicAuth()
			if !ok || s.cfg.AdminPasswordHash == "" ||
				subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AdminUser)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminPasswordHash), []byte(pw)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="realeffort"`)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
