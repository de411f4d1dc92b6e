package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	SessionIDKey     = "session_id"
	SessionCookie    = "session"
	sessionTokenType = "chat_session"
)

type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SignSession returns an HS256 token carrying sessionID.
func SignSession(secret, sessionID string) (string, error) {
	claims := &sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: sessionTokenType,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseSession verifies token and returns the session id it carries.
func ParseSession(secret, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid || claims.Subject != sessionTokenType {
		return "", errors.New("invalid session token")
	}
	if _, err := uuid.Parse(claims.SessionID); err != nil {
		return "", fmt.Errorf("invalid session id: %w", err)
	}
	return claims.SessionID, nil
}

// Session resolves the caller's session id from the signed session cookie.
// A missing or invalid cookie gets a fresh random id and a new cookie. The
// cookie has no Max-Age, so it lives as long as the browser session.
func Session(secret string, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw, err := c.Cookie(SessionCookie); err == nil && raw != "" {
			if sid, err := ParseSession(secret, raw); err == nil {
				c.Set(SessionIDKey, sid)
				c.Next()
				return
			}
		}

		sid := uuid.NewString()
		token, err := SignSession(secret, sid)
		if err != nil {
			slog.Error("sign session token", "error", err)
		} else {
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(SessionCookie, token, 0, "/", "", secure, true)
		}
		slog.Info("created new session", "session_id", sid)
		c.Set(SessionIDKey, sid)
		c.Next()
	}
}

// SessionID returns the id stored by Session.
func SessionID(c *gin.Context) string {
	return c.GetString(SessionIDKey)
}
