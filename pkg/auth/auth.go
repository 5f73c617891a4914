// Package auth issues and verifies the session tokens the HTTP layer
// authenticates with.
package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tabletale/tabletale/pkg/models"
)

// SessionCookie is the cookie the browser flow stores the token in.
const SessionCookie = "session"

// Manager signs and parses session tokens. HS256 with a shared secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl}
}

type sessionClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Issue returns a signed token for the user.
func (m *Manager) Issue(user models.UserOut) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Name: user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns the user id it names.
func (m *Manager) Parse(tokenString string) (int64, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, models.NewServiceError(models.CodeUnauthorized, "Invalid session")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, models.NewServiceError(models.CodeUnauthorized, "Invalid session")
	}
	return userID, nil
}

// ExtractToken pulls the session token out of a request. Precedence:
// Authentication header, Authorization bearer, session cookie.
func ExtractToken(r *http.Request) (string, bool) {
	if v := r.Header.Get("Authentication"); v != "" {
		return strings.TrimSpace(strings.TrimPrefix(v, "Bearer ")), true
	}
	if v := r.Header.Get("Authorization"); v != "" {
		if after, found := strings.CutPrefix(v, "Bearer "); found {
			return strings.TrimSpace(after), true
		}
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}
