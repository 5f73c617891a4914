package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tabletale/tabletale/pkg/auth"
	"github.com/tabletale/tabletale/pkg/models"
)

// userIDKey is the context key the auth middleware stores the caller
// under.
const userIDKey = "user_id"

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// corsMiddleware allows the configured origins, with credentials for
// the session cookie.
func corsMiddleware(origins []string) echo.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			origin := c.Request().Header.Get("Origin")
			if _, ok := allowed[origin]; ok {
				h := c.Response().Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Authentication")
				h.Set("Vary", "Origin")
			}
			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}

// requireAuth resolves the caller from the session token and stores
// their id on the request context.
func (s *Server) requireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			token, ok := auth.ExtractToken(c.Request())
			if !ok {
				return respondError(c, models.NewServiceError(models.CodeUnauthorized, "Missing session"))
			}
			userID, err := s.auth.Parse(token)
			if err != nil {
				return respondError(c, err)
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

// currentUser returns the authenticated caller's id. Routes behind
// requireAuth always have one.
func currentUser(c *echo.Context) int64 {
	id, _ := c.Get(userIDKey).(int64)
	return id
}
