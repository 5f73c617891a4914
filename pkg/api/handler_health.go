package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/tabletale/tabletale/pkg/version"
)

// livenessHandler handles GET /liveness. Always 200; the database
// status is informational.
func (s *Server) livenessHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  version.Full(),
		"database": s.uni.Health(ctx),
	})
}
