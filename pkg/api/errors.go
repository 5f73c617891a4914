package api

import (
	"log/slog"
	"runtime/debug"

	echo "github.com/labstack/echo/v5"

	"github.com/tabletale/tabletale/pkg/models"
)

// logStackTraces is set once from config when the server is built. When
// on, server-error log lines carry the goroutine stack.
var logStackTraces bool

// respondError writes a service error in the wire format
// {"code","message","details"} with the code's HTTP status. Anything
// that is not a ServiceError collapses to ServerError and is logged
// with its cause; the cause never reaches the client.
func respondError(c *echo.Context, err error) error {
	se := models.AsServiceError(err)
	if se.Code == models.CodeServerError {
		args := []any{
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"message", se.Message,
			"error", se.Unwrap(),
		}
		if logStackTraces {
			args = append(args, "stack", string(debug.Stack()))
		}
		slog.Error("Request failed", args...)
	}
	return c.JSON(se.HTTPStatus(), se)
}
