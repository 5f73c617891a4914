package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletale/tabletale/pkg/models"
)

func TestRespondError(t *testing.T) {
	newCtx := func() (*echo.Context, *httptest.ResponseRecorder) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/game", nil)
		rec := httptest.NewRecorder()
		return e.NewContext(req, rec), rec
	}

	t.Run("service error keeps its code and status", func(t *testing.T) {
		c, rec := newCtx()
		err := models.NewServiceErrorWithDetails(models.CodePlayerNotReady,
			"Some players are not ready", map[string]any{"playerIds": []int64{2, 5}})

		require.NoError(t, respondError(c, err))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "PlayerNotReady", body.Code)
		assert.Equal(t, "Some players are not ready", body.Message)
		assert.Contains(t, body.Details, "playerIds")
	})

	t.Run("conflict codes map to 409", func(t *testing.T) {
		c, rec := newCtx()
		require.NoError(t, respondError(c, models.NewServiceError(models.CodeGameFull, "Game is full")))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unexpected errors collapse to ServerError", func(t *testing.T) {
		c, rec := newCtx()
		require.NoError(t, respondError(c, errors.New("pq: connection refused")))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), string(models.CodeServerError))
		// The cause stays in the logs.
		assert.NotContains(t, rec.Body.String(), "connection refused")
	})

	t.Run("stack traces logged when enabled", func(t *testing.T) {
		logStackTraces = true
		prev := slog.Default()
		var buf bytes.Buffer
		slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
		t.Cleanup(func() {
			logStackTraces = false
			slog.SetDefault(prev)
		})

		c, rec := newCtx()
		require.NoError(t, respondError(c, errors.New("pq: connection refused")))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, buf.String(), "goroutine", "log line should carry the stack")
		assert.NotContains(t, rec.Body.String(), "goroutine", "stack never reaches the client")
	})
}
