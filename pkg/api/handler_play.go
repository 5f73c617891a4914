package api

import (
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/tabletale/tabletale/pkg/models"
)

// getStateHandler handles GET /game/:id/state.
func (s *Server) getStateHandler(c *echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	g, err := s.uni.GetGameSystem(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	state, err := g.GetState(c.Request().Context(), currentUser(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

// getChatSegmentHandler handles GET /game/:id/chat/:chat_id with
// limit/before/after query parameters.
func (s *Server) getChatSegmentHandler(c *echo.Context) error {
	gameID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	chatID, err := parseIDParam(c, "chat_id")
	if err != nil {
		return err
	}

	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	var before, after *int64
	if v := c.QueryParam("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid before")
		}
		before = &n
	}
	if v := c.QueryParam("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid after")
		}
		after = &n
	}

	g, err := s.uni.GetGameSystem(c.Request().Context(), gameID)
	if err != nil {
		return respondError(c, err)
	}
	segment, err := g.GetChatSegment(currentUser(c), chatID, limit, before, after)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, segment)
}

// sendMessageHandler handles POST /game/:id/chat/:chat_id/send.
func (s *Server) sendMessageHandler(c *echo.Context) error {
	gameID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	chatID, err := parseIDParam(c, "chat_id")
	if err != nil {
		return err
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	g, err := s.uni.GetGameSystem(c.Request().Context(), gameID)
	if err != nil {
		return respondError(c, err)
	}
	msg, err := g.SendMessage(c.Request().Context(), currentUser(c), chatID, req.Text, req.Special, req.Metadata)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, msg)
}

// wsHandler handles GET /game/:id/ws: upgrade, then hand the socket to
// the controller. Blocks until the socket closes.
func (s *Server) wsHandler(c *echo.Context) error {
	gameID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	userID := currentUser(c)

	g, err := s.uni.GetGameSystem(c.Request().Context(), gameID)
	if err != nil {
		return respondError(c, err)
	}
	if !g.HasPlayer(userID) {
		return respondError(c, models.NewServiceError(models.CodePlayerNotInGame, "Player is not in the game"))
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.CORSOrigins),
	})
	if err != nil {
		return err
	}
	s.controller.HandleConnection(c.Request().Context(), gameID, userID, conn)
	return nil
}

// originPatterns strips schemes for the websocket origin allowlist.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		for _, prefix := range []string{"https://", "http://"} {
			if len(o) > len(prefix) && o[:len(prefix)] == prefix {
				o = o[len(prefix):]
				break
			}
		}
		patterns = append(patterns, o)
	}
	return patterns
}
