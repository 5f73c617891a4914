package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/tabletale/tabletale/pkg/models"
)

// createGameHandler handles POST /game. The caller becomes the host.
func (s *Server) createGameHandler(c *echo.Context) error {
	var req createGameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if req.WorldID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "world_id is required")
	}

	out, err := s.uni.CreateGame(c.Request().Context(), currentUser(c), req.WorldID, req.Name, req.Public, req.MaxPlayers)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// listGamesHandler handles GET /game.
func (s *Server) listGamesHandler(c *echo.Context) error {
	listParams, err := parseListParams(c)
	if err != nil {
		return err
	}
	params := models.GameListParams{ListParams: listParams}
	if v := c.QueryParam("status"); v != "" {
		for _, st := range strings.Split(v, ",") {
			status := models.GameStatus(st)
			if !models.ValidGameStatus(status) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+st)
			}
			params.Statuses = append(params.Statuses, status)
		}
	}
	params.IncludeArchived = c.QueryParam("include_archived") == "true"

	games, err := s.uni.GetGames(c.Request().Context(), currentUser(c), params)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, games)
}

// getGameHandler handles GET /game/:id.
func (s *Server) getGameHandler(c *echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	out, err := s.uni.GetGame(c.Request().Context(), id, currentUser(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// getGameByCodeHandler handles GET /game/code/:code.
func (s *Server) getGameByCodeHandler(c *echo.Context) error {
	out, err := s.uni.GetGameByCode(c.Request().Context(), c.Param("code"), currentUser(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// updateGameHandler handles PUT /game/:id: settings plus an optional
// host transfer.
func (s *Server) updateGameHandler(c *echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	var req updateGameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	requester := currentUser(c)
	g, err := s.uni.GetGameSystem(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	if g.HostID() != requester {
		return respondError(c, models.NewServiceError(models.CodeNotHost, "Only the host may update the game"))
	}

	if req.Name != nil || req.Public != nil || req.MaxPlayers != nil {
		if err := g.UpdateSettings(c.Request().Context(), req.Public, req.Name, req.MaxPlayers); err != nil {
			return respondError(c, err)
		}
	}
	if req.HostID != nil {
		if err := g.MakeHost(c.Request().Context(), *req.HostID, &requester); err != nil {
			return respondError(c, err)
		}
	}
	return c.JSON(http.StatusOK, g.GameOut())
}

// readyHandler handles POST /game/:id/ready. Ready defaults to true.
func (s *Server) readyHandler(c *echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	var req readyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ready := true
	if req.Ready != nil {
		ready = *req.Ready
	}

	g, err := s.uni.GetGameSystem(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	if err := g.SetReady(c.Request().Context(), currentUser(c), ready); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// joinGameHandler handles POST /game/:id/join.
func (s *Server) joinGameHandler(c *echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	return s.joinGame(c, id)
}

// joinGameByCodeHandler handles POST /game/code/:code/join.
func (s *Server) joinGameByCodeHandler(c *echo.Context) error {
	out, err := s.uni.GetGameByCode(c.Request().Context(), c.Param("code"), currentUser(c))
	if err != nil {
		return respondError(c, err)
	}
	return s.joinGame(c, out.ID)
}

func (s *Server) joinGame(c *echo.Context, gameID int64) error {
	g, err := s.uni.GetGameSystem(c.Request().Context(), gameID)
	if err != nil {
		return respondError(c, err)
	}
	if err := g.ConnectPlayer(c.Request().Context(), currentUser(c)); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, g.GameOut())
}

// leaveGameHandler handles POST /game/:id/leave.
func (s *Server) leaveGameHandler(c *echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	requester := currentUser(c)
	g, err := s.uni.GetGameSystem(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	if err := g.DisconnectPlayer(c.Request().Context(), requester, false, &requester); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// kickPlayerHandler handles POST /game/:id/kick. Host only.
func (s *Server) kickPlayerHandler(c *echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	var req playerIDRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "id is required")
	}

	requester := currentUser(c)
	g, err := s.uni.GetGameSystem(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	if err := g.DisconnectPlayer(c.Request().Context(), req.ID, false, &requester); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// promotePlayerHandler handles POST /game/:id/promote. Host only.
func (s *Server) promotePlayerHandler(c *echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	var req playerIDRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "id is required")
	}

	requester := currentUser(c)
	g, err := s.uni.GetGameSystem(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	if err := g.MakeHost(c.Request().Context(), req.ID, &requester); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// startGameHandler handles POST /game/:id/start?force=bool. Host only.
func (s *Server) startGameHandler(c *echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	force := c.QueryParam("force") == "true"

	requester := currentUser(c)
	g, err := s.uni.GetGameSystem(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	if err := g.StartGame(c.Request().Context(), force, &requester); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// finishGameHandler handles POST /game/:id/finish. Host only.
func (s *Server) finishGameHandler(c *echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	requester := currentUser(c)
	g, err := s.uni.GetGameSystem(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	if err := g.FinishGame(c.Request().Context(), &requester); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// restartGameHandler handles POST /game/:id/restart. Host only;
// requires a finished game.
func (s *Server) restartGameHandler(c *echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	out, err := s.uni.RestartGame(c.Request().Context(), id, currentUser(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
