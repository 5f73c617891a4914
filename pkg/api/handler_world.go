package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/tabletale/tabletale/pkg/models"
)

func parseIDParam(c *echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be an integer")
	}
	return id, nil
}

// parseListParams reads the shared pagination/sorting query parameters.
func parseListParams(c *echo.Context) (models.ListParams, error) {
	params := models.ListParams{Page: 1, SortOrder: models.SortAsc}
	if v := c.QueryParam("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 {
			return params, echo.NewHTTPError(http.StatusBadRequest, "invalid page")
		}
		params.Page = p
	}
	if v := c.QueryParam("page_size"); v != "" {
		ps, err := strconv.Atoi(v)
		if err != nil || ps < 1 {
			return params, echo.NewHTTPError(http.StatusBadRequest, "invalid page_size")
		}
		params.PageSize = ps
	}
	params.SortBy = c.QueryParam("sort_by")
	if v := c.QueryParam("sort_order"); v != "" {
		switch models.SortOrder(v) {
		case models.SortAsc, models.SortDesc:
			params.SortOrder = models.SortOrder(v)
		default:
			return params, echo.NewHTTPError(http.StatusBadRequest, "invalid sort_order: must be asc or desc")
		}
	}
	return params, nil
}

// createWorldHandler handles POST /world.
func (s *Server) createWorldHandler(c *echo.Context) error {
	var req createWorldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	world, err := s.uni.CreateWorld(c.Request().Context(), currentUser(c), req.Name, req.Public, req.Description, req.Data)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, world)
}

// listWorldsHandler handles GET /world.
func (s *Server) listWorldsHandler(c *echo.Context) error {
	params, err := parseListParams(c)
	if err != nil {
		return err
	}
	worlds, err := s.uni.GetWorlds(c.Request().Context(), currentUser(c), params)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, worlds)
}

// getWorldHandler handles GET /world/:id.
func (s *Server) getWorldHandler(c *echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	world, err := s.uni.GetWorld(c.Request().Context(), id, currentUser(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, world)
}

// updateWorldHandler handles PUT /world/:id.
func (s *Server) updateWorldHandler(c *echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	var req updateWorldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	world, err := s.uni.UpdateWorld(c.Request().Context(), id, currentUser(c), req.Name, req.Public, req.Description, req.Data)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, world)
}

// deleteWorldHandler handles DELETE /world/:id.
func (s *Server) deleteWorldHandler(c *echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	if err := s.uni.DeleteWorld(c.Request().Context(), id, currentUser(c)); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// copyWorldHandler handles POST /world/:id/copy.
func (s *Server) copyWorldHandler(c *echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	world, err := s.uni.CopyWorld(c.Request().Context(), id, currentUser(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, world)
}
