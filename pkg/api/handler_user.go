package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// getSelfHandler handles GET /user/me.
func (s *Server) getSelfHandler(c *echo.Context) error {
	user, err := s.uni.GetUser(c.Request().Context(), currentUser(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// getUserHandler handles GET /user/:id. Id 0 is an alias for the caller.
func (s *Server) getUserHandler(c *echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	if id == 0 {
		id = currentUser(c)
	}
	user, err := s.uni.GetUser(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}
