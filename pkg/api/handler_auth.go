package api

import (
	"net/http"
	"net/url"

	echo "github.com/labstack/echo/v5"

	"github.com/tabletale/tabletale/pkg/auth"
	"github.com/tabletale/tabletale/pkg/models"
)

// loginHandler handles GET /login?provider=name by redirecting the
// browser to the provider's authorization page.
func (s *Server) loginHandler(c *echo.Context) error {
	name := c.QueryParam("provider")
	provider, ok := s.cfg.OAuthProviders[name]
	if !ok {
		return respondError(c, models.NewServiceError(models.CodeInvalidProvider, "Unknown login provider: "+name))
	}

	redirect, err := url.Parse(provider.AuthURL)
	if err != nil {
		return respondError(c, models.ServerError("bad provider auth url", err))
	}
	q := redirect.Query()
	q.Set("client_id", provider.ClientID)
	q.Set("redirect_uri", s.cfg.SelfURL+"/login/callback/"+provider.Name)
	q.Set("response_type", "code")
	redirect.RawQuery = q.Encode()

	return c.Redirect(http.StatusFound, redirect.String())
}

// loginCallbackHandler handles GET /login/callback/:provider. The code
// exchange depends on provider credentials that are not part of this
// deployment yet, so the route only validates the provider.
func (s *Server) loginCallbackHandler(c *echo.Context) error {
	name := c.Param("provider")
	if _, ok := s.cfg.OAuthProviders[name]; !ok {
		return respondError(c, models.NewServiceError(models.CodeInvalidProvider, "Unknown login provider: "+name))
	}
	return echo.NewHTTPError(http.StatusNotImplemented, "login callback for "+name+" is not configured")
}

// logoutHandler handles GET /logout: clear the session cookie and send
// the browser back to the frontend.
func (s *Server) logoutHandler(c *echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusFound, s.cfg.FrontendURL)
}

// testLoginHandler handles GET /test-login?name=alice. Only enabled via
// TEST_LOGIN_ENABLED; creates the user on first login.
func (s *Server) testLoginHandler(c *echo.Context) error {
	if !s.cfg.TestLogin {
		return echo.NewHTTPError(http.StatusNotFound, "test login is disabled")
	}
	name := c.QueryParam("name")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	user, err := s.uni.GetOrCreateUser(c.Request().Context(), name)
	if err != nil {
		return respondError(c, err)
	}
	token, err := s.auth.Issue(user)
	if err != nil {
		return respondError(c, err)
	}

	c.SetCookie(&http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, map[string]any{
		"token": token,
		"user":  user,
	})
}
