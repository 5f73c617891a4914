// Package api exposes the HTTP and WebSocket surface of the session
// runtime.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/tabletale/tabletale/pkg/auth"
	"github.com/tabletale/tabletale/pkg/config"
	"github.com/tabletale/tabletale/pkg/universe"
	"github.com/tabletale/tabletale/pkg/ws"
)

// Server wires the universe and the websocket controller to the routes.
type Server struct {
	cfg        *config.Config
	uni        *universe.Universe
	auth       *auth.Manager
	controller *ws.Controller

	echo *echo.Echo
	http *http.Server
}

// NewServer builds the server and registers every route.
func NewServer(cfg *config.Config, uni *universe.Universe, authMgr *auth.Manager, controller *ws.Controller) *Server {
	s := &Server{
		cfg:        cfg,
		uni:        uni,
		auth:       authMgr,
		controller: controller,
		echo:       echo.New(),
	}
	logStackTraces = cfg.LogStackTraces
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.Use(securityHeaders())
	e.Use(corsMiddleware(s.cfg.CORSOrigins))

	// Public surface.
	e.GET("/liveness", s.livenessHandler)
	e.GET("/login", s.loginHandler)
	e.GET("/login/callback/:provider", s.loginCallbackHandler)
	e.GET("/logout", s.logoutHandler)
	e.GET("/test-login", s.testLoginHandler)

	// Everything else requires a session.
	authed := e.Group("", s.requireAuth())

	authed.POST("/world", s.createWorldHandler)
	authed.GET("/world", s.listWorldsHandler)
	authed.GET("/world/:id", s.getWorldHandler)
	authed.PUT("/world/:id", s.updateWorldHandler)
	authed.DELETE("/world/:id", s.deleteWorldHandler)
	authed.POST("/world/:id/copy", s.copyWorldHandler)

	authed.POST("/game", s.createGameHandler)
	authed.GET("/game", s.listGamesHandler)
	authed.GET("/game/:id", s.getGameHandler)
	authed.GET("/game/code/:code", s.getGameByCodeHandler)
	authed.PUT("/game/:id", s.updateGameHandler)
	authed.POST("/game/:id/ready", s.readyHandler)
	authed.POST("/game/:id/join", s.joinGameHandler)
	authed.POST("/game/code/:code/join", s.joinGameByCodeHandler)
	authed.POST("/game/:id/leave", s.leaveGameHandler)
	authed.POST("/game/:id/kick", s.kickPlayerHandler)
	authed.POST("/game/:id/promote", s.promotePlayerHandler)
	authed.POST("/game/:id/start", s.startGameHandler)
	authed.POST("/game/:id/finish", s.finishGameHandler)
	authed.POST("/game/:id/restart", s.restartGameHandler)

	authed.GET("/game/:id/state", s.getStateHandler)
	authed.GET("/game/:id/chat/:chat_id", s.getChatSegmentHandler)
	authed.POST("/game/:id/chat/:chat_id/send", s.sendMessageHandler)
	authed.GET("/game/:id/ws", s.wsHandler)

	authed.GET("/user/me", s.getSelfHandler)
	authed.GET("/user/:id", s.getUserHandler)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
