package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/careline/rtc/internal/application/config"
	"github.com/careline/rtc/internal/infra/ports/http/handlers"
	"github.com/careline/rtc/internal/infra/ports/http/middleware"
)

func New(
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	iceHandler *handlers.IceHandler,
	signalHandler *handlers.SignalHandler,
	messageHandler *handlers.MessageHandler,
	wsHandler *handlers.WebSocketHandler,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
		}

		v1 := api.Group("/v1")
		v1.Use(middleware.JWTAuthMiddleware(cfg.Serve.JWTSecret))
		{
			v1.GET("/me", authHandler.GetMe)
			v1.GET("/users/online", authHandler.GetOnlineUsers)

			v1.GET("/ice", iceHandler.IceServers)

			v1.GET("/ws", wsHandler.Handle)

			v1.POST("/signal", signalHandler.Signal)

			v1.POST("/messages", messageHandler.Create)
			v1.GET("/messages/:peerID", messageHandler.History)
			v1.GET("/conversations", messageHandler.Conversations)
			v1.POST("/conversations/:peerID/read", messageHandler.MarkRead)
		}
	}

	return e
}
