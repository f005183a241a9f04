package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/careline/rtc/internal/application/config"
	"github.com/careline/rtc/internal/application/constant"
	"github.com/careline/rtc/internal/infra/adapters/memory"
	"github.com/careline/rtc/internal/infra/appctx"
	"github.com/careline/rtc/internal/usecase"
)

const (
	readDeadline = 60 * time.Second
	pingInterval = 30 * time.Second
)

// WebSocketHandler owns the event channel endpoint. The channel is
// server-push only: client frames are read to keep the connection
// liveness bookkeeping going, then dropped.
type WebSocketHandler struct {
	upgrader *websocket.Upgrader

	connRepo     memory.ChannelConnectionRepository
	relayUsecase usecase.RelayUsecase
}

func NewWebSocketHandler(
	cfg *config.Config,
	connRepo memory.ChannelConnectionRepository,
	relayUsecase usecase.RelayUsecase,
) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				origin := r.Header.Get("Origin")
				return origin == "" || origin == cfg.Serve.Domain
			},
		},
		connRepo:     connRepo,
		relayUsecase: relayUsecase,
	}
}

func (h *WebSocketHandler) Handle(c echo.Context) error {
	userID, ok := appctx.UserID(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid user ID in context"})
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"websocket upgrade error",
			slog.Any(constant.UserID, userID),
			slog.Any(constant.Error, err),
		)
		return err
	}
	defer ws.Close()

	if err = ws.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readDeadline))
	})

	h.connRepo.Add(userID, ws)
	h.relayUsecase.HandleConnect(c.Request().Context(), userID)

	defer func() {
		h.connRepo.Remove(userID)
		h.relayUsecase.HandleDisconnect(c.Request().Context(), userID)
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-c.Request().Context().Done():
				return
			}
		}
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			slog.Debug(
				"websocket closed",
				slog.Any(constant.UserID, userID),
				slog.Any(constant.Error, err),
			)
			return nil
		}

		// Любой входящий фрейм продлевает дедлайн.
		_ = ws.SetReadDeadline(time.Now().Add(readDeadline))
	}
}
