package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/careline/rtc/internal/application/constant"
	"github.com/careline/rtc/internal/domain/events"
	"github.com/careline/rtc/internal/infra/appctx"
	"github.com/careline/rtc/internal/usecase"
)

type SignalHandler struct {
	relayUsecase usecase.RelayUsecase
}

func NewSignalHandler(relayUsecase usecase.RelayUsecase) *SignalHandler {
	return &SignalHandler{relayUsecase: relayUsecase}
}

// Signal accepts one signaling request and relays it as a channel
// event to the other call party.
func (h *SignalHandler) Signal(c echo.Context) error {
	userID, ok := appctx.UserID(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid user ID in context"})
	}

	var req events.SignalRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if err := h.relayUsecase.HandleSignal(c.Request().Context(), userID, req); err != nil {
		if errors.Is(err, usecase.ErrUnknownSignalType) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}

		slog.Error(
			"handle signal failed",
			slog.String(constant.EventType, req.Type),
			slog.Any(constant.CallID, req.CallID),
			slog.Any(constant.Error, err),
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not relay signal"})
	}

	return c.NoContent(http.StatusOK)
}
