package handlers

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careline/rtc/internal/application/constant"
	"github.com/careline/rtc/internal/domain/models"
	"github.com/careline/rtc/internal/infra/appctx"
	"github.com/careline/rtc/internal/infra/ports/http/dto"
	"github.com/careline/rtc/internal/usecase"
)

type MessageHandler struct {
	relayUsecase usecase.RelayUsecase
}

func NewMessageHandler(relayUsecase usecase.RelayUsecase) *MessageHandler {
	return &MessageHandler{relayUsecase: relayUsecase}
}

func (h *MessageHandler) Create(c echo.Context) error {
	userID, ok := appctx.UserID(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid user ID in context"})
	}

	var req dto.CreateMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	created, err := h.relayUsecase.CreateMessage(c.Request().Context(), userID, models.Message{
		ReceiverID:   req.ReceiverID,
		Content:      req.Content,
		Type:         req.Type,
		Attachments:  req.Attachments,
		ClientTempID: req.ClientTempID,
	})
	if err != nil {
		slog.Error("create message failed", slog.Any(constant.UserID, userID), slog.Any(constant.Error, err))
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, created)
}

func (h *MessageHandler) Conversations(c echo.Context) error {
	userID, ok := appctx.UserID(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid user ID in context"})
	}

	return c.JSON(http.StatusOK, h.relayUsecase.Conversations(c.Request().Context(), userID))
}

func (h *MessageHandler) History(c echo.Context) error {
	userID, ok := appctx.UserID(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid user ID in context"})
	}

	peerID, err := uuid.Parse(c.Param("peerID"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid peer id"})
	}

	return c.JSON(http.StatusOK, h.relayUsecase.History(c.Request().Context(), userID, peerID))
}

func (h *MessageHandler) MarkRead(c echo.Context) error {
	userID, ok := appctx.UserID(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid user ID in context"})
	}

	peerID, err := uuid.Parse(c.Param("peerID"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid peer id"})
	}

	if err := h.relayUsecase.MarkRead(c.Request().Context(), userID, peerID); err != nil {
		slog.Error("mark read failed", slog.Any(constant.UserID, userID), slog.Any(constant.Error, err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not mark read"})
	}

	return c.NoContent(http.StatusOK)
}
