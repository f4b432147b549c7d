package http

import (
	"net/http"
	"strconv"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	"echoframe/internal/infrastructure/middleware"
	apperrors "echoframe/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ChatHandler serves room chat for clients that are not on the websocket.
type ChatHandler struct {
	chat     ports.ChatService
	sessions ports.SessionService
}

func NewChatHandler(chat ports.ChatService, sessions ports.SessionService) *ChatHandler {
	return &ChatHandler{chat: chat, sessions: sessions}
}

func (h *ChatHandler) SetupRoutes(router *gin.Engine) {
	room := router.Group("/api/v1/rooms/:room_id/chat", middleware.SessionMiddleware(h.sessions))
	{
		room.POST("", h.Send)
		room.GET("/history", h.History)
	}
}

type ChatRequest struct {
	MessageID string `json:"message_id"`
	Message   string `json:"message" binding:"required"`
	ReplyTo   string `json:"reply_to_id"`
}

// Send posts a message as the caller.
func (h *ChatHandler) Send(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req ChatRequest
	if !bind(c, &req) {
		return
	}

	msg, err := h.chat.Send(c.Request.Context(), a.RoomID, a.GuestID, domain.ChatInput{
		ID:      domain.MessageID(req.MessageID),
		Message: req.Message,
		ReplyTo: domain.MessageID(req.ReplyTo),
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// History returns the newest messages, oldest first. ?limit narrows it.
func (h *ChatHandler) History(c *gin.Context) {
	a, ok := member(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.Error(apperrors.NewInvalidInputError("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	msgs, err := h.chat.History(c.Request.Context(), a.RoomID, a.GuestID, limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, domain.ChatHistoryPayload{Messages: msgs})
}
