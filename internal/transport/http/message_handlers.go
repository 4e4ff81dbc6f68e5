package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/instalite-chat/internal/core"
	"github.com/vovakirdan/instalite-chat/internal/proto"
	"github.com/vovakirdan/instalite-chat/internal/service/messages"
)

// MessageHandlers serves room history.
type MessageHandlers struct {
	messages *messages.Service
	log      *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(svc *messages.Service, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{messages: svc, log: logger}
}

// History returns the most recent messages of a room, oldest first.
// GET /api/messages/:roomId
func (h *MessageHandlers) History(c *gin.Context) {
	roomID := c.Param("roomId")

	history, err := h.messages.History(c.Request.Context(), roomID, 0)
	if err != nil {
		if errors.Is(err, messages.ErrValidation) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "room id is required"})
			return
		}
		h.log.Error().Err(err).Str("room", roomID).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, lo.Map(history, func(m core.Message, _ int) proto.MessageData {
		return messageData(m)
	}))
}
