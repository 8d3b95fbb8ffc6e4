package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ServeWS upgrades an authenticated request to a push channel connection.
// The upgrader writes the HTTP error itself when the handshake fails.
func (h *Handler) ServeWS(c *gin.Context) {
	id := identity(c)
	if err := h.hub.Upgrade(c.Writer, c.Request, id.UserID); err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("user_id", id.UserID), zap.Error(err))
	}
}
