package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ListNotifications returns the caller's notices, newest first. ?unread=true
// limits the list to unread ones.
func (h *Handler) ListNotifications(c *gin.Context) {
	unread, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))
	ns, err := h.store.ListNotifications(c.Request.Context(), identity(c).UserID, unread)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok", "notifications": ns})
}

// MarkNotificationRead marks one of the caller's notices as read.
func (h *Handler) MarkNotificationRead(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid notification id")
		return
	}
	if err := h.store.MarkNotificationRead(c.Request.Context(), identity(c).UserID, id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "notification marked read"})
}
