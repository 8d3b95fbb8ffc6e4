package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"expo-booking-backend/internal/model"
)

type createExpoRequest struct {
	Name     string    `json:"name" binding:"required,max=256"`
	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt"`
}

// CreateExpo creates a draft expo owned by the caller.
func (h *Handler) CreateExpo(c *gin.Context) {
	id := identity(c)
	if !id.IsOrganizer() {
		c.JSON(http.StatusForbidden, gin.H{"message": "only organizers may create expos"})
		return
	}

	var req createExpoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !req.StartsAt.IsZero() && !req.EndsAt.IsZero() && req.EndsAt.Before(req.StartsAt) {
		badRequest(c, "endsAt must not be before startsAt")
		return
	}

	expo := &model.Expo{
		Name:        req.Name,
		OrganizerID: id.UserID,
		Status:      model.ExpoDraft,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
	}
	if err := h.store.CreateExpo(c.Request.Context(), expo); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "expo created", "expo": expo})
}

// GetExpo returns one expo.
func (h *Handler) GetExpo(c *gin.Context) {
	expo, err := h.store.GetExpo(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok", "expo": expo})
}

type updateExpoStatusRequest struct {
	Status model.ExpoStatus `json:"status" binding:"required"`
}

// UpdateExpoStatus moves an expo through its lifecycle.
func (h *Handler) UpdateExpoStatus(c *gin.Context) {
	var req updateExpoStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !req.Status.Valid() {
		badRequest(c, "unknown expo status "+string(req.Status))
		return
	}

	ctx := c.Request.Context()
	expo, ok := h.ownedExpo(c, c.Param("id"))
	if !ok {
		return
	}
	if err := h.store.UpdateExpoStatus(ctx, expo.ID, req.Status); err != nil {
		h.fail(c, err)
		return
	}
	expo.Status = req.Status
	c.JSON(http.StatusOK, gin.H{"message": "expo status updated", "expo": expo})
}

// ownedExpo loads an expo and checks the caller organizes it. It writes the
// error response itself.
func (h *Handler) ownedExpo(c *gin.Context, expoID string) (*model.Expo, bool) {
	expo, err := h.store.GetExpo(c.Request.Context(), expoID)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if expo.OrganizerID != identity(c).UserID {
		forbidden(c)
		return nil, false
	}
	return expo, true
}
