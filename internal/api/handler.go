package api

import (
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"expo-booking-backend/internal/auth"
	"expo-booking-backend/internal/booking"
	"expo-booking-backend/internal/dispatch"
	"expo-booking-backend/internal/ledger"
	"expo-booking-backend/internal/logger"
	"expo-booking-backend/internal/mw"
	"expo-booking-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	coord   *booking.Coordinator
	hub     *dispatch.Hub
	webpush *webpush.Options
	log     *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, coord *booking.Coordinator, hub *dispatch.Hub, webpushOptions *webpush.Options, log *zap.Logger) *Handler {
	return &Handler{
		store:   s,
		coord:   coord,
		hub:     hub,
		webpush: webpushOptions,
		log:     logger.OrNop(log),
	}
}

func identity(c *gin.Context) auth.Identity {
	id, _ := mw.IdentityFrom(c)
	return id
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"message": msg})
}

func forbidden(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{"message": "only the expo organizer may do this"})
}

// fail maps domain errors to status codes. Unexpected errors are logged and
// reported without detail.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "not found"})
	case errors.Is(err, store.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
	case booking.IsRejection(err), errors.Is(err, booking.ErrResourceInUse):
		c.JSON(http.StatusConflict, gin.H{"message": rejectionMessage(err)})
	case booking.IsRetryable(err):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": ledger.ErrBusy.Error()})
	default:
		h.log.Error("request failed",
			zap.String("request_id", mw.GetRequestID(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
	}
}

// rejectionMessage returns the sentinel text without wrapping context.
func rejectionMessage(err error) string {
	for _, target := range []error{
		ledger.ErrAlreadyHolding, ledger.ErrAlreadyWaitlisted, ledger.ErrAtCapacity,
		ledger.ErrSharingNotAllowed, ledger.ErrClosed, ledger.ErrInUse,
		booking.ErrExpoNotBookable, booking.ErrHoldsOtherResource, booking.ErrNotBooked,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}
