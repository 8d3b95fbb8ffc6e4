package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"expo-booking-backend/internal/auth"
	"expo-booking-backend/internal/event"
	"expo-booking-backend/internal/logger"
	"expo-booking-backend/internal/mw"
)

// RouterConfig holds the middleware settings of the router.
type RouterConfig struct {
	Verifier  *auth.Verifier
	Cache     *mw.ResponseCache
	RateLimit rate.Limit
	RateBurst int
	Log       *zap.Logger
}

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestID(), mw.Logger(logger.OrNop(cfg.Log)))

	api := r.Group("/api")
	api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	api.GET("/ws", mw.Authenticate(cfg.Verifier, true), h.ServeWS)

	authed := api.Group("")
	authed.Use(mw.Authenticate(cfg.Verifier, false), mw.RateLimiter(cfg.RateLimit, cfg.RateBurst))
	caching := cfg.Cache.Middleware()
	{
		authed.POST("/expos", h.CreateExpo)
		authed.GET("/expos/:id", h.GetExpo)
		authed.PATCH("/expos/:id/status", h.UpdateExpoStatus)

		authed.POST("/expos/:id/booths", h.CreateBooth)
		authed.GET("/expos/:id/booths", caching, h.ListBooths)
		authed.GET("/booths/:id", h.GetBooth)
		authed.POST("/booths/:id/book", h.Book(event.ResourceBooth))
		authed.POST("/booths/:id/cancel-booking", h.Cancel(event.ResourceBooth))
		authed.POST("/booths/:id/close", h.Close(event.ResourceBooth))
		authed.DELETE("/booths/:id", h.Delete(event.ResourceBooth))

		authed.POST("/expos/:id/sessions", h.CreateSession)
		authed.GET("/expos/:id/sessions", caching, h.ListSessions)
		authed.GET("/sessions/:id", h.GetSession)
		authed.POST("/sessions/:id/register", h.Book(event.ResourceSession))
		authed.POST("/sessions/:id/cancel-registration", h.Cancel(event.ResourceSession))
		authed.POST("/sessions/:id/close", h.Close(event.ResourceSession))
		authed.DELETE("/sessions/:id", h.Delete(event.ResourceSession))

		authed.GET("/notifications", h.ListNotifications)
		authed.POST("/notifications/:id/read", h.MarkNotificationRead)

		authed.GET("/subscriptions", h.GetSubscription)
		authed.PUT("/subscriptions", h.PutSubscription)
		authed.DELETE("/subscriptions", h.DeleteSubscription)
	}

	return r
}
