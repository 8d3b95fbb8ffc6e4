// Package notification turns waitlist promotions into durable notices and
// delivers them by web push.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"expo-booking-backend/internal/event"
	"expo-booking-backend/internal/model"
	"expo-booking-backend/internal/wire"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Store is the persistence the pool needs.
type Store interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
	SubscriptionsForUser(ctx context.Context, userID string) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// LiveSender pushes a frame to a user's open channel connections.
type LiveSender interface {
	SendToUser(userID string, t wire.Type, payload any)
}

// TypePromoted is the notification type stored for waitlist promotions.
const TypePromoted = "waitlist_promoted"

type job struct {
	userID  string
	payload []byte
}

// pushPayload is the JSON body delivered to the service worker.
type pushPayload struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	ResourceID string `json:"resourceId"`
	ExpoID     string `json:"expoId"`
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan job
	store   Store
	webpush *webpush.Options
	sender  NotificationSender
	live    LiveSender
	log     *zap.Logger
}

// Option configures a WorkerPool.
type Option func(*WorkerPool)

// WithSender replaces the web push sender.
func WithSender(s NotificationSender) Option {
	return func(wp *WorkerPool) { wp.sender = s }
}

// WithLive also delivers every notice over the push channel.
func WithLive(l LiveSender) Option {
	return func(wp *WorkerPool) { wp.live = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(wp *WorkerPool) {
		if l != nil {
			wp.log = l
		}
	}
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, st Store, webpushOptions *webpush.Options, opts ...Option) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	wp := &WorkerPool{
		size:    size,
		jobs:    make(chan job, size*64),
		store:   st,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(wp)
	}
	return wp
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log := wp.log.With(zap.Int("worker", id))
	log.Debug("worker started")
	for {
		select {
		case j := <-wp.jobs:
			wp.sendNotificationsForUser(ctx, j)
		case <-ctx.Done():
			log.Debug("worker shutting down")
			return
		}
	}
}

// Dispatch queues a push for every subscription of userID. It never blocks;
// when the queue is full the push is dropped and the stored notice remains.
func (wp *WorkerPool) Dispatch(userID string, payload []byte) bool {
	select {
	case wp.jobs <- job{userID: userID, payload: payload}:
		return true
	default:
		wp.log.Warn("push queue full, dropping", zap.String("user_id", userID))
		return false
	}
}

// Promoted stores a notice for the holder promoted by ev and queues its
// delivery. Only the store write can fail.
func (wp *WorkerPool) Promoted(ctx context.Context, ev event.BookingEvent) error {
	n := &model.Notification{
		UserID:       ev.HolderID,
		Type:         TypePromoted,
		Title:        "You're off the waitlist",
		Body:         fmt.Sprintf("A place opened up on %s %s and it is now yours.", ev.ResourceKind, ev.ResourceID),
		ResourceID:   ev.ResourceID,
		ResourceKind: string(ev.ResourceKind),
		ExpoID:       ev.ParentEventID,
		EventID:      ev.ID,
		CreatedAt:    ev.Timestamp,
	}
	if err := wp.store.CreateNotification(ctx, n); err != nil {
		return err
	}

	if wp.live != nil {
		wp.live.SendToUser(n.UserID, wire.TypeNotification, n)
	}

	payload, err := json.Marshal(pushPayload{
		Type:       n.Type,
		Title:      n.Title,
		Body:       n.Body,
		ResourceID: n.ResourceID,
		ExpoID:     n.ExpoID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode push payload: %w", err)
	}
	wp.Dispatch(n.UserID, payload)
	return nil
}

func (wp *WorkerPool) sendNotificationsForUser(ctx context.Context, j job) {
	subs, err := wp.store.SubscriptionsForUser(ctx, j.userID)
	if err != nil {
		wp.log.Error("failed to fetch subscriptions", zap.String("user_id", j.userID), zap.Error(err))
		return
	}
	if len(subs) == 0 {
		return
	}

	wp.log.Info("sending push notifications", zap.String("user_id", j.userID), zap.Int("count", len(subs)))
	for _, sub := range subs {
		wp.sendNotification(ctx, sub, j.payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn("failed to send push", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// Expired subscriptions.
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		wp.log.Info("subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.log.Error("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
