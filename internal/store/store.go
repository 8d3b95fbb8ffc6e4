package store

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"expo-booking-backend/internal/event"
	"expo-booking-backend/internal/ledger"
	"expo-booking-backend/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a booth number or session code is already used in the expo.
	ErrDuplicate = errors.New("duplicate resource number")
)

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	CreateExpo(ctx context.Context, e *model.Expo) error
	GetExpo(ctx context.Context, id string) (*model.Expo, error)
	UpdateExpoStatus(ctx context.Context, id string, status model.ExpoStatus) error

	CreateBooth(ctx context.Context, b *model.Booth) error
	GetBooth(ctx context.Context, id string) (*model.Booth, error)
	ListBooths(ctx context.Context, expoID string) ([]model.Booth, error)
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context, expoID string) ([]model.Session, error)

	GetResource(ctx context.Context, kind event.ResourceKind, id string) (*Resource, error)
	LoadState(ctx context.Context, kind event.ResourceKind, id string) (ledger.State, error)
	SaveState(ctx context.Context, kind event.ResourceKind, expoID string, st ledger.State) error
	HeldResources(ctx context.Context, kind event.ResourceKind, expoID, holderID string) ([]string, error)
	DeleteResource(ctx context.Context, kind event.ResourceKind, id string) error

	CreateNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, userID string, id int64) error

	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForUser(ctx context.Context, userID string) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying connection for callers that need raw access.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
