package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"expo-booking-backend/internal/db"
	"expo-booking-backend/internal/event"
	"expo-booking-backend/internal/ledger"
	"expo-booking-backend/internal/model"
)

// newSQLiteStore opens a private in-memory database per test.
func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gormDB, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))
	return NewGormStore(gormDB)
}

// A helper function to create a mock database connection.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: sqlDB,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func seedExpo(t *testing.T, s Store, status model.ExpoStatus) *model.Expo {
	t.Helper()
	e := &model.Expo{Name: "Spring Expo", OrganizerID: "org-1", Status: status}
	require.NoError(t, s.CreateExpo(context.Background(), e))
	return e
}

func TestGormStore_CreateBooth(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	expo := seedExpo(t, s, model.ExpoPublished)

	b := &model.Booth{ExpoID: expo.ID, Number: "H1-001"}
	require.NoError(t, s.CreateBooth(ctx, b))
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "available", b.Status)

	t.Run("duplicate number in same expo", func(t *testing.T) {
		err := s.CreateBooth(ctx, &model.Booth{ExpoID: expo.ID, Number: "H1-001"})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("same number in another expo", func(t *testing.T) {
		other := seedExpo(t, s, model.ExpoPublished)
		assert.NoError(t, s.CreateBooth(ctx, &model.Booth{ExpoID: other.ID, Number: "H1-001"}))
	})

	t.Run("unknown expo", func(t *testing.T) {
		err := s.CreateBooth(ctx, &model.Booth{ExpoID: "missing", Number: "H1-002"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	booths, err := s.ListBooths(ctx, expo.ID)
	require.NoError(t, err)
	assert.Len(t, booths, 1)
}

func TestGormStore_GetResource(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	expo := seedExpo(t, s, model.ExpoOngoing)

	shared := &model.Booth{ExpoID: expo.ID, Number: "H1-002", AllowSharing: true, MaxExhibitors: 3}
	require.NoError(t, s.CreateBooth(ctx, shared))
	seats := 40
	talk := &model.Session{ExpoID: expo.ID, Code: "T-001", Title: "Keynote", MaxAttendees: &seats, AllowWaitlist: true}
	require.NoError(t, s.CreateSession(ctx, talk))
	open := &model.Session{ExpoID: expo.ID, Code: "T-002", Title: "Open floor"}
	require.NoError(t, s.CreateSession(ctx, open))

	r, err := s.GetResource(ctx, event.ResourceBooth, shared.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Capacity)
	assert.True(t, r.AllowSharing)
	assert.Equal(t, model.ExpoOngoing, r.ExpoStatus)

	r, err = s.GetResource(ctx, event.ResourceSession, talk.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, r.Capacity)
	assert.True(t, r.AllowSharing)
	assert.True(t, r.AllowWaitlist)

	r, err = s.GetResource(ctx, event.ResourceSession, open.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.Unbounded, r.Capacity)

	_, err = s.GetResource(ctx, event.ResourceBooth, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_SaveAndLoadState(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	expo := seedExpo(t, s, model.ExpoPublished)
	seats := 2
	sess := &model.Session{ExpoID: expo.ID, Code: "S1", Title: "Workshop", MaxAttendees: &seats, AllowWaitlist: true}
	require.NoError(t, s.CreateSession(ctx, sess))

	st, err := s.LoadState(ctx, event.ResourceSession, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, st.Holders)
	assert.Equal(t, 2, st.Capacity)

	st.Holders = []string{"U2", "U1"}
	st.Waitlist = []string{"U4", "U3"}
	require.NoError(t, s.SaveState(ctx, event.ResourceSession, expo.ID, st))

	loaded, err := s.LoadState(ctx, event.ResourceSession, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"U2", "U1"}, loaded.Holders)
	assert.Equal(t, []string{"U4", "U3"}, loaded.Waitlist)

	row, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, string(ledger.StatusOccupied), row.Status)

	held, err := s.HeldResources(ctx, event.ResourceSession, expo.ID, "U3")
	require.NoError(t, err)
	assert.Equal(t, []string{sess.ID}, held)

	held, err = s.HeldResources(ctx, event.ResourceBooth, expo.ID, "U3")
	require.NoError(t, err)
	assert.Empty(t, held)

	loaded.Holders = []string{"U1"}
	loaded.Waitlist = []string{}
	loaded.Closed = true
	require.NoError(t, s.SaveState(ctx, event.ResourceSession, expo.ID, loaded))
	again, err := s.LoadState(ctx, event.ResourceSession, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"U1"}, again.Holders)
	assert.Empty(t, again.Waitlist)
	assert.True(t, again.Closed)
}

func TestGormStore_DeleteResource(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	expo := seedExpo(t, s, model.ExpoPublished)
	b := &model.Booth{ExpoID: expo.ID, Number: "A-001"}
	require.NoError(t, s.CreateBooth(ctx, b))

	require.NoError(t, s.DeleteResource(ctx, event.ResourceBooth, b.ID))
	_, err := s.GetBooth(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteResource(ctx, event.ResourceBooth, b.ID), ErrNotFound)
}

func TestGormStore_Notifications(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateNotification(ctx, &model.Notification{UserID: "U1", Type: "promoted", Title: "You're in"}))
	n2 := &model.Notification{UserID: "U1", Type: "promoted", Title: "Second"}
	require.NoError(t, s.CreateNotification(ctx, n2))
	require.NoError(t, s.CreateNotification(ctx, &model.Notification{UserID: "U2", Type: "promoted", Title: "Other"}))

	all, err := s.ListNotifications(ctx, "U1", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.MarkNotificationRead(ctx, "U1", n2.ID))
	unread, err := s.ListNotifications(ctx, "U1", true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "You're in", unread[0].Title)

	assert.ErrorIs(t, s.MarkNotificationRead(ctx, "U2", n2.ID), ErrNotFound)
}

func TestGormStore_Subscriptions(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	sub := &model.PushSubscription{Endpoint: "https://push.example/1", UserID: "U1", P256DH: "k", Auth: "a"}
	require.NoError(t, s.UpsertSubscription(ctx, sub))
	sub.Auth = "b"
	require.NoError(t, s.UpsertSubscription(ctx, sub))

	got, err := s.GetSubscription(ctx, sub.Endpoint)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Auth)

	subs, err := s.SubscriptionsForUser(ctx, "U1")
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	require.NoError(t, s.DeleteSubscription(ctx, sub.Endpoint))
	_, err = s.GetSubscription(ctx, sub.Endpoint)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_UpdateExpoStatus(t *testing.T) {
	testCases := []struct {
		name             string
		mockExpectations func(mock sqlmock.Sqlmock)
		expectedErr      error
		expectAnyErr     bool
	}{
		{
			name: "status updated",
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "expos" SET "status"=$1,"updated_at"=$2 WHERE id = $3`)).
					WithArgs("published", Any{}, "E1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "unknown expo",
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "expos"`)).
					WithArgs("published", Any{}, "E1").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
			expectedErr: ErrNotFound,
		},
		{
			name: "database failure",
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "expos"`)).
					WithArgs("published", Any{}, "E1").
					WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			expectAnyErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gormDB, mock := newMockDB(t)
			s := NewGormStore(gormDB)
			tc.mockExpectations(mock)

			err := s.UpdateExpoStatus(context.Background(), "E1", model.ExpoPublished)
			switch {
			case tc.expectedErr != nil:
				assert.ErrorIs(t, err, tc.expectedErr)
			case tc.expectAnyErr:
				assert.Error(t, err)
				assert.NotErrorIs(t, err, ErrNotFound)
			default:
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}
