package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"expo-booking-backend/internal/event"
	"expo-booking-backend/internal/ledger"
	"expo-booking-backend/internal/model"
)

// Resource is the kind-independent view of a booth or session.
type Resource struct {
	Kind          event.ResourceKind
	ID            string
	ExpoID        string
	ExpoStatus    model.ExpoStatus
	Number        string
	Capacity      int
	AllowSharing  bool
	AllowWaitlist bool
	Closed        bool
}

func (s *gormStore) CreateBooth(ctx context.Context, b *model.Booth) error {
	return s.createResource(ctx, b, "booths", "number", b.ExpoID, b.Number)
}

func (s *gormStore) CreateSession(ctx context.Context, sess *model.Session) error {
	return s.createResource(ctx, sess, "sessions", "code", sess.ExpoID, sess.Code)
}

func (s *gormStore) createResource(ctx context.Context, row any, table, numberColumn, expoID, number string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var expos int64
		if err := tx.Model(&model.Expo{}).Where("id = ?", expoID).Count(&expos).Error; err != nil {
			return err
		}
		if expos == 0 {
			return ErrNotFound
		}

		var dup int64
		if err := tx.Table(table).Where("expo_id = ? AND "+numberColumn+" = ?", expoID, number).Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return ErrDuplicate
		}
		return tx.Omit(clause.Associations).Create(row).Error
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicate):
		return err
	case isUniqueViolation(err):
		return ErrDuplicate
	}
	return fmt.Errorf("failed to create %s row %q: %w", table, number, err)
}

func (s *gormStore) GetBooth(ctx context.Context, id string) (*model.Booth, error) {
	var b model.Booth
	if err := s.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (s *gormStore) ListBooths(ctx context.Context, expoID string) ([]model.Booth, error) {
	var booths []model.Booth
	if err := s.db.WithContext(ctx).Where("expo_id = ?", expoID).Order("number").Find(&booths).Error; err != nil {
		return nil, fmt.Errorf("failed to list booths of expo %s: %w", expoID, err)
	}
	return booths, nil
}

func (s *gormStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	if err := s.db.WithContext(ctx).First(&sess, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

func (s *gormStore) ListSessions(ctx context.Context, expoID string) ([]model.Session, error) {
	var sessions []model.Session
	if err := s.db.WithContext(ctx).Where("expo_id = ?", expoID).Order("starts_at, code").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions of expo %s: %w", expoID, err)
	}
	return sessions, nil
}

// GetResource loads a booth or session together with its expo status.
func (s *gormStore) GetResource(ctx context.Context, kind event.ResourceKind, id string) (*Resource, error) {
	var r Resource
	switch kind {
	case event.ResourceBooth:
		b, err := s.GetBooth(ctx, id)
		if err != nil {
			return nil, err
		}
		r = Resource{
			Kind:          kind,
			ID:            b.ID,
			ExpoID:        b.ExpoID,
			Number:        b.Number,
			Capacity:      b.Capacity(),
			AllowSharing:  b.AllowSharing,
			AllowWaitlist: b.AllowWaitlist,
			Closed:        b.Closed,
		}
	case event.ResourceSession:
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		r = Resource{
			Kind:          kind,
			ID:            sess.ID,
			ExpoID:        sess.ExpoID,
			Number:        sess.Code,
			Capacity:      sess.Capacity(),
			AllowSharing:  true,
			AllowWaitlist: sess.AllowWaitlist,
			Closed:        sess.Closed,
		}
	default:
		return nil, fmt.Errorf("unknown resource kind %q", kind)
	}

	expo, err := s.GetExpo(ctx, r.ExpoID)
	if err != nil {
		return nil, fmt.Errorf("failed to load expo of %s %s: %w", kind, id, err)
	}
	r.ExpoStatus = expo.Status
	return &r, nil
}

// LoadState rebuilds the ledger state of a resource from its holdings.
func (s *gormStore) LoadState(ctx context.Context, kind event.ResourceKind, id string) (ledger.State, error) {
	r, err := s.GetResource(ctx, kind, id)
	if err != nil {
		return ledger.State{}, err
	}

	var rows []model.Holding
	if err := s.db.WithContext(ctx).
		Where("resource_id = ?", id).
		Order("waitlisted, position").
		Find(&rows).Error; err != nil {
		return ledger.State{}, fmt.Errorf("failed to load holdings of %s %s: %w", kind, id, err)
	}

	st := ledger.State{
		ResourceID:    r.ID,
		ParentEventID: r.ExpoID,
		Capacity:      r.Capacity,
		AllowSharing:  r.AllowSharing,
		AllowWaitlist: r.AllowWaitlist,
		Closed:        r.Closed,
		Holders:       []string{},
		Waitlist:      []string{},
	}
	for _, h := range rows {
		if h.Waitlisted {
			st.Waitlist = append(st.Waitlist, h.HolderID)
		} else {
			st.Holders = append(st.Holders, h.HolderID)
		}
	}
	return st, nil
}

// SaveState replaces the holdings of a resource and updates its status columns
// in one transaction.
func (s *gormStore) SaveState(ctx context.Context, kind event.ResourceKind, expoID string, st ledger.State) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	now := time.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []model.Holding
		if err := tx.Where("resource_id = ?", st.ResourceID).Find(&existing).Error; err != nil {
			return fmt.Errorf("failed to read holdings of %s: %w", st.ResourceID, err)
		}
		since := make(map[string]time.Time, len(existing))
		for _, h := range existing {
			since[h.HolderID] = h.CreatedAt
		}

		if err := tx.Where("resource_id = ?", st.ResourceID).Delete(&model.Holding{}).Error; err != nil {
			return fmt.Errorf("failed to clear holdings of %s: %w", st.ResourceID, err)
		}

		rows := make([]model.Holding, 0, len(st.Holders)+len(st.Waitlist))
		add := func(holder string, waitlisted bool, pos int) {
			created, ok := since[holder]
			if !ok {
				created = now
			}
			rows = append(rows, model.Holding{
				ResourceID: st.ResourceID,
				HolderID:   holder,
				Kind:       string(kind),
				ExpoID:     expoID,
				Waitlisted: waitlisted,
				Position:   pos,
				CreatedAt:  created,
			})
		}
		for i, h := range st.Holders {
			add(h, false, i)
		}
		for i, h := range st.Waitlist {
			add(h, true, i)
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("failed to write holdings of %s: %w", st.ResourceID, err)
			}
		}

		res := tx.Table(table).Where("id = ?", st.ResourceID).Updates(map[string]any{
			"status":     string(st.Status()),
			"closed":     st.Closed,
			"updated_at": now,
		})
		if res.Error != nil {
			return fmt.Errorf("failed to update %s %s: %w", kind, st.ResourceID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// HeldResources lists the resources of a kind in an expo that holderID holds
// or is waitlisted on.
func (s *gormStore) HeldResources(ctx context.Context, kind event.ResourceKind, expoID, holderID string) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&model.Holding{}).
		Where("expo_id = ? AND kind = ? AND holder_id = ?", expoID, string(kind), holderID).
		Order("resource_id").
		Pluck("resource_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list holdings of %s: %w", holderID, err)
	}
	return ids, nil
}

// DeleteResource removes a booth or session and any leftover holdings.
func (s *gormStore) DeleteResource(ctx context.Context, kind event.ResourceKind, id string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_id = ?", id).Delete(&model.Holding{}).Error; err != nil {
			return fmt.Errorf("failed to delete holdings of %s: %w", id, err)
		}
		res := tx.Exec("DELETE FROM "+table+" WHERE id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete %s %s: %w", kind, id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func tableFor(kind event.ResourceKind) (string, error) {
	switch kind {
	case event.ResourceBooth:
		return "booths", nil
	case event.ResourceSession:
		return "sessions", nil
	}
	return "", fmt.Errorf("unknown resource kind %q", kind)
}
