package store

import (
	"context"
	"fmt"

	"expo-booking-backend/internal/model"
)

func (s *gormStore) CreateExpo(ctx context.Context, e *model.Expo) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to create expo: %w", err)
	}
	return nil
}

func (s *gormStore) GetExpo(ctx context.Context, id string) (*model.Expo, error) {
	var e model.Expo
	if err := s.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (s *gormStore) UpdateExpoStatus(ctx context.Context, id string, status model.ExpoStatus) error {
	res := s.db.WithContext(ctx).Model(&model.Expo{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to update status of expo %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
