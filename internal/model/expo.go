package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExpoStatus is the lifecycle status of an expo.
type ExpoStatus string

const (
	ExpoDraft     ExpoStatus = "draft"
	ExpoPublished ExpoStatus = "published"
	ExpoOngoing   ExpoStatus = "ongoing"
	ExpoCompleted ExpoStatus = "completed"
	ExpoCancelled ExpoStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s ExpoStatus) Valid() bool {
	switch s {
	case ExpoDraft, ExpoPublished, ExpoOngoing, ExpoCompleted, ExpoCancelled:
		return true
	}
	return false
}

// Bookable reports whether booths and sessions of an expo in this status accept bookings.
func (s ExpoStatus) Bookable() bool {
	return s == ExpoPublished || s == ExpoOngoing
}

// Expo is the parent event that owns booths and sessions.
type Expo struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Name        string     `gorm:"size:256;not null" json:"name"`
	OrganizerID string     `gorm:"size:64;not null;index" json:"organizerId"`
	Status      ExpoStatus `gorm:"size:16;not null" json:"status"`
	StartsAt    time.Time  `json:"startsAt"`
	EndsAt      time.Time  `json:"endsAt"`
	CreatedAt   time.Time  `gorm:"not null" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updatedAt"`
}

// BeforeCreate assigns an id and the draft status when missing.
func (e *Expo) BeforeCreate(*gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = ExpoDraft
	}
	return nil
}
