package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is a talk or workshop slot attendees register for.
type Session struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	ExpoID  string `gorm:"size:36;not null;uniqueIndex:idx_session_expo_code" json:"expoId"`
	Code    string `gorm:"size:32;not null;uniqueIndex:idx_session_expo_code" json:"code"`
	Title   string `gorm:"size:256;not null" json:"title"`
	Speaker string `gorm:"size:128" json:"speaker"`
	// MaxAttendees is nil for sessions without a seat limit.
	MaxAttendees  *int      `json:"maxAttendees"`
	AllowWaitlist bool      `gorm:"not null" json:"allowWaitlist"`
	Closed        bool      `gorm:"not null" json:"closed"`
	Status        string    `gorm:"size:16;not null" json:"status"`
	StartsAt      time.Time `json:"startsAt"`
	EndsAt        time.Time `json:"endsAt"`
	CreatedAt     time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"not null" json:"updatedAt"`

	// Associations
	Expo Expo `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Capacity returns the seat limit, 0 meaning unbounded.
func (s Session) Capacity() int {
	if s.MaxAttendees == nil {
		return 0
	}
	return *s.MaxAttendees
}

func (s *Session) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = "available"
	}
	return nil
}
