package model

import "time"

// Notification is a persisted notice shown to a user on next login.
type Notification struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	UserID       string    `gorm:"size:64;not null;index" json:"userId"`
	Type         string    `gorm:"size:32;not null" json:"type"`
	Title        string    `gorm:"size:256;not null" json:"title"`
	Body         string    `gorm:"size:1024" json:"body"`
	ResourceID   string    `gorm:"size:36" json:"resourceId"`
	ResourceKind string    `gorm:"size:16" json:"resourceKind"`
	ExpoID       string    `gorm:"size:36" json:"expoId"`
	EventID      string    `gorm:"size:36" json:"eventId"`
	Read         bool      `gorm:"column:is_read;not null" json:"read"`
	CreatedAt    time.Time `gorm:"not null;index" json:"createdAt"`
}
