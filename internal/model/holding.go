package model

import "time"

// Holding is one holder or waitlist entry of a booth or session.
// The composite key keeps a holder in at most one of the two lists.
type Holding struct {
	ResourceID string    `gorm:"primaryKey;size:36"`
	HolderID   string    `gorm:"primaryKey;size:64;index:idx_holding_expo_holder,priority:3"`
	Kind       string    `gorm:"size:16;not null;index:idx_holding_expo_holder,priority:2"`
	ExpoID     string    `gorm:"size:36;not null;index:idx_holding_expo_holder,priority:1"`
	Waitlisted bool      `gorm:"not null"`
	Position   int       `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}
