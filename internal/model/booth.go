package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Booth is an exhibitor slot on an expo floor.
type Booth struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	ExpoID        string    `gorm:"size:36;not null;uniqueIndex:idx_booth_expo_number" json:"expoId"`
	Number        string    `gorm:"size:32;not null;uniqueIndex:idx_booth_expo_number" json:"number"`
	Hall          string    `gorm:"size:16" json:"hall"`
	Seq           int       `json:"seq"`
	Size          string    `gorm:"size:32" json:"size"`
	PriceCents    int64     `json:"priceCents"`
	AllowSharing  bool      `gorm:"not null" json:"allowSharing"`
	MaxExhibitors int       `gorm:"not null;default:1" json:"maxExhibitors"`
	AllowWaitlist bool      `gorm:"not null" json:"allowWaitlist"`
	Closed        bool      `gorm:"not null" json:"closed"`
	Status        string    `gorm:"size:16;not null" json:"status"`
	CreatedAt     time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt     time.Time `gorm:"not null" json:"updatedAt"`

	// Associations
	Expo Expo `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Capacity is 1 for exclusive booths, MaxExhibitors when sharing is allowed.
func (b Booth) Capacity() int {
	if !b.AllowSharing || b.MaxExhibitors < 1 {
		return 1
	}
	return b.MaxExhibitors
}

func (b *Booth) BeforeCreate(*gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = "available"
	}
	return nil
}
