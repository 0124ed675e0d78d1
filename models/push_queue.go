package models

import "time"

// PushQueueEntry is a user waiting to be mapped to a remote player.
// Duplicates are allowed; processing tolerates repeats.
type PushQueueEntry struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
