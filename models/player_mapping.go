// models/player_mapping.go
package models

import (
	"time"
)

// PlayerMapping records which remote player a local user is, per remote account.
// Created lazily on first award or bulk push; rewritten when the remote player
// is recreated after a 404.
type PlayerMapping struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountID string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_player_mapping,priority:1;uniqueIndex:ux_player_lookup,priority:1" json:"account_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:ux_player_mapping,priority:2" json:"user_id"`
	PlayerID  string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_player_lookup,priority:2" json:"player_id"` // one user per player; reverse lookup for webhooks
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}
