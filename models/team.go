package models

import "time"

// GlobalGroupingID is the sentinel grouping used when the installation maps
// every user to a single team.
const GlobalGroupingID uint = 0

// TeamAssociation maps a local grouping (or the global sentinel) to a remote
// team within one remote account. The unique index guarantees at most one
// association per grouping, and therefore at most one global one.
type TeamAssociation struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	AccountID  string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_team_association,priority:1" json:"account_id"`
	GroupingID uint      `gorm:"not null;uniqueIndex:ux_team_association,priority:2" json:"grouping_id"`
	TeamID     string    `gorm:"type:varchar(64);not null;index" json:"team_id"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// RemoteTeam mirrors the remote team catalog; refreshed by the team sync worker.
type RemoteTeam struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	AccountID string    `gorm:"type:varchar(64);not null;index" json:"account_id"`
	Name      string    `gorm:"not null" json:"name"`
	SyncedAt  time.Time `gorm:"not null" json:"synced_at"`
}
