package models

// AwardLedgerEntry is the append-only record of every award attempt.
// (user_id, context_id, action_name, action_hash) is the idempotency key:
// a second row for the same key is rejected by the unique index.
type AwardLedgerEntry struct {
	ID             string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID         uint   `gorm:"not null;uniqueIndex:ux_award_ledger_key,priority:1" json:"user_id"`
	ContextID      uint   `gorm:"not null;uniqueIndex:ux_award_ledger_key,priority:2" json:"context_id"`
	ActionName     string `gorm:"type:varchar(100);not null;uniqueIndex:ux_award_ledger_key,priority:3" json:"action_name"`
	ActionHash     string `gorm:"type:varchar(64);not null;uniqueIndex:ux_award_ledger_key,priority:4" json:"action_hash"`
	Coins          int    `gorm:"not null" json:"coins"`
	CreatedAt      int64  `gorm:"not null;index" json:"created_at"`     // unix seconds
	BroadcastedAt  int64  `gorm:"not null;default:0" json:"broadcasted_at"` // 0 when the credit failed
	BroadcastError string `gorm:"type:varchar(255);not null;default:''" json:"broadcast_error,omitempty"`
}

// Broadcasted reports whether the remote credit succeeded.
func (e *AwardLedgerEntry) Broadcasted() bool {
	return e.BroadcastedAt != 0
}
