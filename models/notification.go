package models

import "time"

// NotificationKind names a local notification raised by a webhook.
type NotificationKind string

const (
	NotificationRedemptionAccepted  NotificationKind = "redemption_accepted"
	NotificationRedemptionCompleted NotificationKind = "redemption_completed"
	NotificationAuctionWon          NotificationKind = "auction_won"
)

// Notification is handed to the host's messaging layer.
type Notification struct {
	ID          string           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID      uint             `gorm:"not null;index" json:"user_id"`
	Kind        NotificationKind `gorm:"type:varchar(50);not null" json:"kind"`
	Subject     string           `json:"subject"`
	PayloadJSON string           `gorm:"type:text" json:"payload_json"`
	Read        bool             `gorm:"column:is_read;default:false;index" json:"read"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
}
