package models

// Setting is a small name/value store for operator diagnostics.
type Setting struct {
	Name  string `gorm:"primaryKey;type:varchar(100)" json:"name"`
	Value string `gorm:"type:text" json:"value"`
}

// SettingLastWebhookHit holds the unix time of the last authenticated webhook.
const SettingLastWebhookHit = "last_webhook_hit"

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&GroupingMember{},
		&CourseModule{},
		&TeamAssociation{},
		&RemoteTeam{},
		&PlayerMapping{},
		&CompletionRule{},
		&AwardLedgerEntry{},
		&PushQueueEntry{},
		&Notification{},
		&Setting{},
	}
}
