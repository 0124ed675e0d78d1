package models

import "time"

// User is the local snapshot of a host-platform account. The host owns its
// lifecycle; coinsync only reads it.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"index;not null" json:"username"`
	Email     string    `gorm:"index" json:"email,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Lang      string    `gorm:"type:varchar(30);default:'en'" json:"lang"`
	Deleted   bool      `gorm:"default:false" json:"deleted"`
	Suspended bool      `gorm:"default:false" json:"suspended"`
	Confirmed bool      `gorm:"not null" json:"confirmed"`
	IsAdmin   bool      `gorm:"default:false" json:"is_admin"`
	IsSystem  bool      `gorm:"default:false" json:"is_system"` // guest, cron and other synthetic accounts
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Active reports whether the account can be mapped to a remote player.
func (u *User) Active() bool {
	return !u.Deleted && !u.Suspended && u.Confirmed
}

// GroupingMember links a user to a host grouping (cohort).
// Exactly one row per (grouping_id, user_id).
type GroupingMember struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	GroupingID uint `gorm:"not null;uniqueIndex:ux_grouping_member,priority:1" json:"grouping_id"`
	UserID     uint `gorm:"not null;uniqueIndex:ux_grouping_member,priority:2;index" json:"user_id"`
}

// CourseModule tells the calculator which module type an activity is.
type CourseModule struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	CourseID   uint   `gorm:"not null;index" json:"course_id"`
	ModuleName string `gorm:"type:varchar(50);not null" json:"module_name"` // quiz, page, assign...
}
