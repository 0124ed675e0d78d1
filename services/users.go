// services/users.go
package services

import (
	"context"
	"fmt"
	"strings"
)

// UserSummary is a user row with its mapping state, for operators.
type UserSummary struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	PlayerID string `json:"player_id,omitempty"` // empty until the user is mapped
}

// SearchUsers finds users by username or email and shows whether each one
// has a remote player yet.
func (e *Engine) SearchUsers(ctx context.Context, query string, limit int) ([]UserSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	db := e.DB.WithContext(ctx).
		Table("users AS u").
		Select("u.id, u.username, u.email, COALESCE(pm.player_id, '') AS player_id").
		Joins("LEFT JOIN player_mappings AS pm ON pm.user_id = u.id AND pm.account_id = ?", e.Config.AccountID).
		Where("u.deleted = ?", false).
		Order("u.id ASC").
		Limit(limit)

	if query != "" {
		searchTerm := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
		db = db.Where("LOWER(u.username) LIKE ? OR LOWER(u.email) LIKE ?", searchTerm, searchTerm)
	}

	res := []UserSummary{}
	if err := db.Scan(&res).Error; err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return res, nil
}
