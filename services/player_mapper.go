package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"coinsync/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrMappingNotFound is returned by reverse lookups when no user owns a player id.
var ErrMappingNotFound = errors.New("player mapping not found")

// ErrPlayerClaimed is returned when the remote player found for a user is
// already mapped to another local user (two accounts sharing an email).
var ErrPlayerClaimed = errors.New("player already mapped to another user")

// PlayerMapper maps local users to remote players and persists the mapping.
// Remote errors are returned untouched; retry policy belongs to callers.
type PlayerMapper struct {
	DB        *gorm.DB
	Client    RewardsAPI
	AccountID string
}

func NewPlayerMapper(db *gorm.DB, client RewardsAPI, accountID string) *PlayerMapper {
	return &PlayerMapper{DB: db, Client: client, AccountID: accountID}
}

// GetPlayerID returns the user's player id in teamID, searching the remote
// team by email and creating the player when needed.
func (m *PlayerMapper) GetPlayerID(ctx context.Context, user *models.User, teamID string) (string, error) {
	if existing, err := m.lookup(ctx, user.ID); err != nil {
		return "", err
	} else if existing != nil {
		return existing.PlayerID, nil
	}

	if m.Client == nil {
		return "", ErrNotConfigured
	}

	ctx = WithLocale(ctx, ParseLocale(user.Lang))
	player, err := m.Client.FindPlayerByEmail(ctx, teamID, user.Email)
	if err != nil {
		return "", err
	}
	if player == nil {
		player, err = m.Client.CreatePlayer(ctx, teamID, NewPlayer{
			FirstName: user.FirstName,
			LastName:  user.LastName,
			Email:     user.Email,
		})
		if err != nil {
			return "", err
		}
		log.Printf("[PLAYER] created remote player %s for user %d in team %s", player.ID, user.ID, teamID)
	}

	if err := m.save(ctx, user.ID, player.ID); err != nil {
		return "", err
	}
	return player.ID, nil
}

// MappedPlayerID returns the stored player id without calling the remote
// service. ok is false when the user is not mapped.
func (m *PlayerMapper) MappedPlayerID(ctx context.Context, userID uint) (string, bool, error) {
	existing, err := m.lookup(ctx, userID)
	if err != nil || existing == nil {
		return "", false, err
	}
	return existing.PlayerID, true, nil
}

// LocalUserID is the reverse lookup used by webhooks.
func (m *PlayerMapper) LocalUserID(ctx context.Context, playerID string) (uint, error) {
	var mapping models.PlayerMapping
	err := m.DB.WithContext(ctx).
		Where("account_id = ? AND player_id = ?", m.AccountID, strings.TrimSpace(playerID)).
		First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrMappingNotFound
	}
	if err != nil {
		return 0, err
	}
	return mapping.UserID, nil
}

// RemoveUserMapping deletes the local mapping only; the remote player is left alone.
func (m *PlayerMapper) RemoveUserMapping(ctx context.Context, userID uint) error {
	err := m.DB.WithContext(ctx).
		Where("account_id = ? AND user_id = ?", m.AccountID, userID).
		Delete(&models.PlayerMapping{}).Error
	if err != nil {
		return fmt.Errorf("remove player mapping for user %d: %w", userID, err)
	}
	return nil
}

func (m *PlayerMapper) lookup(ctx context.Context, userID uint) (*models.PlayerMapping, error) {
	var mapping models.PlayerMapping
	err := m.DB.WithContext(ctx).
		Where("account_id = ? AND user_id = ?", m.AccountID, userID).
		First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load player mapping for user %d: %w", userID, err)
	}
	return &mapping, nil
}

func (m *PlayerMapper) save(ctx context.Context, userID uint, playerID string) error {
	var owner models.PlayerMapping
	err := m.DB.WithContext(ctx).
		Where("account_id = ? AND player_id = ? AND user_id <> ?", m.AccountID, playerID, userID).
		First(&owner).Error
	switch {
	case err == nil:
		log.Printf("[PLAYER] ⚠️ player %s is already mapped to user %d, not mapping user %d", playerID, owner.UserID, userID)
		return fmt.Errorf("map user %d to player %s: %w", userID, playerID, ErrPlayerClaimed)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("check player mapping owner: %w", err)
	}

	now := time.Now().UTC()
	mapping := models.PlayerMapping{
		AccountID: m.AccountID,
		UserID:    userID,
		PlayerID:  playerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"player_id", "updated_at"}),
	}).Create(&mapping).Error
	if err != nil {
		return fmt.Errorf("save player mapping for user %d: %w", userID, err)
	}
	return nil
}
