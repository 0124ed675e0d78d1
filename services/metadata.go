package services

import (
	"context"
	"fmt"
	"log"

	"coinsync/config"
	"coinsync/models"
	"coinsync/utils"
)

// MetadataProxy caches slow-changing remote reads: leaderboard flags per team
// and purchase counts per user. Failures degrade to zero values.
type MetadataProxy struct {
	Config  *config.Config
	Teams   func() *TeamResolver
	Players *PlayerMapper
	Client  RewardsAPI
	Cache   utils.Cache
}

// LeaderboardFlags returns the flags of the user's team.
func (m *MetadataProxy) LeaderboardFlags(ctx context.Context, userID uint) LeaderboardFlags {
	if !m.usable() {
		return LeaderboardFlags{}
	}
	teamID, ok, err := m.Teams().ResolveTeam(ctx, userID)
	if err != nil || !ok {
		return LeaderboardFlags{}
	}

	key := "leaderboard:" + teamID
	if cached, ok := m.Cache.Get(key); ok {
		if flags, ok := cached.(LeaderboardFlags); ok {
			return flags
		}
	}
	flags, err := m.Client.GetLeaderboardFlags(ctx, teamID)
	if err != nil {
		log.Printf("[METADATA] leaderboard flags for team %s: %v", teamID, err)
		return LeaderboardFlags{}
	}
	m.Cache.Set(key, *flags, m.Config.MetadataTTL)
	return *flags
}

// PurchaseCount returns how many redemptions the user made. Unmapped users
// have none, so no player is created for them.
func (m *MetadataProxy) PurchaseCount(ctx context.Context, user *models.User) int {
	if !m.usable() {
		return 0
	}
	key := fmt.Sprintf("purchases:%d", user.ID)
	if cached, ok := m.Cache.Get(key); ok {
		if n, ok := cached.(int); ok {
			return n
		}
	}
	playerID, ok, err := m.Players.MappedPlayerID(ctx, user.ID)
	if err != nil || !ok {
		return 0
	}
	n, err := m.Client.GetPurchaseCount(WithLocale(ctx, ParseLocale(user.Lang)), playerID)
	if err != nil {
		log.Printf("[METADATA] purchase count for user %d: %v", user.ID, err)
		return 0
	}
	m.Cache.Set(key, n, m.Config.MetadataTTL)
	return n
}

// StoreLoginURL returns a store login link; never cached.
func (m *MetadataProxy) StoreLoginURL(ctx context.Context, user *models.User) (string, error) {
	if !m.Config.Enabled {
		return "", errDisabled
	}
	if m.Config.Paused {
		return "", errPaused
	}
	if m.Client == nil {
		return "", &ConfigurationError{Code: CodeFeatureDisabled, Message: ErrNotConfigured.Error()}
	}
	teamID, ok, err := m.Teams().ResolveTeam(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &ValidationError{Code: CodeNoTeam, Message: fmt.Sprintf("user %d has no team", user.ID)}
	}
	playerID, err := m.Players.GetPlayerID(ctx, user, teamID)
	if err != nil {
		return "", &IdentityReconciliationError{UserID: user.ID, Err: err}
	}
	return m.Client.GetStoreLoginURL(WithLocale(ctx, ParseLocale(user.Lang)), playerID)
}

// Invalidate drops the cached purchase count of a user.
func (m *MetadataProxy) Invalidate(userID uint) {
	m.Cache.Delete(fmt.Sprintf("purchases:%d", userID))
}

// Purge drops everything.
func (m *MetadataProxy) Purge() {
	m.Cache.Purge()
}

func (m *MetadataProxy) usable() bool {
	return m.Config.Enabled && !m.Config.Paused && m.Client != nil
}
