package services

import (
	"context"
	"fmt"
	"log"

	"coinsync/config"
	"coinsync/models"
	"coinsync/utils"
)

// BalanceResult is a balance read. Degraded means Coins is a stand-in zero
// because the remote value could not be obtained.
type BalanceResult struct {
	Coins    int    `json:"coins"`
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
	Cached   bool   `json:"cached"`
}

func degraded(reason string) BalanceResult {
	return BalanceResult{Degraded: true, Reason: reason}
}

// BalanceProxy is a read-through cache over the remote balance. It never
// returns errors: anything that goes wrong degrades to zero coins.
type BalanceProxy struct {
	Config  *config.Config
	Teams   func() *TeamResolver
	Players *PlayerMapper
	Client  RewardsAPI
	Cache   utils.Cache
}

// GetBalance returns the user's coins, zero when unknown.
func (p *BalanceProxy) GetBalance(ctx context.Context, user *models.User) int {
	return p.Balance(ctx, user).Coins
}

// Balance returns the user's balance with its provenance.
func (p *BalanceProxy) Balance(ctx context.Context, user *models.User) BalanceResult {
	if !p.Config.Enabled {
		return degraded("disabled")
	}
	if p.Config.Paused {
		return degraded("paused")
	}

	key := balanceKey(user.ID)
	if cached, ok := p.Cache.Get(key); ok {
		if coins, ok := cached.(int); ok {
			return BalanceResult{Coins: coins, Cached: true}
		}
	}
	if p.Client == nil {
		return degraded("not_configured")
	}

	teamID, ok, err := p.Teams().ResolveTeam(ctx, user.ID)
	if err != nil {
		log.Printf("[BALANCE] team lookup failed for user %d: %v", user.ID, err)
		return degraded("team_lookup_failed")
	}
	if !ok {
		return degraded("no_team")
	}

	playerID, err := p.Players.GetPlayerID(ctx, user, teamID)
	if err != nil {
		log.Printf("[BALANCE] player lookup failed for user %d: %v", user.ID, err)
		return degraded("no_player")
	}

	coins, err := p.Client.GetBalance(WithLocale(ctx, ParseLocale(user.Lang)), playerID)
	if err != nil {
		log.Printf("[BALANCE] remote balance failed for user %d: %v", user.ID, err)
		return degraded(Summarize(err))
	}

	p.Cache.Set(key, coins, p.Config.BalanceTTL)
	return BalanceResult{Coins: coins}
}

// Invalidate drops the cached balance of one user.
func (p *BalanceProxy) Invalidate(userID uint) {
	p.Cache.Delete(balanceKey(userID))
}

// InvalidateAll drops every cached balance.
func (p *BalanceProxy) InvalidateAll() {
	p.Cache.Purge()
}

func balanceKey(userID uint) string {
	return fmt.Sprintf("balance:%d", userID)
}
