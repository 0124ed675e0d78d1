package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"coinsync/config"
	"coinsync/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAlreadyRecorded is returned by strict awards whose idempotency key is
// already in the ledger.
var ErrAlreadyRecorded = errors.New("award already recorded")

// AwardRequest describes one award attempt. (UserID, ContextID, ActionName,
// ActionHash) is its idempotency key.
type AwardRequest struct {
	UserID     uint    `json:"user_id"`
	ContextID  uint    `json:"context_id"`
	ActionName string  `json:"action_name"`
	ActionHash string  `json:"action_hash"`
	Coins      int     `json:"coins"`
	Reason     *Reason `json:"reason,omitempty"`
}

// HashAction derives a stable action hash from its parts.
func HashAction(parts ...any) string {
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = fmt.Sprint(p)
	}
	sum := sha256.Sum256([]byte(strings.Join(strs, "|")))
	return hex.EncodeToString(sum[:])
}

// AwardPipeline is the write path: it credits coins remotely and records
// every attempt in the ledger.
type AwardPipeline struct {
	Config   *config.Config
	DB       *gorm.DB
	Client   RewardsAPI
	Balances *BalanceProxy
	Bus      *EventBus
	Now      func() time.Time
}

// Give awards coins. Remote failures are recorded in the ledger and reported
// as false; only precondition failures (disabled, paused, bad amount, no
// team) come back as errors, and nothing is recorded for them.
func (p *AwardPipeline) Give(ctx context.Context, req AwardRequest) (bool, error) {
	return p.give(ctx, req, false)
}

// GiveStrict awards coins and returns any failure. Failed attempts are not
// recorded, so the caller may try again.
func (p *AwardPipeline) GiveStrict(ctx context.Context, req AwardRequest) error {
	ok, err := p.give(ctx, req, true)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyRecorded
	}
	return nil
}

// HasBeenRecordedPreviously reports whether the key is already in the ledger,
// whether or not that attempt was broadcast.
func (p *AwardPipeline) HasBeenRecordedPreviously(ctx context.Context, userID, contextID uint, actionName, actionHash string) (bool, error) {
	var count int64
	err := p.DB.WithContext(ctx).Model(&models.AwardLedgerEntry{}).
		Where("user_id = ? AND context_id = ? AND action_name = ? AND action_hash = ?", userID, contextID, actionName, actionHash).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check award ledger: %w", err)
	}
	return count > 0, nil
}

// FailedAwards lists unbroadcast ledger rows created since the given time,
// oldest first.
func (p *AwardPipeline) FailedAwards(ctx context.Context, since time.Time, limit int) ([]models.AwardLedgerEntry, error) {
	var entries []models.AwardLedgerEntry
	q := p.DB.WithContext(ctx).
		Where("broadcasted_at = 0 AND created_at >= ?", since.Unix()).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list failed awards: %w", err)
	}
	return entries, nil
}

func (p *AwardPipeline) give(ctx context.Context, req AwardRequest, strict bool) (bool, error) {
	if err := p.checkPreconditions(req); err != nil {
		return false, err
	}

	var user models.User
	if err := p.DB.WithContext(ctx).First(&user, req.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, &ValidationError{Code: CodeUnknownUser, Message: fmt.Sprintf("user %d does not exist", req.UserID)}
		}
		return false, err
	}

	teamID, ok, err := NewTeamResolver(p.DB, p.Config.AccountID, p.Config.UseGroupings).ResolveTeam(ctx, user.ID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, &ValidationError{Code: CodeNoTeam, Message: fmt.Sprintf("user %d has no team", user.ID)}
	}

	entry := models.AwardLedgerEntry{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		ContextID:  req.ContextID,
		ActionName: req.ActionName,
		ActionHash: req.ActionHash,
		Coins:      req.Coins,
		CreatedAt:  p.now().Unix(),
	}
	// The unique key makes this insert the idempotency gate. It commits on its
	// own; remote calls run outside any transaction.
	res := p.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if res.Error != nil {
		log.Printf("[AWARD] could not record award %s/%s for user %d: %v", req.ActionName, req.ActionHash, req.UserID, res.Error)
		return false, fmt.Errorf("record award: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		log.Printf("[AWARD] %s/%s for user %d already recorded, skipping", req.ActionName, req.ActionHash, req.UserID)
		return false, nil
	}

	if attemptErr := p.attempt(ctx, &user, teamID, req, 0); attemptErr != nil {
		if strict {
			log.Printf("[AWARD] strict award of %d coins to user %d failed: %v", req.Coins, req.UserID, attemptErr)
			if err := p.DB.WithContext(context.WithoutCancel(ctx)).Delete(&models.AwardLedgerEntry{}, "id = ?", entry.ID).Error; err != nil {
				log.Printf("[AWARD] ❌ could not release ledger entry %s: %v", entry.ID, err)
			}
			return false, attemptErr
		}
		p.recordOutcome(ctx, &entry, "broadcast_error", Summarize(attemptErr))
		log.Printf("[AWARD] ⚠️ %d coins for user %d recorded unbroadcast: %v", req.Coins, req.UserID, attemptErr)
		return false, nil
	}
	p.recordOutcome(ctx, &entry, "broadcasted_at", p.now().Unix())

	p.Balances.Invalidate(req.UserID)
	p.Bus.Publish(ctx, NewEvent(EventCoinsEarned, CoinsEarned{
		UserID:    req.UserID,
		ContextID: req.ContextID,
		Amount:    req.Coins,
	}))
	log.Printf("[AWARD] ✅ %d coins credited to user %d (%s)", req.Coins, req.UserID, req.ActionName)
	return true, nil
}

// recordOutcome fills an outcome column of a gated ledger row. The remote
// outcome is final by now, so a failed write is logged and not returned.
func (p *AwardPipeline) recordOutcome(ctx context.Context, entry *models.AwardLedgerEntry, column string, value any) {
	err := p.DB.WithContext(context.WithoutCancel(ctx)).Model(entry).Update(column, value).Error
	if err != nil {
		log.Printf("[AWARD] ❌ could not set %s on ledger entry %s: %v", column, entry.ID, err)
	}
}

// attempt resolves the player and credits coins. A 404 on the credit means
// the stored mapping is stale: it is dropped and the whole attempt runs once
// more, team resolution included.
func (p *AwardPipeline) attempt(ctx context.Context, user *models.User, teamID string, req AwardRequest, n int) error {
	if n > 0 {
		var ok bool
		var err error
		teamID, ok, err = NewTeamResolver(p.DB, p.Config.AccountID, p.Config.UseGroupings).ResolveTeam(ctx, user.ID)
		if err != nil {
			return err
		}
		if !ok {
			return &ValidationError{Code: CodeNoTeam, Message: fmt.Sprintf("user %d has no team", user.ID)}
		}
	}

	players := NewPlayerMapper(p.DB, p.Client, p.Config.AccountID)
	playerID, err := players.GetPlayerID(ctx, user, teamID)
	if err != nil {
		return &IdentityReconciliationError{UserID: user.ID, Err: err}
	}

	err = p.Client.AddCoins(WithLocale(ctx, ParseLocale(user.Lang)), playerID, req.Coins, req.Reason)
	if err == nil {
		return nil
	}
	if IsRemoteNotFound(err) && n == 0 {
		log.Printf("[AWARD] player %s of user %d is gone remotely, remapping", playerID, user.ID)
		if rmErr := players.RemoveUserMapping(ctx, user.ID); rmErr != nil {
			return rmErr
		}
		return p.attempt(ctx, user, teamID, req, n+1)
	}
	return err
}

func (p *AwardPipeline) checkPreconditions(req AwardRequest) error {
	if !p.Config.Enabled {
		return errDisabled
	}
	if p.Config.Paused {
		return errPaused
	}
	if p.Client == nil {
		return &ConfigurationError{Code: CodeFeatureDisabled, Message: ErrNotConfigured.Error()}
	}
	if req.Coins <= 0 {
		return &ValidationError{Code: CodeInvalidCoins, Message: fmt.Sprintf("coins must be positive, got %d", req.Coins)}
	}
	if strings.TrimSpace(req.ActionName) == "" {
		return &ValidationError{Code: CodeInvalidCoins, Message: "action name is required"}
	}
	return nil
}

func (p *AwardPipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
