package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"coinsync/config"
	"coinsync/models"

	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NewPushLimiter returns the token bucket shared by every push worker.
func NewPushLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		perSecond = 4
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// ChunkResult counts what one ProcessChunk call did.
type ChunkResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// PushQueue is the durable backlog of users waiting for a player mapping.
// Delivery is at least once; a user may be queued many times.
type PushQueue struct {
	Config  *config.Config
	DB      *gorm.DB
	Client  RewardsAPI
	Limiter *rate.Limiter
}

// NewPushQueue builds a queue with its own limiter. Every worker draining the
// queue shares that limiter.
func NewPushQueue(cfg *config.Config, db *gorm.DB, client RewardsAPI) *PushQueue {
	return &PushQueue{Config: cfg, DB: db, Client: client, Limiter: NewPushLimiter(cfg.PushRate)}
}

// Enqueue queues one user.
func (q *PushQueue) Enqueue(ctx context.Context, userID uint) error {
	entry := models.PushQueueEntry{UserID: userID, CreatedAt: time.Now().UTC()}
	if err := q.DB.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("enqueue user %d: %w", userID, err)
	}
	return nil
}

// EnqueueGroup queues every member of a grouping.
func (q *PushQueue) EnqueueGroup(ctx context.Context, groupingID uint) (int, error) {
	var ids []uint
	err := q.DB.WithContext(ctx).Model(&models.GroupingMember{}).
		Where("grouping_id = ?", groupingID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("list grouping %d members: %w", groupingID, err)
	}
	return q.enqueueMany(ctx, ids)
}

// EnqueueAll queues every active, non-system user.
func (q *PushQueue) EnqueueAll(ctx context.Context) (int, error) {
	var ids []uint
	err := q.DB.WithContext(ctx).Model(&models.User{}).
		Where("deleted = ? AND suspended = ? AND confirmed = ? AND is_system = ?", false, false, true, false).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	return q.enqueueMany(ctx, ids)
}

// Forget drops every queued entry of a user.
func (q *PushQueue) Forget(ctx context.Context, userID uint) error {
	return q.DB.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.PushQueueEntry{}).Error
}

// Len returns the number of queued entries.
func (q *PushQueue) Len(ctx context.Context) (int64, error) {
	var n int64
	err := q.DB.WithContext(ctx).Model(&models.PushQueueEntry{}).Count(&n).Error
	return n, err
}

func (q *PushQueue) enqueueMany(ctx context.Context, ids []uint) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	entries := make([]models.PushQueueEntry, len(ids))
	for i, id := range ids {
		entries[i] = models.PushQueueEntry{UserID: id, CreatedAt: now}
	}
	if err := q.DB.WithContext(ctx).CreateInBatches(entries, 500).Error; err != nil {
		return 0, fmt.Errorf("enqueue %d users: %w", len(ids), err)
	}
	return len(entries), nil
}

// ProcessChunk handles up to n queued users, lowest id first, and stops early
// when the queue is empty. Cancelling ctx stops it between items.
func (q *PushQueue) ProcessChunk(ctx context.Context, n int) (ChunkResult, error) {
	var res ChunkResult
	if !q.Config.Enabled || q.Config.Paused {
		return res, nil
	}
	if q.Client == nil || q.Limiter == nil {
		return res, ErrNotConfigured
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		done, err := q.processOne(ctx, &res)
		if err != nil {
			return res, err
		}
		if done {
			break
		}
	}
	if res.Processed+res.Skipped > 0 {
		log.Printf("[PUSH] chunk done: %d processed, %d skipped, %d failed", res.Processed, res.Skipped, res.Failed)
	}
	return res, nil
}

// processOne pops the lowest queued entry, handles it and dequeues it.
// done is true when the queue was empty.
func (q *PushQueue) processOne(ctx context.Context, res *ChunkResult) (done bool, err error) {
	err = q.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.PushQueueEntry
		sel := tx.Order("id ASC")
		if tx.Dialector.Name() == "postgres" {
			sel = sel.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := sel.First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				done = true
				return nil
			}
			return err
		}

		if err := q.push(ctx, tx, entry.UserID, res); err != nil {
			return err
		}
		return tx.Delete(&entry).Error
	})
	return done, err
}

// push maps one user. Only database failures are returned; mapping errors are
// logged and counted.
func (q *PushQueue) push(ctx context.Context, tx *gorm.DB, userID uint, res *ChunkResult) error {
	var user models.User
	err := tx.First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		res.Skipped++
		return nil
	}
	if err != nil {
		return err
	}
	if !user.Active() || user.IsSystem {
		res.Skipped++
		return nil
	}

	teamID, ok, err := NewTeamResolver(tx, q.Config.AccountID, q.Config.UseGroupings).ResolveTeam(ctx, user.ID)
	if err != nil {
		return err
	}
	if !ok {
		res.Skipped++
		return nil
	}

	if err := q.Limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := NewPlayerMapper(tx, q.Client, q.Config.AccountID).GetPlayerID(ctx, &user, teamID); err != nil {
		log.Printf("[PUSH] ⚠️ could not map user %d: %v", user.ID, err)
		res.Failed++
	}
	res.Processed++
	return nil
}
