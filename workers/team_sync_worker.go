package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"coinsync/models"
	"coinsync/services"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TeamCatalogSync mirrors the account's remote teams into remote_teams so
// operators see names next to team ids.
type TeamCatalogSync struct {
	DB        *gorm.DB
	Client    services.RewardsAPI
	AccountID string
}

func NewTeamCatalogSync(db *gorm.DB, client services.RewardsAPI, accountID string) *TeamCatalogSync {
	return &TeamCatalogSync{DB: db, Client: client, AccountID: accountID}
}

// SyncOnce fetches the team list and upserts it. It returns how many teams
// were stored.
func (s *TeamCatalogSync) SyncOnce(ctx context.Context) (int, error) {
	if s.Client == nil {
		return 0, services.ErrNotConfigured
	}
	teams, err := s.Client.ListTeams(ctx)
	if err != nil {
		return 0, fmt.Errorf("list teams: %w", err)
	}
	if len(teams) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([]models.RemoteTeam, len(teams))
	for i, t := range teams {
		rows[i] = models.RemoteTeam{ID: t.ID, AccountID: s.AccountID, Name: t.Name, SyncedAt: now}
	}
	if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"account_id", "name", "synced_at"}),
	}).Create(&rows).Error; err != nil {
		return 0, fmt.Errorf("upsert %d team(s): %w", len(rows), err)
	}
	return len(rows), nil
}

// PollTeams runs SyncOnce every interval until ctx is done.
func PollTeams(ctx context.Context, sync *TeamCatalogSync, interval time.Duration) {
	log.Println("Starting team catalog polling...")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Team catalog polling stopped.")
			return
		case <-ticker.C:
			n, err := sync.SyncOnce(ctx)
			if err != nil {
				log.Printf("[TEAMSYNC] ❌ %v", err)
				continue
			}
			log.Printf("[TEAMSYNC] ✅ %d team(s) synced", n)
		}
	}
}
