package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"coinsync/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TeamCandidate is one grouping/team pair a user could resolve to.
type TeamCandidate struct {
	GroupingID uint   `json:"grouping_id"`
	TeamID     string `json:"team_id"`
	TeamName   string `json:"team_name,omitempty"`
}

// TeamResolver maps local users to remote teams. Results are memoized for the
// resolver's lifetime, so build one per operation (see Engine.Teams).
type TeamResolver struct {
	DB           *gorm.DB
	AccountID    string
	UseGroupings bool

	mu   sync.Mutex
	memo map[uint]string
}

func NewTeamResolver(db *gorm.DB, accountID string, useGroupings bool) *TeamResolver {
	return &TeamResolver{
		DB:           db,
		AccountID:    accountID,
		UseGroupings: useGroupings,
		memo:         make(map[uint]string),
	}
}

// ResolveTeam returns the user's team. ok is false when the user has none.
// With groupings, the association of the lowest grouping id wins.
func (r *TeamResolver) ResolveTeam(ctx context.Context, userID uint) (teamID string, ok bool, err error) {
	r.mu.Lock()
	if cached, hit := r.memo[userID]; hit {
		r.mu.Unlock()
		return cached, cached != "", nil
	}
	r.mu.Unlock()

	if r.UseGroupings {
		var row TeamCandidate
		res := r.groupingQuery(ctx, userID).Limit(1).Scan(&row)
		if res.Error != nil {
			return "", false, fmt.Errorf("resolve team for user %d: %w", userID, res.Error)
		}
		if res.RowsAffected > 0 {
			teamID = row.TeamID
		}
	} else {
		assoc, err := r.globalAssociation(ctx)
		if err != nil {
			return "", false, fmt.Errorf("resolve global team: %w", err)
		}
		if assoc != nil {
			teamID = assoc.TeamID
		}
	}

	r.mu.Lock()
	r.memo[userID] = teamID
	r.mu.Unlock()
	return teamID, teamID != "", nil
}

// CandidatesForUser lists every grouping/team pair that applies to the user,
// in resolution order. Meant for diagnostics.
func (r *TeamResolver) CandidatesForUser(ctx context.Context, userID uint) ([]TeamCandidate, error) {
	var out []TeamCandidate
	if !r.UseGroupings {
		assoc, err := r.globalAssociation(ctx)
		if err != nil {
			return nil, err
		}
		if assoc == nil {
			return []TeamCandidate{}, nil
		}
		out = append(out, TeamCandidate{GroupingID: assoc.GroupingID, TeamID: assoc.TeamID})
	} else if err := r.groupingQuery(ctx, userID).Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("list team candidates for user %d: %w", userID, err)
	}

	for i := range out {
		var team models.RemoteTeam
		err := r.DB.WithContext(ctx).Where("id = ?", out[i].TeamID).First(&team).Error
		if err == nil {
			out[i].TeamName = team.Name
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return out, nil
}

// Forget drops the memoized team of a user.
func (r *TeamResolver) Forget(userID uint) {
	r.mu.Lock()
	delete(r.memo, userID)
	r.mu.Unlock()
}

func (r *TeamResolver) groupingQuery(ctx context.Context, userID uint) *gorm.DB {
	return r.DB.WithContext(ctx).
		Table("team_associations AS ta").
		Select("ta.grouping_id, ta.team_id").
		Joins("JOIN grouping_members AS gm ON gm.grouping_id = ta.grouping_id").
		Where("ta.account_id = ? AND gm.user_id = ? AND ta.grouping_id <> ?", r.AccountID, userID, models.GlobalGroupingID).
		Order("ta.grouping_id ASC")
}

func (r *TeamResolver) globalAssociation(ctx context.Context) (*models.TeamAssociation, error) {
	var assoc models.TeamAssociation
	err := r.DB.WithContext(ctx).
		Where("account_id = ? AND grouping_id = ?", r.AccountID, models.GlobalGroupingID).
		First(&assoc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &assoc, nil
}

// TeamAdmin edits team associations for the configured account.
type TeamAdmin struct {
	DB        *gorm.DB
	AccountID string
}

func NewTeamAdmin(db *gorm.DB, accountID string) *TeamAdmin {
	return &TeamAdmin{DB: db, AccountID: accountID}
}

// SetGlobalTeam maps every user to teamID.
func (a *TeamAdmin) SetGlobalTeam(ctx context.Context, teamID string) error {
	return a.SetGroupingTeam(ctx, models.GlobalGroupingID, teamID)
}

// SetGroupingTeam maps a grouping to teamID, replacing any previous team.
func (a *TeamAdmin) SetGroupingTeam(ctx context.Context, groupingID uint, teamID string) error {
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return &ValidationError{Code: CodeNoTeam, Message: "team id is required"}
	}
	assoc := models.TeamAssociation{AccountID: a.AccountID, GroupingID: groupingID, TeamID: teamID}
	return a.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "grouping_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"team_id", "updated_at"}),
	}).Create(&assoc).Error
}

// RemoveGroupingTeam deletes the association of a grouping.
func (a *TeamAdmin) RemoveGroupingTeam(ctx context.Context, groupingID uint) error {
	return a.DB.WithContext(ctx).
		Where("account_id = ? AND grouping_id = ?", a.AccountID, groupingID).
		Delete(&models.TeamAssociation{}).Error
}
