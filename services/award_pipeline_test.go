package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"coinsync/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type awardFixture struct {
	db     *gorm.DB
	remote *fakeRemote
	engine *Engine

	mu     sync.Mutex
	earned []CoinsEarned
}

func newAwardFixture(t *testing.T) *awardFixture {
	t.Helper()
	f := &awardFixture{db: newTestDB(t), remote: newFakeRemote(t)}
	f.engine = NewEngine(testConfig(), f.db, f.remote.client(), nil)
	f.engine.Bus.Subscribe(EventCoinsEarned, func(_ context.Context, ev Event) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.earned = append(f.earned, ev.Payload.(CoinsEarned))
	})
	return f
}

func (f *awardFixture) ledger(t *testing.T) []models.AwardLedgerEntry {
	t.Helper()
	var rows []models.AwardLedgerEntry
	require.NoError(t, f.db.Order("created_at ASC").Find(&rows).Error)
	return rows
}

func (f *awardFixture) events() []CoinsEarned {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CoinsEarned(nil), f.earned...)
}

func moduleAward(userID uint, coins int) AwardRequest {
	return AwardRequest{
		UserID:     userID,
		ContextID:  70,
		ActionName: "module_completed",
		ActionHash: HashAction(3, 7),
		Coins:      coins,
		Reason:     &Reason{Template: "reason_module_completed", Args: map[string]string{"module_id": "7"}},
	}
}

func TestGiveEndToEnd(t *testing.T) {
	f := newAwardFixture(t)
	u := activeUser(1)
	u.Lang = "fr"
	seedUser(t, f.db, u)
	seedGlobalTeam(t, f.db, "team-1")
	f.engine.Balances.Cache.Set(balanceKey(1), 99, time.Minute)

	ok, err := f.engine.Awards.Give(t.Context(), moduleAward(1, 15))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 1, f.remote.count("find"))
	assert.Equal(t, 1, f.remote.count("create"))
	assert.Equal(t, 1, f.remote.count("credit"))
	require.NotNil(t, f.remote.lastReason)
	assert.Equal(t, "reason_module_completed", f.remote.lastReason.Template)
	assert.Contains(t, f.remote.langs, "fr")

	rows := f.ledger(t)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Broadcasted())
	assert.Empty(t, rows[0].BroadcastError)
	assert.Equal(t, 15, rows[0].Coins)

	_, cached := f.engine.Balances.Cache.Get(balanceKey(1))
	assert.False(t, cached, "balance cache should be invalidated")

	assert.Equal(t, []CoinsEarned{{UserID: 1, ContextID: 70, Amount: 15}}, f.events())

	playerID, mapped, err := f.engine.Mapper.MappedPlayerID(t.Context(), 1)
	require.NoError(t, err)
	assert.True(t, mapped)
	assert.Equal(t, 15, f.remote.coins[playerID])
}

func TestGiveSameKeyTwiceCreditsOnce(t *testing.T) {
	f := newAwardFixture(t)
	seedUser(t, f.db, activeUser(1))
	seedGlobalTeam(t, f.db, "team-1")

	ok, err := f.engine.Awards.Give(t.Context(), moduleAward(1, 15))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.engine.Awards.Give(t.Context(), moduleAward(1, 15))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, f.remote.count("credit"))
	assert.Len(t, f.ledger(t), 1)
	assert.Len(t, f.events(), 1)
}

func TestGiveConcurrentDuplicatesCreditOnce(t *testing.T) {
	f := newAwardFixture(t)
	seedUser(t, f.db, activeUser(1))
	seedGlobalTeam(t, f.db, "team-1")

	var wg sync.WaitGroup
	results := make([]bool, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := f.engine.Awards.Give(context.Background(), moduleAward(1, 15))
			if err == nil {
				results[i] = ok
			}
		}(i)
	}
	wg.Wait()

	credited := 0
	for _, ok := range results {
		if ok {
			credited++
		}
	}
	assert.Equal(t, 1, credited)
	assert.Equal(t, 1, f.remote.count("credit"))
	assert.Len(t, f.ledger(t), 1)
}

func TestGiveRetriesOnceOnStalePlayer(t *testing.T) {
	f := newAwardFixture(t)
	seedUser(t, f.db, activeUser(1))
	seedGlobalTeam(t, f.db, "team-1")
	require.NoError(t, f.db.Create(&models.PlayerMapping{
		AccountID: testAccount, UserID: 1, PlayerID: "p-stale",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}).Error)
	f.remote.creditStatus = []int{http.StatusNotFound}

	ok, err := f.engine.Awards.Give(t.Context(), moduleAward(1, 15))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 2, f.remote.count("credit"))
	assert.Equal(t, 1, f.remote.count("create"))

	playerID, _, err := f.engine.Mapper.MappedPlayerID(t.Context(), 1)
	require.NoError(t, err)
	assert.NotEqual(t, "p-stale", playerID)

	rows := f.ledger(t)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Broadcasted())
}

func TestGiveStopsAfterSecond404(t *testing.T) {
	f := newAwardFixture(t)
	seedUser(t, f.db, activeUser(1))
	seedGlobalTeam(t, f.db, "team-1")
	f.remote.creditStatus = []int{http.StatusNotFound, http.StatusNotFound, http.StatusNotFound}

	ok, err := f.engine.Awards.Give(t.Context(), moduleAward(1, 15))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 2, f.remote.count("credit"))
	rows := f.ledger(t)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Broadcasted())
	assert.Equal(t, "remote_api:404:player_not_found", rows[0].BroadcastError)
	assert.Empty(t, f.events())
}

func TestGiveRecordsUnbroadcastWhenPlayerCannotBeResolved(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, activeUser(1))
	seedGlobalTeam(t, db, "team-1")

	remote := newFakeRemote(t)
	client := remote.client()
	remote.server.Close()
	engine := NewEngine(testConfig(), db, client, nil)

	ok, err := engine.Awards.Give(t.Context(), moduleAward(1, 15))
	require.NoError(t, err)
	assert.False(t, ok)

	var rows []models.AwardLedgerEntry
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "no_player:transport", rows[0].BroadcastError)

	recorded, err := engine.Awards.HasBeenRecordedPreviously(t.Context(), 1, 70, "module_completed", HashAction(3, 7))
	require.NoError(t, err)
	assert.True(t, recorded, "a failed attempt still counts as recorded")
}

func TestGivePreconditionsAreFatalAndUnrecorded(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *awardFixture)
		req    AwardRequest
		check  func(t *testing.T, err error)
	}{
		{
			name:   "disabled",
			mutate: func(f *awardFixture) { f.engine.Config.Enabled = false },
			req:    moduleAward(1, 15),
			check:  func(t *testing.T, err error) { assert.True(t, IsConfigurationError(err)) },
		},
		{
			name:   "paused",
			mutate: func(f *awardFixture) { f.engine.Config.Paused = true },
			req:    moduleAward(1, 15),
			check: func(t *testing.T, err error) {
				var ce *ConfigurationError
				require.True(t, errors.As(err, &ce))
				assert.Equal(t, CodeFeaturePaused, ce.Code)
			},
		},
		{
			name:  "zero coins",
			req:   moduleAward(1, 0),
			check: func(t *testing.T, err error) { assert.True(t, IsValidationError(err)) },
		},
		{
			name:  "negative coins",
			req:   moduleAward(1, -5),
			check: func(t *testing.T, err error) { assert.True(t, IsValidationError(err)) },
		},
		{
			name: "no team",
			mutate: func(f *awardFixture) {
				require.NoError(t, f.engine.TeamAdmin.RemoveGroupingTeam(context.Background(), models.GlobalGroupingID))
			},
			req: moduleAward(1, 15),
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.True(t, errors.As(err, &ve))
				assert.Equal(t, CodeNoTeam, ve.Code)
			},
		},
		{
			name:  "unknown user",
			req:   moduleAward(42, 15),
			check: func(t *testing.T, err error) { assert.True(t, IsValidationError(err)) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAwardFixture(t)
			seedUser(t, f.db, activeUser(1))
			seedGlobalTeam(t, f.db, "team-1")
			if tt.mutate != nil {
				tt.mutate(f)
			}

			ok, err := f.engine.Awards.Give(t.Context(), tt.req)
			require.Error(t, err)
			assert.False(t, ok)
			tt.check(t, err)

			assert.Empty(t, f.ledger(t))
			assert.Zero(t, f.remote.total())
		})
	}
}

func TestGiveStrictRecordsNothingOnFailure(t *testing.T) {
	f := newAwardFixture(t)
	seedUser(t, f.db, activeUser(1))
	seedGlobalTeam(t, f.db, "team-1")
	f.remote.creditStatus = []int{http.StatusInternalServerError}

	err := f.engine.Awards.GiveStrict(t.Context(), moduleAward(1, 15))
	require.Error(t, err)
	assert.True(t, IsRemoteError(err))
	assert.Empty(t, f.ledger(t))
	assert.Empty(t, f.events())

	// The caller may simply try again.
	require.NoError(t, f.engine.Awards.GiveStrict(t.Context(), moduleAward(1, 15)))
	assert.Len(t, f.ledger(t), 1)

	err = f.engine.Awards.GiveStrict(t.Context(), moduleAward(1, 15))
	assert.ErrorIs(t, err, ErrAlreadyRecorded)
}

func TestGiveKeepsGateRowWhenOutcomeWriteFails(t *testing.T) {
	f := newAwardFixture(t)
	seedUser(t, f.db, activeUser(1))
	seedGlobalTeam(t, f.db, "team-1")
	require.NoError(t, f.db.Callback().Update().Before("gorm:update").Register("test:fail_ledger_update", func(tx *gorm.DB) {
		if tx.Statement.Table == "award_ledger_entries" {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))

	ok, err := f.engine.Awards.Give(t.Context(), moduleAward(1, 15))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, f.remote.count("credit"))

	rows := f.ledger(t)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Broadcasted())

	_, mapped, err := f.engine.Mapper.MappedPlayerID(t.Context(), 1)
	require.NoError(t, err)
	assert.True(t, mapped)

	recorded, err := f.engine.Awards.HasBeenRecordedPreviously(t.Context(), 1, 70, "module_completed", HashAction(3, 7))
	require.NoError(t, err)
	assert.True(t, recorded)

	ok, err = f.engine.Awards.Give(t.Context(), moduleAward(1, 15))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, f.remote.count("credit"))
}

func TestFailedAwards(t *testing.T) {
	f := newAwardFixture(t)
	seedUser(t, f.db, activeUser(1))
	seedGlobalTeam(t, f.db, "team-1")
	f.remote.creditStatus = []int{http.StatusInternalServerError}

	ok, err := f.engine.Awards.Give(t.Context(), moduleAward(1, 15))
	require.NoError(t, err)
	require.False(t, ok)

	second := moduleAward(1, 5)
	second.ActionHash = HashAction(3, 8)
	ok, err = f.engine.Awards.Give(t.Context(), second)
	require.NoError(t, err)
	require.True(t, ok)

	failed, err := f.engine.Awards.FailedAwards(t.Context(), time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 15, failed[0].Coins)
}

func TestHashActionIsStable(t *testing.T) {
	assert.Equal(t, HashAction(3, 7), HashAction(3, 7))
	assert.NotEqual(t, HashAction(3, 7), HashAction(37))
	assert.Len(t, HashAction("x"), 64)
}
