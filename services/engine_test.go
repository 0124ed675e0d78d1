package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"coinsync/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForgetUser(t *testing.T) {
	f := newAwardFixture(t)
	seedGlobalTeam(t, f.db, "team-1")
	user := seedUser(t, f.db, activeUser(1))

	ok, err := f.engine.Awards.Give(t.Context(), moduleAward(1, 10))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.engine.PushQueue.Enqueue(t.Context(), 1))
	f.engine.Balances.Balance(t.Context(), &user)

	require.NoError(t, f.engine.ForgetUser(t.Context(), 1))

	_, mapped, err := f.engine.Mapper.MappedPlayerID(t.Context(), 1)
	require.NoError(t, err)
	assert.False(t, mapped)
	assert.Zero(t, queueLen(t, f.engine.PushQueue))
	_, cached := f.engine.Balances.Cache.Get(balanceKey(1))
	assert.False(t, cached)

	assert.Len(t, f.ledger(t), 1, "the ledger is kept")
}

func TestPurgeCaches(t *testing.T) {
	f := newAwardFixture(t)
	f.engine.Balances.Cache.Set(balanceKey(1), 1, time.Minute)
	f.engine.Metadata.Cache.Set("purchases:1", 1, time.Minute)
	_, err := f.engine.Calculator.CoinsForCourse(t.Context(), 3)
	require.NoError(t, err)

	f.engine.PurgeCaches()

	_, ok := f.engine.Balances.Cache.Get(balanceKey(1))
	assert.False(t, ok)
	_, ok = f.engine.Metadata.Cache.Get("purchases:1")
	assert.False(t, ok)
	_, ok = f.engine.Calculator.Cache.Get(scopeKey(3))
	assert.False(t, ok)
}

func TestSearchUsers(t *testing.T) {
	f := newAwardFixture(t)
	u1 := activeUser(1)
	u1.Username = "ada"
	seedUser(t, f.db, u1)
	u2 := activeUser(2)
	u2.Username = "grace"
	seedUser(t, f.db, u2)
	gone := activeUser(3)
	gone.Username = "adam"
	gone.Deleted = true
	seedUser(t, f.db, gone)
	require.NoError(t, f.db.Create(&models.PlayerMapping{
		AccountID: testAccount, UserID: 1, PlayerID: "p-1",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}).Error)

	res, err := f.engine.SearchUsers(t.Context(), "ADA", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, UserSummary{ID: 1, Username: "ada", Email: "user1@example.com", PlayerID: "p-1"}, res[0])

	res, err = f.engine.SearchUsers(t.Context(), "", 10)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Empty(t, res[1].PlayerID)
}

func TestNotifications(t *testing.T) {
	f := newAwardFixture(t)
	seedUser(t, f.db, activeUser(1))
	for i := 0; i < 3; i++ {
		require.NoError(t, f.db.Create(&models.Notification{
			ID:     fmt.Sprintf("n-%d", i),
			UserID: 1,
			Kind:   models.NotificationAuctionWon,
		}).Error)
	}
	require.NoError(t, f.db.Create(&models.Notification{ID: "other", UserID: 2, Kind: models.NotificationAuctionWon}).Error)

	svc := f.engine.Notifications
	list, err := svc.List(t.Context(), 1, false, 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	n, err := svc.MarkRead(t.Context(), 1, []string{"n-0", "other"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	unread, err := svc.List(t.Context(), 1, true, 0)
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	n, err = svc.MarkRead(t.Context(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("boom"), "error"},
		{&RemoteTransportError{Op: "x", Err: errors.New("dial")}, "transport"},
		{&RemoteAPIError{Status: 500}, "remote_api:500"},
		{fmt.Errorf("wrapped: %w", &RemoteAPIError{Status: 404, Code: "player_not_found"}), "remote_api:404:player_not_found"},
		{&IdentityReconciliationError{UserID: 1, Err: errors.New("odd")}, "no_player"},
		{&IdentityReconciliationError{UserID: 1, Err: &RemoteAPIError{Status: 409}}, "no_player:remote_api:409"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Summarize(tt.err))
	}
	assert.Len(t, Summarize(&RemoteAPIError{Status: 400, Code: string(make([]byte, 400))}), 255)
}

func TestEventBusOrderAndUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	var got []string
	bus.Subscribe(EventCoinsEarned, func(context.Context, Event) { got = append(got, "first") })
	stop := bus.Subscribe(EventCoinsEarned, func(context.Context, Event) { got = append(got, "second") })
	bus.Subscribe(EventTrigger, func(context.Context, Event) { got = append(got, "trigger") })

	ev := NewEvent(EventCoinsEarned, CoinsEarned{UserID: 1, Amount: 2})
	assert.NotEmpty(t, ev.ID)
	bus.Publish(t.Context(), ev)
	assert.Equal(t, []string{"first", "second"}, got)

	stop()
	got = nil
	bus.Publish(t.Context(), ev)
	assert.Equal(t, []string{"first"}, got)
}
