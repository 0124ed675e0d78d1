package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"coinsync/config"
	"coinsync/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testAccount = "acc-1"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "coinsync.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		AccountID:            testAccount,
		Enabled:              true,
		ExcludeAdmins:        true,
		AllowedContextLevels: []int{config.ContextLevelCourse, config.ContextLevelModule},
		RemoteTimeout:        2 * time.Second,
		BalanceTTL:           time.Minute,
		MetadataTTL:          time.Minute,
		PushChunkSize:        100,
		PushRate:             1000,
	}
}

// activeUser is a confirmed, enabled account.
func activeUser(id uint) models.User {
	return models.User{ID: id, Confirmed: true, Lang: "en"}
}

func seedUser(t *testing.T, db *gorm.DB, u models.User) models.User {
	t.Helper()
	if u.Username == "" {
		u.Username = fmt.Sprintf("user%d", u.ID)
	}
	if u.Email == "" {
		u.Email = fmt.Sprintf("user%d@example.com", u.ID)
	}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func seedGlobalTeam(t *testing.T, db *gorm.DB, teamID string) {
	t.Helper()
	require.NoError(t, NewTeamAdmin(db, testAccount).SetGlobalTeam(t.Context(), teamID))
}

// fakeRemote is an in-memory rewards service that records every call.
type fakeRemote struct {
	mu      sync.Mutex
	server  *httptest.Server
	calls   map[string]int
	players map[string]Player
	coins   map[string]int
	nextID  int

	creditStatus []int // consumed by credit calls; empty means success
	failBalance  bool
	langs        []string
	lastReason   *Reason
	teams        []Team
	flags        LeaderboardFlags
	purchases    int
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	f := &fakeRemote{
		calls:   make(map[string]int),
		players: make(map[string]Player),
		coins:   make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /teams/{team}/players", f.createPlayer)
	mux.HandleFunc("GET /teams/{team}/players", f.findPlayer)
	mux.HandleFunc("GET /accounts/{acc}/teams", f.listTeams)
	mux.HandleFunc("GET /players/{id}/balance", f.getBalance)
	mux.HandleFunc("POST /players/{id}/balance", f.credit)
	mux.HandleFunc("GET /teams/{team}/leaderboard", f.leaderboard)
	mux.HandleFunc("GET /players/{id}/redemptions/count", f.purchaseCount)
	mux.HandleFunc("POST /players/{id}/login", f.login)

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			writeJSON(w, http.StatusUnauthorized, apiErrorBody{Code: "unauthorized"})
			return
		}
		f.mu.Lock()
		f.langs = append(f.langs, r.Header.Get("Accept-Language"))
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRemote) client() *RewardsClient {
	return NewRewardsClient(f.server.URL, "test-key", testAccount, 2*time.Second)
}

func (f *fakeRemote) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeRemote) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeRemote) addPlayer(teamID, email string) Player {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p := Player{ID: fmt.Sprintf("p-%d", f.nextID), TeamID: teamID, Email: email}
	f.players[p.ID] = p
	return p
}

func (f *fakeRemote) createPlayer(w http.ResponseWriter, r *http.Request) {
	var np NewPlayer
	_ = json.NewDecoder(r.Body).Decode(&np)
	f.mu.Lock()
	f.calls["create"]++
	f.mu.Unlock()
	p := f.addPlayer(r.PathValue("team"), np.Email)
	writeJSON(w, http.StatusCreated, p)
}

func (f *fakeRemote) findPlayer(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["find"]++
	out := []Player{}
	for _, p := range f.players {
		if p.TeamID == r.PathValue("team") && strings.EqualFold(p.Email, r.URL.Query().Get("email")) {
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *fakeRemote) listTeams(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["teams"]++
	writeJSON(w, http.StatusOK, f.teams)
}

func (f *fakeRemote) getBalance(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["balance"]++
	if f.failBalance {
		writeJSON(w, http.StatusInternalServerError, apiErrorBody{Code: "boom"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"coins": f.coins[r.PathValue("id")]})
}

func (f *fakeRemote) credit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Coins  int     `json:"coins"`
		Reason *Reason `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["credit"]++
	f.lastReason = body.Reason
	if len(f.creditStatus) > 0 {
		status := f.creditStatus[0]
		f.creditStatus = f.creditStatus[1:]
		if status >= 300 {
			writeJSON(w, status, apiErrorBody{Code: "player_not_found", Message: "no such player"})
			return
		}
	}
	f.coins[r.PathValue("id")] += body.Coins
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeRemote) leaderboard(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["leaderboard"]++
	writeJSON(w, http.StatusOK, f.flags)
}

func (f *fakeRemote) purchaseCount(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["purchases"]++
	writeJSON(w, http.StatusOK, map[string]int{"count": f.purchases})
}

func (f *fakeRemote) login(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["login"]++
	writeJSON(w, http.StatusOK, map[string]string{"url": "https://store.example.com/login/" + r.PathValue("id")})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
