// services/rewards_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"coinsync/utils"
)

// RewardsAPI is the subset of the remote rewards service coinsync consumes.
type RewardsAPI interface {
	CreatePlayer(ctx context.Context, teamID string, p NewPlayer) (*Player, error)
	FindPlayerByEmail(ctx context.Context, teamID, email string) (*Player, error)
	ListTeams(ctx context.Context) ([]Team, error)
	GetBalance(ctx context.Context, playerID string) (int, error)
	AddCoins(ctx context.Context, playerID string, coins int, reason *Reason) error
	GetLeaderboardFlags(ctx context.Context, teamID string) (*LeaderboardFlags, error)
	GetPurchaseCount(ctx context.Context, playerID string) (int, error)
	GetStoreLoginURL(ctx context.Context, playerID string) (string, error)
}

// Player is a remote player.
type Player struct {
	ID        string `json:"id"`
	TeamID    string `json:"team_id,omitempty"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email"`
}

// NewPlayer is the body of a create-player call.
type NewPlayer struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email"`
}

// Team is a remote team.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LeaderboardFlags tells which leaderboards the remote team exposes.
type LeaderboardFlags struct {
	Enabled       bool `json:"enabled"`
	Anonymous     bool `json:"anonymous"`
	CohortEnabled bool `json:"cohort_enabled"`
}

// Reason is a localizable template name plus arguments. The remote service
// renders it; coinsync never sends pre-rendered strings.
type Reason struct {
	Template string            `json:"template"`
	Args     map[string]string `json:"args,omitempty"`
}

// RewardsClient talks to the rewards service over signed HTTPS.
type RewardsClient struct {
	BaseURL   string
	APIKey    string
	AccountID string
	Client    *http.Client
}

// NewRewardsClient builds a client bounded by timeout.
func NewRewardsClient(baseURL, apiKey, accountID string, timeout time.Duration) *RewardsClient {
	return &RewardsClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		APIKey:    apiKey,
		AccountID: accountID,
		Client:    utils.NewHTTPClient(timeout),
	}
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do performs one call. It returns noContent=true on 204, in which case out
// is left untouched.
func (c *RewardsClient) do(ctx context.Context, op, method, path string, query url.Values, body, out any) (bool, error) {
	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return false, &RemoteTransportError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return false, &RemoteTransportError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", LocaleFromContext(ctx).String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return false, &RemoteTransportError{Op: op, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNoContent {
		return true, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, &RemoteTransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &RemoteAPIError{Op: op, Status: resp.StatusCode}
		var eb apiErrorBody
		if json.Unmarshal(raw, &eb) == nil {
			apiErr.Code = eb.Code
			apiErr.Message = eb.Message
		}
		log.Printf("[REWARDS_API] %s %s returned %d (%s)", method, path, resp.StatusCode, apiErr.Code)
		return false, apiErr
	}

	if out == nil {
		if len(bytes.TrimSpace(raw)) > 0 && !json.Valid(raw) {
			return false, &RemoteTransportError{Op: op, Err: errors.New("decode response: body is not JSON")}
		}
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, &RemoteTransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return false, nil
}

// CreatePlayer creates a player in teamID.
func (c *RewardsClient) CreatePlayer(ctx context.Context, teamID string, p NewPlayer) (*Player, error) {
	var out Player
	noContent, err := c.do(ctx, "create player", http.MethodPost,
		"/teams/"+url.PathEscape(teamID)+"/players", nil, p, &out)
	if err != nil {
		return nil, err
	}
	if noContent || out.ID == "" {
		return nil, &RemoteTransportError{Op: "create player", Err: fmt.Errorf("response has no player id")}
	}
	return &out, nil
}

// FindPlayerByEmail returns the player with email in teamID, or nil.
func (c *RewardsClient) FindPlayerByEmail(ctx context.Context, teamID, email string) (*Player, error) {
	var out []Player
	q := url.Values{}
	q.Set("email", email)
	noContent, err := c.do(ctx, "find player", http.MethodGet,
		"/teams/"+url.PathEscape(teamID)+"/players", q, nil, &out)
	if err != nil {
		return nil, err
	}
	if noContent {
		return nil, nil
	}
	for i := range out {
		if strings.EqualFold(out[i].Email, email) {
			return &out[i], nil
		}
	}
	return nil, nil
}

// ListTeams lists the account's teams.
func (c *RewardsClient) ListTeams(ctx context.Context) ([]Team, error) {
	var out []Team
	if _, err := c.do(ctx, "list teams", http.MethodGet,
		"/accounts/"+url.PathEscape(c.AccountID)+"/teams", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBalance returns the player's coins.
func (c *RewardsClient) GetBalance(ctx context.Context, playerID string) (int, error) {
	var out struct {
		Coins int `json:"coins"`
	}
	if _, err := c.do(ctx, "get balance", http.MethodGet,
		"/players/"+url.PathEscape(playerID)+"/balance", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Coins, nil
}

// AddCoins credits coins to the player.
func (c *RewardsClient) AddCoins(ctx context.Context, playerID string, coins int, reason *Reason) error {
	body := struct {
		Coins  int     `json:"coins"`
		Reason *Reason `json:"reason,omitempty"`
	}{Coins: coins, Reason: reason}
	_, err := c.do(ctx, "add coins", http.MethodPost,
		"/players/"+url.PathEscape(playerID)+"/balance", nil, body, nil)
	return err
}

// GetLeaderboardFlags returns the leaderboard settings of teamID.
func (c *RewardsClient) GetLeaderboardFlags(ctx context.Context, teamID string) (*LeaderboardFlags, error) {
	var out LeaderboardFlags
	if _, err := c.do(ctx, "leaderboard flags", http.MethodGet,
		"/teams/"+url.PathEscape(teamID)+"/leaderboard", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPurchaseCount returns how many redemptions the player has made.
func (c *RewardsClient) GetPurchaseCount(ctx context.Context, playerID string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if _, err := c.do(ctx, "purchase count", http.MethodGet,
		"/players/"+url.PathEscape(playerID)+"/redemptions/count", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// GetStoreLoginURL returns a one-time store login URL for the player.
func (c *RewardsClient) GetStoreLoginURL(ctx context.Context, playerID string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if _, err := c.do(ctx, "store login", http.MethodPost,
		"/players/"+url.PathEscape(playerID)+"/login", nil, nil, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", &RemoteTransportError{Op: "store login", Err: fmt.Errorf("response has no url")}
	}
	return out.URL, nil
}
