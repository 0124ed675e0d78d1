package services

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/text/language"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubServer(t *testing.T, h http.HandlerFunc) *RewardsClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewRewardsClient(srv.URL+"/", "test-key", testAccount, 0)
}

func TestClientSendsAuthAndLocale(t *testing.T) {
	var auth, lang, path string
	c := stubServer(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		lang = r.Header.Get("Accept-Language")
		path = r.URL.Path
		writeJSON(w, http.StatusOK, map[string]int{"coins": 12})
	})

	coins, err := c.GetBalance(WithLocale(t.Context(), language.German), "p/1")
	require.NoError(t, err)
	assert.Equal(t, 12, coins)
	assert.Equal(t, "Bearer test-key", auth)
	assert.Equal(t, "de", lang)
	assert.Equal(t, "/players/p/1/balance", path)
}

func TestClientAcceptsNoContent(t *testing.T) {
	c := stubServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	assert.NoError(t, c.AddCoins(t.Context(), "p-1", 5, nil))

	p, err := c.FindPlayerByEmail(t.Context(), "team-1", "a@example.com")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestClientErrors(t *testing.T) {
	t.Run("api error body", func(t *testing.T) {
		c := stubServer(t, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusConflict, apiErrorBody{Code: "duplicate", Message: "already there"})
		})
		_, err := c.CreatePlayer(t.Context(), "team-1", NewPlayer{Email: "a@example.com"})
		var ae *RemoteAPIError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, http.StatusConflict, ae.Status)
		assert.Equal(t, "duplicate", ae.Code)
		assert.Equal(t, "remote_api:409:duplicate", Summarize(err))
	})

	t.Run("not found", func(t *testing.T) {
		c := stubServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		err := c.AddCoins(t.Context(), "p-1", 5, nil)
		assert.True(t, IsRemoteNotFound(err))
		assert.Equal(t, "remote_api:404", Summarize(err))
	})

	t.Run("undecodable success", func(t *testing.T) {
		c := stubServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("<html>maintenance</html>"))
		})
		_, err := c.GetPurchaseCount(t.Context(), "p-1")
		var te *RemoteTransportError
		require.True(t, errors.As(err, &te))
		assert.Contains(t, err.Error(), "decode response")
	})

	t.Run("non-json credit body", func(t *testing.T) {
		c := stubServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("<html>captive portal</html>"))
		})
		err := c.AddCoins(t.Context(), "p-1", 5, nil)
		var te *RemoteTransportError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, "transport", Summarize(err))
	})

	t.Run("empty credit body", func(t *testing.T) {
		c := stubServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		assert.NoError(t, c.AddCoins(t.Context(), "p-1", 5, nil))
	})

	t.Run("missing login url", func(t *testing.T) {
		c := stubServer(t, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{})
		})
		_, err := c.GetStoreLoginURL(t.Context(), "p-1")
		assert.Equal(t, "transport", Summarize(err))
	})
}

func TestFindPlayerMatchesEmailCaseInsensitively(t *testing.T) {
	c := stubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Ada@Example.com", r.URL.Query().Get("email"))
		writeJSON(w, http.StatusOK, []Player{
			{ID: "p-0", Email: "other@example.com"},
			{ID: "p-1", Email: "ada@example.com"},
		})
	})
	p, err := c.FindPlayerByEmail(t.Context(), "team-1", "Ada@Example.com")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "p-1", p.ID)
}
