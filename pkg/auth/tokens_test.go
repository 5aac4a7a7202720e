package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/oauth2"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/crypto"
	"github.com/beam-cloud/synopsis/pkg/repository"
	"github.com/beam-cloud/synopsis/pkg/types"
)

type tokenFixture struct {
	store     *TokenStore
	repo      *repository.MailboxTokenMemoryRepository
	clock     *common.FakeClock
	server    *httptest.Server
	refreshes *atomic.Int32
}

func newTokenFixture(t *testing.T, status int) *tokenFixture {
	t.Helper()

	refreshes := atomic.NewInt32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes.Inc()
		assert.NoError(t, r.ParseForm())
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-" + r.Form.Get("grant_type"),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(server.Close)

	cipher, err := crypto.NewFieldCipher("0123456789abcdef0123456789abcdef", "tokens")
	require.NoError(t, err)

	cfg := types.AuthConfig{GoogleClientId: "client", GoogleClientSecret: "secret"}
	repo := repository.NewMailboxTokenMemoryRepository()
	clock := common.NewFakeClock(testNow)

	store := NewTokenStore(repo, cipher, cfg, clock, WithOAuthEndpoint(oauth2.Endpoint{
		AuthURL:  server.URL + "/auth",
		TokenURL: server.URL + "/token",
	}))

	return &tokenFixture{store: store, repo: repo, clock: clock, server: server, refreshes: refreshes}
}

func TestTokenStoreReturnsValidToken(t *testing.T) {
	f := newTokenFixture(t, http.StatusOK)
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "owner-1", &oauth2.Token{
		AccessToken:  "current",
		RefreshToken: "refresh",
		Expiry:       testNow.Add(time.Hour),
	}))

	token, err := f.store.AccessToken(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "current", token)
	assert.Equal(t, int32(0), f.refreshes.Load())
}

func TestTokenStoreEncryptsAtRest(t *testing.T) {
	f := newTokenFixture(t, http.StatusOK)
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "owner-1", &oauth2.Token{AccessToken: "plain-access-token"}))

	field, err := f.repo.GetToken(ctx, "owner-1")
	require.NoError(t, err)
	assert.NotContains(t, field.Ciphertext, "plain-access-token")
}

func TestTokenStoreRefreshesExpired(t *testing.T) {
	f := newTokenFixture(t, http.StatusOK)
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "owner-1", &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		Expiry:       testNow.Add(-time.Minute),
	}))

	token, err := f.store.AccessToken(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-refresh_token", token)
	assert.Equal(t, int32(1), f.refreshes.Load())

	// refreshed token is stored and the refresh token is kept
	field, err := f.repo.GetToken(ctx, "owner-1")
	require.NoError(t, err)
	var stored oauth2.Token
	require.NoError(t, f.store.cipher.DecryptJSON(mailboxTokenField, field, &stored))
	assert.Equal(t, "fresh-refresh_token", stored.AccessToken)
	assert.Equal(t, "refresh", stored.RefreshToken)
}

func TestTokenStoreRefreshRejected(t *testing.T) {
	f := newTokenFixture(t, http.StatusBadRequest)
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "owner-1", &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "revoked",
		Expiry:       testNow.Add(-time.Minute),
	}))

	_, err := f.store.AccessToken(ctx, "owner-1")
	assert.Equal(t, types.ErrorKindAuth, types.KindOf(err))
}

func TestTokenStoreExpiredWithoutRefreshToken(t *testing.T) {
	f := newTokenFixture(t, http.StatusOK)
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "owner-1", &oauth2.Token{
		AccessToken: "stale",
		Expiry:      testNow.Add(-time.Minute),
	}))

	_, err := f.store.AccessToken(ctx, "owner-1")
	assert.Equal(t, types.ErrorKindAuth, types.KindOf(err))
	assert.Equal(t, int32(0), f.refreshes.Load())
}

func TestTokenStoreNoMailbox(t *testing.T) {
	f := newTokenFixture(t, http.StatusOK)

	_, err := f.store.AccessToken(context.Background(), "nobody")
	assert.Equal(t, types.ErrorKindAuth, types.KindOf(err))
}

func TestTokenStoreConnect(t *testing.T) {
	f := newTokenFixture(t, http.StatusOK)
	ctx := context.Background()

	require.NoError(t, f.store.Connect(ctx, "owner-1", "auth-code"))

	token, err := f.store.AccessToken(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-authorization_code", token)

	require.NoError(t, f.store.Disconnect(ctx, "owner-1"))
	_, err = f.store.AccessToken(ctx, "owner-1")
	assert.Error(t, err)
}

func TestTokenStoreAuthorizeURL(t *testing.T) {
	f := newTokenFixture(t, http.StatusOK)

	url := f.store.AuthorizeURL("state-123")
	assert.Contains(t, url, f.server.URL+"/auth")
	assert.Contains(t, url, "state=state-123")
	assert.Contains(t, url, "access_type=offline")
	assert.Contains(t, url, "gmail.readonly")
}
