package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/beam-cloud/synopsis/pkg/repository"
	"github.com/beam-cloud/synopsis/pkg/types"
)

func localConfig() types.AppConfig {
	return types.AppConfig{
		Mode: types.ModeLocal,
		Database: types.DatabaseConfig{
			Backend:     types.StoreBackendMemory,
			ExistsCache: 100,
		},
		Gateway: types.GatewayConfig{
			HTTP:            types.HTTPConfig{Host: "127.0.0.1", Port: 0},
			ShutdownTimeout: 5 * time.Second,
		},
		Scheduler:  types.SchedulerConfig{Concurrency: 3, InlineThreshold: 4},
		Queue:      types.QueueConfig{Capacity: 100},
		Encryption: types.EncryptionConfig{Secret: "0123456789abcdef0123456789abcdef", Salt: "test"},
		Auth:       types.AuthConfig{SessionSecret: "session-secret", SessionTTL: time.Hour, Issuer: "synopsis"},
	}
}

func serve(g *Gateway, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.echo.ServeHTTP(rec, req)
	return rec
}

func TestLocalGatewayRoutes(t *testing.T) {
	g, err := New(localConfig())
	require.NoError(t, err)
	t.Cleanup(g.Shutdown)
	require.NoError(t, g.initHTTP())

	_, cached := g.Store.(*repository.CachedSynopsisRepository)
	assert.True(t, cached)

	rec := serve(g, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(g, httptest.NewRequest(http.MethodGet, "/api/v1/queue/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	session, err := g.Sessions().Create("owner-1", "ada@example.com")
	require.NoError(t, err)
	require.NoError(t, g.Tokens().Save(context.Background(), "owner-1", &oauth2.Token{AccessToken: "mailbox-token"}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue/stats", nil)
	req.Header.Set("Authorization", "Bearer "+session)
	rec = serve(g, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"capacity":100`)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/synopses/unknown", nil)
	req.Header.Set("Authorization", "Bearer "+session)
	rec = serve(g, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.False(t, g.Tokens().IsConfigured())
}

func TestLocalGatewayGeneratesSecret(t *testing.T) {
	cfg := localConfig()
	cfg.Encryption.Secret = ""

	g, err := New(cfg)
	require.NoError(t, err)
	g.Shutdown()
}

func TestSQLiteBackend(t *testing.T) {
	cfg := localConfig()
	cfg.Database.Backend = types.StoreBackendSQLite
	cfg.Database.ExistsCache = 0
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "synopsis.db")

	g, err := New(cfg)
	require.NoError(t, err)
	defer g.Shutdown()

	_, ok := g.Store.(*repository.SynopsisSQLiteRepository)
	assert.True(t, ok)
}

func TestUnknownBackend(t *testing.T) {
	cfg := localConfig()
	cfg.Database.Backend = "cassandra"

	_, err := New(cfg)
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestRedisBackendNeedsRemoteMode(t *testing.T) {
	cfg := localConfig()
	cfg.Database.Backend = types.StoreBackendRedis

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestRemoteGateway(t *testing.T) {
	s := miniredis.RunT(t)

	cfg := localConfig()
	cfg.Mode = types.ModeRemote
	cfg.Database.Backend = types.StoreBackendRedis
	cfg.Database.QueueJournal = true
	cfg.Database.Redis = types.RedisConfig{Mode: types.RedisModeSingle, Addrs: []string{s.Addr()}}

	g, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(g.Shutdown)
	require.NoError(t, g.initHTTP())

	_, ok := g.TokenRepo.(*repository.MailboxTokenRedisRepository)
	assert.True(t, ok)

	rec := serve(g, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	s.Close()
	rec = serve(g, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRemoteGatewayRequiresSecret(t *testing.T) {
	s := miniredis.RunT(t)

	cfg := localConfig()
	cfg.Mode = types.ModeRemote
	cfg.Encryption.Secret = ""
	cfg.Database.Redis = types.RedisConfig{Mode: types.RedisModeSingle, Addrs: []string{s.Addr()}}

	_, err := New(cfg)
	assert.ErrorContains(t, err, "encryption.secret")
}
