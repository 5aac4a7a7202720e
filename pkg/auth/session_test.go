package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/types"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func testAuthConfig() types.AuthConfig {
	return types.AuthConfig{
		SessionSecret: "session-secret",
		SessionTTL:    time.Hour,
		Issuer:        "synopsis-test",
	}
}

func TestSessionRoundTrip(t *testing.T) {
	sessions := NewSessionManager(testAuthConfig(), common.NewFakeClock(testNow))

	token, err := sessions.Create("owner-1", "ada@example.com")
	require.NoError(t, err)

	claims, err := sessions.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", claims.Subject)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, "synopsis-test", claims.Issuer)
}

func TestSessionExpires(t *testing.T) {
	clock := common.NewFakeClock(testNow)
	sessions := NewSessionManager(testAuthConfig(), clock)

	token, err := sessions.Create("owner-1", "ada@example.com")
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = sessions.Validate(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestSessionRejectsOtherSecret(t *testing.T) {
	clock := common.NewFakeClock(testNow)
	token, err := NewSessionManager(testAuthConfig(), clock).Create("owner-1", "")
	require.NoError(t, err)

	cfg := testAuthConfig()
	cfg.SessionSecret = "another-secret"
	_, err = NewSessionManager(cfg, clock).Validate(token)
	assert.ErrorIs(t, err, jwt.ErrSignatureInvalid)
}

func TestSessionRejectsOtherIssuer(t *testing.T) {
	clock := common.NewFakeClock(testNow)
	token, err := NewSessionManager(testAuthConfig(), clock).Create("owner-1", "")
	require.NoError(t, err)

	cfg := testAuthConfig()
	cfg.Issuer = "elsewhere"
	_, err = NewSessionManager(cfg, clock).Validate(token)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
}

func TestSessionRequiresSubject(t *testing.T) {
	sessions := NewSessionManager(testAuthConfig(), common.NewFakeClock(testNow))

	token, err := sessions.Create("", "ada@example.com")
	require.NoError(t, err)

	_, err = sessions.Validate(token)
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestSessionGeneratedSecret(t *testing.T) {
	cfg := testAuthConfig()
	cfg.SessionSecret = ""
	sessions := NewSessionManager(cfg, common.NewFakeClock(testNow))

	token, err := sessions.Create("owner-1", "")
	require.NoError(t, err)

	_, err = sessions.Validate(token)
	assert.NoError(t, err)
}
