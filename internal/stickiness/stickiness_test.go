package stickiness_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcrouter/control-plane/internal/stickiness"
)

func testClaims() stickiness.Claims {
	now := time.Now()
	return stickiness.Claims{
		RouteID:        "route-1",
		Alias:          "default",
		ModelID:        "anthropic/claude-sonnet",
		TurnsRemaining: 3,
		IssuedAt:       now,
		ExpiresAt:      now.Add(time.Hour),
		PolicyRev:      "pol-1",
	}
}

func TestIssueThenVerifyRoundTrips(t *testing.T) {
	m := stickiness.NewManager([]byte("test-secret"))
	claims := testClaims()

	token, err := m.Issue(claims)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := m.Verify(token, time.Now(), "pol-1")
	require.NoError(t, err)
	assert.Equal(t, claims.ModelID, got.ModelID)
	assert.Equal(t, claims.RouteID, got.RouteID)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	m := stickiness.NewManager([]byte("test-secret"))
	token, err := m.Issue(testClaims())
	require.NoError(t, err)

	tampered := token[:len(token)-2] + "AA"
	_, err = m.Verify(tampered, time.Now(), "pol-1")
	require.Error(t, err)
	verr, ok := err.(*stickiness.VerifyError)
	require.True(t, ok)
	assert.Equal(t, stickiness.ReasonBadSignature, verr.Reason)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := stickiness.NewManager([]byte("secret-a"))
	verifier := stickiness.NewManager([]byte("secret-b"))

	token, err := issuer.Issue(testClaims())
	require.NoError(t, err)

	_, err = verifier.Verify(token, time.Now(), "pol-1")
	require.Error(t, err)
	verr, ok := err.(*stickiness.VerifyError)
	require.True(t, ok)
	assert.Equal(t, stickiness.ReasonBadSignature, verr.Reason)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := stickiness.NewManager([]byte("test-secret"))
	claims := testClaims()
	claims.ExpiresAt = time.Now().Add(-time.Minute)

	token, err := m.Issue(claims)
	require.NoError(t, err)

	_, err = m.Verify(token, time.Now(), "pol-1")
	require.Error(t, err)
	verr, ok := err.(*stickiness.VerifyError)
	require.True(t, ok)
	assert.Equal(t, stickiness.ReasonExpired, verr.Reason)
}

func TestVerifyRejectsStalePolicyRevision(t *testing.T) {
	m := stickiness.NewManager([]byte("test-secret"))
	token, err := m.Issue(testClaims())
	require.NoError(t, err)

	_, err = m.Verify(token, time.Now(), "pol-2")
	require.Error(t, err)
	verr, ok := err.(*stickiness.VerifyError)
	require.True(t, ok)
	assert.Equal(t, stickiness.ReasonStalePolicy, verr.Reason)
}

func TestProgressTurnDecrementsAndReSigns(t *testing.T) {
	m := stickiness.NewManager([]byte("test-secret"))
	claims := testClaims()
	claims.TurnsRemaining = 1
	now := time.Now()

	token, err := m.ProgressTurn(claims, now, 900000, time.Time{})
	require.NoError(t, err)

	got, err := m.Verify(token, now, "pol-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TurnsRemaining)
}

func TestProgressTurnExtendsExpiresAt(t *testing.T) {
	m := stickiness.NewManager([]byte("test-secret"))
	claims := testClaims()
	claims.TurnsRemaining = 1
	claims.ExpiresAt = time.Now().Add(time.Minute)
	now := time.Now()

	token, err := m.ProgressTurn(claims, now, 900000, time.Time{})
	require.NoError(t, err)

	got, err := m.Verify(token, now, "pol-1")
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(900000*time.Millisecond), got.ExpiresAt, time.Second)
}

func TestProgressTurnCapsExpiresAtCacheValidUntil(t *testing.T) {
	m := stickiness.NewManager([]byte("test-secret"))
	claims := testClaims()
	claims.TurnsRemaining = 1
	now := time.Now()
	cap := now.Add(time.Minute)

	token, err := m.ProgressTurn(claims, now, 900000, cap)
	require.NoError(t, err)

	got, err := m.Verify(token, now, "pol-1")
	require.NoError(t, err)
	assert.WithinDuration(t, cap, got.ExpiresAt, time.Second)
}

func TestProgressTurnFailsWhenExhausted(t *testing.T) {
	m := stickiness.NewManager([]byte("test-secret"))
	claims := testClaims()
	claims.TurnsRemaining = 0

	_, err := m.ProgressTurn(claims, time.Now(), 900000, time.Time{})
	assert.Error(t, err)
}

func TestNewManagerGeneratesEphemeralSecretWhenEmpty(t *testing.T) {
	m := stickiness.NewManager(nil)
	token, err := m.Issue(testClaims())
	require.NoError(t, err)

	_, err = m.Verify(token, time.Now(), "pol-1")
	assert.NoError(t, err)
}
