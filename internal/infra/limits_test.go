package infra

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safehold/shieldd/internal/domain"
)

func newTestLimitStore(t *testing.T) *DailyLimitStore {
	t.Helper()
	return NewDailyLimitStore(filepath.Join(t.TempDir(), "daily_limits.json"), zap.NewNop())
}

var gameToken = domain.ContentToken{
	ID:          "tok-game",
	Kind:        domain.KindApplication,
	Payload:     []byte(`{"bundleId":"com.example.game"}`),
	DisplayName: "Game",
}

func TestLimits_NoCapNoExhaustion(t *testing.T) {
	store := newTestLimitStore(t)
	assert.Empty(t, store.ExhaustedTokens(time.Now()))
}

func TestLimits_ExhaustionAtCap(t *testing.T) {
	store := newTestLimitStore(t)
	now := time.Now()

	require.NoError(t, store.SetCap(gameToken, 60))

	require.NoError(t, store.RecordUsage(gameToken.ID, 30, now))
	assert.Empty(t, store.ExhaustedTokens(now), "below cap")

	require.NoError(t, store.RecordUsage(gameToken.ID, 30, now))
	exhausted := store.ExhaustedTokens(now)
	require.Len(t, exhausted, 1)
	assert.Equal(t, gameToken.ID, exhausted[0].ID)
	assert.Equal(t, gameToken.Payload, exhausted[0].Payload, "the full token survives for enforcement")
}

func TestLimits_DailyReset(t *testing.T) {
	store := newTestLimitStore(t)
	today := time.Date(2026, 8, 26, 20, 0, 0, 0, time.UTC)

	require.NoError(t, store.SetCap(gameToken, 30))
	require.NoError(t, store.RecordUsage(gameToken.ID, 45, today))
	require.Len(t, store.ExhaustedTokens(today), 1)

	tomorrow := today.Add(24 * time.Hour)
	assert.Empty(t, store.ExhaustedTokens(tomorrow), "usage clears when the date rolls")
	require.NoError(t, store.RecordUsage(gameToken.ID, 30, tomorrow))
	assert.Len(t, store.ExhaustedTokens(tomorrow), 1, "caps persist across days")
}

func TestLimits_RemoveCap(t *testing.T) {
	store := newTestLimitStore(t)
	now := time.Now()

	require.NoError(t, store.SetCap(gameToken, 10))
	require.NoError(t, store.RecordUsage(gameToken.ID, 20, now))
	require.Len(t, store.ExhaustedTokens(now), 1)

	require.NoError(t, store.SetCap(gameToken, 0))
	assert.Empty(t, store.ExhaustedTokens(now))
}
