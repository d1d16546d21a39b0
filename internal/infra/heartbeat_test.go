package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeartbeatStore(t *testing.T) *SharedHeartbeatStore {
	t.Helper()
	dir := t.TempDir()
	prefs := NewPrefStore(filepath.Join(dir, "prefs.json"))
	return NewSharedHeartbeatStore(prefs, filepath.Join(dir, "foreground.marker"))
}

func TestHeartbeat_BeatAndRead(t *testing.T) {
	store := newTestHeartbeatStore(t)

	require.NoError(t, store.Beat())

	record, err := store.Read()
	require.NoError(t, err)
	assert.False(t, record.Timestamp.IsZero())
	assert.WithinDuration(t, time.Now(), record.Timestamp, 5*time.Second)
}

func TestHeartbeat_NeverRecorded(t *testing.T) {
	store := newTestHeartbeatStore(t)

	record, err := store.Read()
	require.NoError(t, err)
	assert.True(t, record.Timestamp.IsZero())

	_, neverSeen := record.Age(time.Now())
	assert.True(t, neverSeen, "missing heartbeat reads as infinite age")
}

func TestHeartbeat_PresenceMarkerLifecycle(t *testing.T) {
	store := newTestHeartbeatStore(t)

	record, err := store.Read()
	require.NoError(t, err)
	assert.False(t, record.PresenceMarkerExists)

	require.NoError(t, store.EnterForeground())
	record, err = store.Read()
	require.NoError(t, err)
	assert.True(t, record.PresenceMarkerExists)

	require.NoError(t, store.EnterBackground())
	record, err = store.Read()
	require.NoError(t, err)
	assert.False(t, record.PresenceMarkerExists)

	// The orderly transition is idempotent.
	require.NoError(t, store.EnterBackground())
}

func TestHeartbeat_MarkerIsZeroByte(t *testing.T) {
	dir := t.TempDir()
	prefs := NewPrefStore(filepath.Join(dir, "prefs.json"))
	markerPath := filepath.Join(dir, "foreground.marker")
	store := NewSharedHeartbeatStore(prefs, markerPath)

	require.NoError(t, store.EnterForeground())
	info, err := os.Stat(markerPath)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestHeartbeat_RecordPID(t *testing.T) {
	store := newTestHeartbeatStore(t)

	assert.Zero(t, store.PID())
	require.NoError(t, store.RecordPID(4242))
	assert.Equal(t, 4242, store.PID())
}

func TestFlagStore_SafetyNet(t *testing.T) {
	dir := t.TempDir()
	prefs := NewPrefStore(filepath.Join(dir, "prefs.json"))
	flags := NewPrefFlagStore(prefs)

	assert.False(t, flags.SafetyNetActive(), "absent flag reads inactive")

	require.NoError(t, flags.SetSafetyNetActive(true))
	assert.True(t, flags.SafetyNetActive())

	require.NoError(t, flags.SetSafetyNetActive(false))
	assert.False(t, flags.SafetyNetActive())
}

func TestFlagStore_RequestedWakeInterval(t *testing.T) {
	dir := t.TempDir()
	prefs := NewPrefStore(filepath.Join(dir, "prefs.json"))
	flags := NewPrefFlagStore(prefs)

	assert.Zero(t, flags.RequestedWakeInterval())

	require.NoError(t, flags.SetRequestedWakeInterval(90*time.Second))
	assert.Equal(t, 90*time.Second, flags.RequestedWakeInterval())
}

func TestPrefStore_CorruptDocumentTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0600))

	prefs := NewPrefStore(path)
	var out int
	assert.False(t, prefs.GetRaw("anything", &out))

	// Writes start fresh rather than failing forever.
	require.NoError(t, prefs.SetRaw("k", 1))
	assert.True(t, prefs.GetRaw("k", &out))
	assert.Equal(t, 1, out)
}
