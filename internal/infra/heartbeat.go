package infra

import (
	"os"
	"time"

	"github.com/safehold/shieldd/internal/domain"
)

// SharedHeartbeatStore implements domain.HeartbeatStore on the shared
// preference store plus a zero-byte presence marker file. The marker is
// created on foreground entry and deleted on orderly backgrounding; a
// marker that outlives its expected deletion signals a foreground
// force-quit.
type SharedHeartbeatStore struct {
	prefs      *PrefStore
	markerPath string
}

// NewSharedHeartbeatStore creates a heartbeat store over the preference
// store with the presence marker at markerPath.
func NewSharedHeartbeatStore(prefs *PrefStore, markerPath string) *SharedHeartbeatStore {
	return &SharedHeartbeatStore{prefs: prefs, markerPath: markerPath}
}

// Beat writes the liveness pulse timestamp.
func (h *SharedHeartbeatStore) Beat() error {
	return h.prefs.SetTime(prefKeyHeartbeat, time.Now())
}

// Read returns the heartbeat record. A zero Timestamp means no pulse was
// ever recorded. An error is only returned when the marker path itself
// cannot be stat'ed for reasons other than absence.
func (h *SharedHeartbeatStore) Read() (domain.HeartbeatRecord, error) {
	record := domain.HeartbeatRecord{}
	if ts, ok := h.prefs.GetTime(prefKeyHeartbeat); ok {
		record.Timestamp = ts
	}

	_, err := os.Stat(h.markerPath)
	switch {
	case err == nil:
		record.PresenceMarkerExists = true
	case os.IsNotExist(err):
		record.PresenceMarkerExists = false
	default:
		return record, err
	}
	return record, nil
}

// EnterForeground creates the presence marker.
func (h *SharedHeartbeatStore) EnterForeground() error {
	f, err := os.OpenFile(h.markerPath, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	return f.Close()
}

// EnterBackground removes the presence marker. Absence is not an error;
// the orderly transition must be idempotent.
func (h *SharedHeartbeatStore) EnterBackground() error {
	err := os.Remove(h.markerPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RecordPID stores the primary process PID alongside the heartbeat. The
// monitor logs a PID liveness cross-check for diagnostics; the heartbeat
// age remains the authoritative signal.
func (h *SharedHeartbeatStore) RecordPID(pid int) error {
	return h.prefs.SetRaw(prefKeyPID, pid)
}

// PID returns the recorded primary PID, or 0 if never recorded.
func (h *SharedHeartbeatStore) PID() int {
	var pid int
	if !h.prefs.GetRaw(prefKeyPID, &pid) {
		return 0
	}
	return pid
}

var _ domain.HeartbeatStore = (*SharedHeartbeatStore)(nil)

// PrefFlagStore implements domain.FlagStore on the preference store.
// Only the background monitor writes the safety-net flag; the UI extension
// and the status command read it.
type PrefFlagStore struct {
	prefs *PrefStore
}

// NewPrefFlagStore creates a flag store over the preference store.
func NewPrefFlagStore(prefs *PrefStore) *PrefFlagStore {
	return &PrefFlagStore{prefs: prefs}
}

// SetSafetyNetActive records whether safety-net enforcement is in effect.
func (f *PrefFlagStore) SetSafetyNetActive(active bool) error {
	return f.prefs.SetRaw(prefKeySafetyNet, active)
}

// SafetyNetActive reads the flag; absent means inactive.
func (f *PrefFlagStore) SafetyNetActive() bool {
	var active bool
	if !f.prefs.GetRaw(prefKeySafetyNet, &active) {
		return false
	}
	return active
}

var _ domain.FlagStore = (*PrefFlagStore)(nil)

// SetRequestedWakeInterval persists the monitor's requested next-wake
// interval. The OS scheduler owns the actual cadence; this is only a hint
// carried between activations.
func (f *PrefFlagStore) SetRequestedWakeInterval(d time.Duration) error {
	return f.prefs.SetRaw(prefKeyNextWake, int64(d.Seconds()))
}

// RequestedWakeInterval reads the hint; zero if never written.
func (f *PrefFlagStore) RequestedWakeInterval() time.Duration {
	var sec int64
	if !f.prefs.GetRaw(prefKeyNextWake, &sec) || sec <= 0 {
		return 0
	}
	return time.Duration(sec) * time.Second
}
