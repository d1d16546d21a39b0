package domain

import "time"

// SnapshotStore persists the ActiveRuleSnapshot across processes.
// Implementations never propagate storage errors: Save reports success as a
// bool and Load returns nil for "no authoritative data". The background
// monitor must never crash because shared storage is transiently unavailable.
type SnapshotStore interface {
	// Save overwrites the snapshot wholesale. Returns true if the primary
	// location or the fallback store accepted the write.
	Save(snapshot *ActiveRuleSnapshot) bool

	// Load returns the newest valid snapshot, or nil if none exists.
	Load() *ActiveRuleSnapshot
}

// HeartbeatStore records the primary process's liveness signals.
type HeartbeatStore interface {
	// Beat writes the "I am alive" timestamp pulse.
	Beat() error

	// Read returns the current heartbeat record. An error means the shared
	// store itself was unreadable, which liveness checks treat as "dead".
	Read() (HeartbeatRecord, error)

	// EnterForeground creates the presence marker.
	EnterForeground() error

	// EnterBackground removes the presence marker (orderly transition).
	EnterBackground() error
}

// FlagStore holds the safety-net flag. Written only by the background
// monitor, read by the UI-rendering extension hook and the status command.
type FlagStore interface {
	SetSafetyNetActive(active bool) error
	SafetyNetActive() bool
}

// ContentFilter is the OS content-blocking primitive. It accepts the three
// kind-sets as the complete desired restriction state; there is no delta API.
// An empty set for a kind clears that kind's restriction.
type ContentFilter interface {
	SetCompleteBlockingState(applications, webDomains, activityCategories []string) error
}

// RuleSource provides a read-only snapshot of the rule set plus a change
// notification stream.
type RuleSource interface {
	// ActiveRules returns all rules whose active flag is set.
	ActiveRules() ([]Rule, error)

	// Changes delivers a signal whenever the rule set mutates.
	Changes() <-chan struct{}
}

// RuleStore extends RuleSource with mutation, for the CLI and companion UI.
type RuleStore interface {
	RuleSource

	All() ([]Rule, error)
	Get(id string) (*Rule, error)
	Put(rule Rule) error
	SetActive(id string, active bool) error
	Delete(id string) error
}

// LimitSource reports content whose daily usage cap is exhausted right now.
// Exhausted-limit tokens are unioned with rule-triggered tokens; neither
// side ever subtracts from the other.
type LimitSource interface {
	ExhaustedTokens(now time.Time) []ContentToken
}

// ProcessManager answers OS process liveness questions.
// Implementation uses gopsutil for cross-platform support.
type ProcessManager interface {
	IsRunning(pid int) bool
	GetCurrentPID() int
}

// KeyProvider yields the rule-database encryption key, provisioning one on
// first use.
type KeyProvider interface {
	RuleDBKey() ([]byte, error)
}
