// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"time"
)

// ProximityState is the debounced binary distance classification for a beacon.
type ProximityState string

const (
	ProximityNear ProximityState = "near"
	ProximityFar  ProximityState = "far"
)

// BeaconIdentity identifies a BLE beacon by vendor UUID plus major/minor pair.
type BeaconIdentity struct {
	UUID  string `json:"uuid"`
	Major uint16 `json:"major"`
	Minor uint16 `json:"minor"`
}

// Key returns the canonical map key for this identity.
func (b BeaconIdentity) Key() string {
	return fmt.Sprintf("%s/%d/%d", b.UUID, b.Major, b.Minor)
}

// BeaconSample is one raw RSSI measurement delivered by the scanner.
// Samples arrive at irregular intervals: bursts, then silence.
type BeaconSample struct {
	Beacon    BeaconIdentity
	RSSI      int // dBm, negative
	Timestamp time.Time
}

// ContentKind discriminates the three blockable content categories.
type ContentKind string

const (
	KindApplication      ContentKind = "application"
	KindWebDomain        ContentKind = "webDomain"
	KindActivityCategory ContentKind = "activityCategory"
)

// ContentToken is an opaque platform reference to blockable content.
// Identity is the token ID; the payload is only meaningful to the decoder
// matching the declared kind.
type ContentToken struct {
	ID          string      `json:"tokenId"`
	Kind        ContentKind `json:"tokenType"`
	Payload     []byte      `json:"tokenData"` // base64 in JSON
	BundleID    string      `json:"bundleIdentifier,omitempty"`
	DisplayName string      `json:"displayName,omitempty"`
}

// SnapshotSchemaVersion is the current on-disk snapshot schema.
const SnapshotSchemaVersion = 1

// ActiveRuleSnapshot is the single artifact exchanged between the primary
// process and the background monitor. The primary process overwrites it
// wholesale whenever its computed blocked-set changes; the monitor only
// reads it.
type ActiveRuleSnapshot struct {
	ActiveRuleTokens []ContentToken `json:"activeRuleTokens"`
	LastUpdated      time.Time      `json:"lastUpdated"`
	SchemaVersion    int            `json:"schemaVersion"`
}

// IsValid reports whether the snapshot carries a plausible schema version
// and timestamp. Enforced on read as well as write.
func (s *ActiveRuleSnapshot) IsValid() bool {
	return s != nil && s.SchemaVersion > 0 && s.LastUpdated.Unix() > 0
}

// IsFresh reports whether the snapshot was written within maxAge of now.
func (s *ActiveRuleSnapshot) IsFresh(now time.Time, maxAge time.Duration) bool {
	if !s.IsValid() {
		return false
	}
	return now.Sub(s.LastUpdated) <= maxAge
}

// HeartbeatRecord combines the two independent liveness signals written by
// the primary process: a periodic timestamp pulse and a presence marker
// that exists only while the app is foregrounded. A marker that survives
// past an expected deletion means the app was force-quit in the foreground.
type HeartbeatRecord struct {
	Timestamp            time.Time
	PresenceMarkerExists bool
}

// Age returns how long ago the heartbeat was written. If no heartbeat was
// ever recorded the age is reported as infinite (neverSeen = true).
func (h HeartbeatRecord) Age(now time.Time) (age time.Duration, neverSeen bool) {
	if h.Timestamp.IsZero() {
		return 0, true
	}
	return now.Sub(h.Timestamp), false
}

// TimeWindow is a weekly recurring time-of-day window.
// Times are "HH:MM" strings compared lexically, matching the storage format.
type TimeWindow struct {
	DayOfWeek int    `json:"dayOfWeek"` // 0=Sunday, 6=Saturday
	StartTime string `json:"startTime"` // "HH:MM"
	EndTime   string `json:"endTime"`   // "HH:MM"
}

// Contains reports whether t falls inside the window. A window whose end
// precedes its start wraps past midnight: it covers StartTime through 23:59
// on DayOfWeek plus 00:00 through EndTime on the following day, so a
// 22:00-06:00 bedtime window is a single entry.
func (w TimeWindow) Contains(t time.Time) bool {
	clock := t.Format("15:04")
	day := int(t.Weekday())

	if w.StartTime <= w.EndTime {
		return day == w.DayOfWeek && clock >= w.StartTime && clock <= w.EndTime
	}
	if day == w.DayOfWeek {
		return clock >= w.StartTime
	}
	return day == (w.DayOfWeek+1)%7 && clock <= w.EndTime
}

// BeaconCondition requires a tracked beacon to be in a specific state.
type BeaconCondition struct {
	BeaconKey     string         `json:"beaconKey"`
	RequiredState ProximityState `json:"requiredState"`
}

// GeofenceCondition requires the device to be inside (or outside) a region.
type GeofenceCondition struct {
	RegionID       string `json:"regionId"`
	RequiredInside bool   `json:"requiredInside"`
}

// Rule is one user-defined blocking rule. A rule triggers when every
// non-empty condition group is satisfied; empty groups are vacuously true.
type Rule struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Active             bool                `json:"active"`
	BlockedTokens      []ContentToken      `json:"blockedTokens"`
	TimeConditions     []TimeWindow        `json:"timeConditions,omitempty"`
	BeaconConditions   []BeaconCondition   `json:"beaconConditions,omitempty"`
	LocationConditions []GeofenceCondition `json:"locationConditions,omitempty"`
}

// HasTimeConditions reports whether the rule depends on the clock.
// Used to decide whether the periodic time tick is needed at all.
func (r Rule) HasTimeConditions() bool {
	return len(r.TimeConditions) > 0
}

// DecisionSource says which path produced an enforcement decision.
type DecisionSource string

const (
	SourceRuleEngine DecisionSource = "rule_engine"
	SourceSafetyNet  DecisionSource = "safety_net"
)

// ShieldDecision is the transient outcome of one evaluation tick.
// Never persisted; recomputed every time.
type ShieldDecision struct {
	Tokens []ContentToken
	Source DecisionSource
}

// ShieldAction is the background monitor's verdict for one activation.
type ShieldAction string

const (
	ActionApplySafetyNet ShieldAction = "apply_safety_net"
	ActionStandDown      ShieldAction = "stand_down"
)

// RegionEvent is a geofence entry/exit notification from the location provider.
type RegionEvent struct {
	RegionID string
	Inside   bool
}
