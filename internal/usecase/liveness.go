package usecase

import (
	"time"

	"go.uber.org/zap"

	"github.com/safehold/shieldd/internal/domain"
)

// MonitorConfig tunes the background liveness check.
type MonitorConfig struct {
	// StalenessThreshold: heartbeat older than this means the primary
	// process is dead.
	StalenessThreshold time.Duration

	// GraceWindow extends the requested next wake beyond the threshold
	// when the primary is verified alive, so wake cadence adapts to
	// observed liveness instead of firing at a fixed rate.
	GraceWindow time.Duration

	// SnapshotMaxAge: a snapshot older than this is not applied even
	// under the safety net.
	SnapshotMaxAge time.Duration
}

// DefaultMonitorConfig returns the deployment defaults: 60s staleness,
// 30s grace, 1h snapshot freshness.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		StalenessThreshold: 60 * time.Second,
		GraceWindow:        30 * time.Second,
		SnapshotMaxAge:     time.Hour,
	}
}

// PIDReader optionally exposes the primary process PID recorded next to
// the heartbeat, for a diagnostic cross-check.
type PIDReader interface {
	PID() int
}

// CheckResult is the outcome of one monitor activation.
type CheckResult struct {
	Action        domain.ShieldAction
	NextWake      time.Duration // requested interval until the next activation
	TokensBlocked int           // tokens applied under the safety net
}

// Monitor runs inside the periodically-woken background extension. On each
// activation it decides whether the primary process is alive from the
// shared heartbeat, and if not, takes over enforcement with the last known
// snapshot. Every path terminates in apply or stand-down; ambiguity and
// failure always resolve to the protective side (fail-safe, not fail-open).
type Monitor struct {
	cfg        MonitorConfig
	heartbeats domain.HeartbeatStore
	snapshots  domain.SnapshotStore
	flags      domain.FlagStore
	reconciler *Reconciler
	procs      domain.ProcessManager // optional PID cross-check
	pids       PIDReader             // optional PID cross-check
	logger     *zap.Logger
}

// NewMonitor creates a liveness monitor. procs and pids may be nil; the
// PID cross-check is diagnostic only and never overrides the heartbeat.
func NewMonitor(
	cfg MonitorConfig,
	heartbeats domain.HeartbeatStore,
	snapshots domain.SnapshotStore,
	flags domain.FlagStore,
	reconciler *Reconciler,
	procs domain.ProcessManager,
	pids PIDReader,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		cfg:        cfg,
		heartbeats: heartbeats,
		snapshots:  snapshots,
		flags:      flags,
		reconciler: reconciler,
		procs:      procs,
		pids:       pids,
		logger:     logger,
	}
}

// DetermineShieldAction decides apply vs. stand-down from the heartbeat
// record alone. The presence marker is logged as a strong force-quit
// signal but never short-circuits the decision; the heartbeat age is
// authoritative. An unreadable store counts as dead.
func (m *Monitor) DetermineShieldAction(now time.Time) domain.ShieldAction {
	record, err := m.heartbeats.Read()
	if err != nil {
		m.logger.Warn("heartbeat unreadable, assuming primary dead", zap.Error(err))
		return domain.ActionApplySafetyNet
	}

	if record.PresenceMarkerExists {
		m.logger.Info("presence marker still exists: likely foreground force-quit")
	}

	age, neverSeen := record.Age(now)
	if neverSeen {
		m.logger.Info("no heartbeat ever recorded, assuming primary dead")
		return domain.ActionApplySafetyNet
	}
	if age > m.cfg.StalenessThreshold {
		m.logger.Info("heartbeat stale",
			zap.Duration("age", age),
			zap.Duration("threshold", m.cfg.StalenessThreshold))
		return domain.ActionApplySafetyNet
	}

	m.logger.Debug("primary heartbeat fresh", zap.Duration("age", age))
	return domain.ActionStandDown
}

// CheckOnce performs one full activation: decide, enforce or stand down,
// and compute the requested next-wake interval. Idempotent: re-running
// with unchanged inputs produces the same decision and the same filter
// state.
func (m *Monitor) CheckOnce(now time.Time) CheckResult {
	action := m.DetermineShieldAction(now)
	m.logPIDCrossCheck()

	switch action {
	case domain.ActionApplySafetyNet:
		blocked := m.applySafetyNet(now)
		return CheckResult{
			Action:        action,
			NextWake:      m.cfg.StalenessThreshold,
			TokensBlocked: blocked,
		}

	default:
		m.standDown()
		return CheckResult{
			Action:   action,
			NextWake: m.cfg.StalenessThreshold + m.cfg.GraceWindow,
		}
	}
}

// applySafetyNet blocks every token from the last known snapshot. The
// monitor cannot run full rule evaluation under its memory/time budget, so
// enforcement is all-or-nothing. Returns the number of tokens applied.
func (m *Monitor) applySafetyNet(now time.Time) int {
	// The flag alters messaging in the UI-rendering extension; set it even
	// when no snapshot is applicable so the over-block is explainable.
	if err := m.flags.SetSafetyNetActive(true); err != nil {
		m.logger.Warn("failed to set safety net flag", zap.Error(err))
	}

	snapshot := m.snapshots.Load()
	if snapshot == nil {
		m.logger.Info("no snapshot available, leaving filter untouched")
		return 0
	}
	if !snapshot.IsFresh(now, m.cfg.SnapshotMaxAge) {
		m.logger.Info("snapshot too old to apply",
			zap.Time("last_updated", snapshot.LastUpdated),
			zap.Duration("max_age", m.cfg.SnapshotMaxAge))
		return 0
	}
	if len(snapshot.ActiveRuleTokens) == 0 {
		m.logger.Info("snapshot has no active tokens, nothing to block")
		return 0
	}

	if err := m.reconciler.ApplyBlocking(snapshot.ActiveRuleTokens); err != nil {
		m.logger.Error("safety net apply failed", zap.Error(err))
		return 0
	}
	m.logger.Info("safety net applied",
		zap.Int("tokens", len(snapshot.ActiveRuleTokens)))
	return len(snapshot.ActiveRuleTokens)
}

// standDown clears the safety-net flag and leaves the OS filter untouched.
// Clearing the filter here could briefly unblock content during a
// legitimate hand-off window; only the primary process manages it while
// alive.
func (m *Monitor) standDown() {
	if err := m.flags.SetSafetyNetActive(false); err != nil {
		m.logger.Warn("failed to clear safety net flag", zap.Error(err))
	}
	m.logger.Debug("standing down, primary manages enforcement")
}

func (m *Monitor) logPIDCrossCheck() {
	if m.procs == nil || m.pids == nil {
		return
	}
	pid := m.pids.PID()
	if pid <= 0 {
		return
	}
	m.logger.Debug("primary PID cross-check",
		zap.Int("pid", pid),
		zap.Bool("running", m.procs.IsRunning(pid)))
}
