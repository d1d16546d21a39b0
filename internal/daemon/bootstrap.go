package daemon

import (
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/safehold/shieldd/internal/config"
	"github.com/safehold/shieldd/internal/infra"
	"github.com/safehold/shieldd/internal/signal"
	"github.com/safehold/shieldd/internal/usecase"
)

// Shared file names inside the shared container. The snapshot, heartbeat
// artifacts and filter state must be visible to both the primary process
// and the background monitor.
const (
	prefsFileName       = "prefs.json"
	snapshotFileNameRel = "active_rules.json"
	markerFileNameRel   = "foreground.marker"
	filterFileNameRel   = "filter_state.json"
	limitsFileNameRel   = "daily_limits.json"
)

// SharedStores bundles everything rooted in the shared container.
type SharedStores struct {
	Prefs      *infra.PrefStore
	Snapshots  *infra.FileSnapshotStore
	Heartbeats *infra.SharedHeartbeatStore
	Flags      *infra.PrefFlagStore
	Filter     *infra.FileContentFilter
	Limits     *infra.DailyLimitStore
}

// BuildSharedStores wires the cross-process storage layer from config.
func BuildSharedStores(cfg config.Config, logger *zap.Logger) *SharedStores {
	prefs := infra.NewPrefStore(filepath.Join(cfg.SharedDir, prefsFileName))
	return &SharedStores{
		Prefs:      prefs,
		Snapshots:  infra.NewFileSnapshotStore(filepath.Join(cfg.SharedDir, snapshotFileNameRel), prefs, logger),
		Heartbeats: infra.NewSharedHeartbeatStore(prefs, filepath.Join(cfg.SharedDir, markerFileNameRel)),
		Flags:      infra.NewPrefFlagStore(prefs),
		Filter:     infra.NewFileContentFilter(filepath.Join(cfg.SharedDir, filterFileNameRel), logger),
		Limits:     infra.NewDailyLimitStore(filepath.Join(cfg.SharedDir, limitsFileNameRel), logger),
	}
}

// OpenRuleStore unlocks the encrypted rule database, generating the key on
// first use. Only the primary process and the CLI open it; the background
// monitor stays inside its memory budget by never touching the database.
func OpenRuleStore(cfg config.Config, logger *zap.Logger) (*infra.EncryptedRuleStore, error) {
	return infra.NewEncryptedRuleStore(cfg.DataDir, infra.NewFileKeyProvider(cfg.DataDir), logger)
}

// BuildPrimary wires the full primary daemon. The returned cleanup closes
// the rule database.
func BuildPrimary(cfg config.Config, logger *zap.Logger) (*Primary, *infra.EncryptedRuleStore, error) {
	shared := BuildSharedStores(cfg, logger)

	rules, err := OpenRuleStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	engine := usecase.NewEngine(rules, shared.Limits, logger)
	reconciler := usecase.NewReconciler(shared.Filter, logger)

	signalCfg := signal.Config{
		SmoothingFactor:     cfg.Signal.SmoothingFactor,
		BlockThresholdDBm:   cfg.Signal.BlockThresholdDBm,
		UnblockThresholdDBm: cfg.Signal.UnblockThresholdDBm,
		RequiredConsecutive: cfg.Signal.RequiredConsecutive,
	}

	primaryCfg := DefaultPrimaryConfig()
	primaryCfg.HeartbeatInterval = time.Duration(cfg.Primary.HeartbeatIntervalSec) * time.Second
	primaryCfg.TimeTick = time.Duration(cfg.Primary.TimeTickSec) * time.Second
	primaryCfg.RefreshDebounce = time.Duration(cfg.Primary.RefreshDebounceMs) * time.Millisecond
	primaryCfg.BeaconSilence = time.Duration(cfg.Signal.SilenceWindowSec) * time.Second

	primary := NewPrimary(
		primaryCfg,
		signalCfg,
		engine,
		reconciler,
		shared.Heartbeats,
		shared.Snapshots,
		rules,
		infra.NewProcessManager(),
		logger,
	)
	return primary, rules, nil
}

// BuildMonitor wires the background monitor from the shared stores only.
func BuildMonitor(cfg config.Config, logger *zap.Logger) (*usecase.Monitor, *infra.PrefFlagStore) {
	shared := BuildSharedStores(cfg, logger)

	reconciler := usecase.NewReconciler(shared.Filter, logger)
	monitorCfg := usecase.MonitorConfig{
		StalenessThreshold: cfg.StalenessThreshold(),
		GraceWindow:        cfg.GraceWindow(),
		SnapshotMaxAge:     cfg.SnapshotMaxAge(),
	}

	monitor := usecase.NewMonitor(
		monitorCfg,
		shared.Heartbeats,
		shared.Snapshots,
		shared.Flags,
		reconciler,
		infra.NewProcessManager(),
		shared.Heartbeats,
		logger,
	)
	return monitor, shared.Flags
}
