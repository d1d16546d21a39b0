// Package daemon implements the primary enforcement loop and the one-shot
// background monitor activation.
package daemon

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/safehold/shieldd/internal/domain"
	"github.com/safehold/shieldd/internal/infra"
	"github.com/safehold/shieldd/internal/signal"
	"github.com/safehold/shieldd/internal/usecase"
)

// PrimaryConfig holds primary daemon configuration.
type PrimaryConfig struct {
	HeartbeatInterval time.Duration // how often to write the liveness pulse
	TimeTick          time.Duration // coarse tick for time-window boundary crossings
	RefreshDebounce   time.Duration // collapse bursts of triggers into one evaluation
	BeaconSilence     time.Duration // reset beacons unseen for this long
}

// DefaultPrimaryConfig returns default primary daemon configuration.
func DefaultPrimaryConfig() PrimaryConfig {
	return PrimaryConfig{
		HeartbeatInterval: 15 * time.Second,
		TimeTick:          60 * time.Second,
		RefreshDebounce:   250 * time.Millisecond,
		BeaconSilence:     30 * time.Second,
	}
}

// Primary is the long-lived enforcement daemon. It consumes pushed beacon
// samples and geofence events, re-evaluates the rule set on every condition
// change (debounced) and on a coarse time tick, keeps the content filter in
// sync, and writes the heartbeat plus active-rule snapshot that the
// background monitor relies on.
//
// All mutation happens on the Run goroutine; providers hand events over
// through channels.
type Primary struct {
	cfg        PrimaryConfig
	engine     *usecase.Engine
	reconciler *usecase.Reconciler
	tracker    *signal.Tracker
	heartbeats *infra.SharedHeartbeatStore
	snapshots  domain.SnapshotStore
	rules      domain.RuleSource
	procs      domain.ProcessManager
	logger     *zap.Logger

	samples      chan domain.BeaconSample
	regionEvents chan domain.RegionEvent

	// Loop-owned state below; never touched off the Run goroutine.
	regions       map[string]bool
	lastSignature string
	evalPending   bool
}

// signatureInitial can never collide with a real signature: real signatures
// are either empty or newline-joined token IDs. Starting from it forces the
// first evaluation after a restart to overwrite whatever snapshot the
// previous run left behind, even when the new blocked-set is empty.
const signatureInitial = "\x00"

// NewPrimary creates the primary daemon. The tracker is built here so
// proximity transitions feed straight into the evaluation debounce.
func NewPrimary(
	cfg PrimaryConfig,
	signalCfg signal.Config,
	engine *usecase.Engine,
	reconciler *usecase.Reconciler,
	heartbeats *infra.SharedHeartbeatStore,
	snapshots domain.SnapshotStore,
	rules domain.RuleSource,
	procs domain.ProcessManager,
	logger *zap.Logger,
) *Primary {
	p := &Primary{
		cfg:           cfg,
		engine:        engine,
		reconciler:    reconciler,
		heartbeats:    heartbeats,
		snapshots:     snapshots,
		rules:         rules,
		procs:         procs,
		logger:        logger,
		samples:       make(chan domain.BeaconSample, 64),
		regionEvents:  make(chan domain.RegionEvent, 16),
		regions:       make(map[string]bool),
		lastSignature: signatureInitial,
	}
	p.tracker = signal.NewTracker(signalCfg, func(key string, state domain.ProximityState, avg float64) {
		// Runs on the loop goroutine (inside Observe).
		p.evalPending = true
	}, logger)
	return p
}

// OfferSample delivers one raw beacon measurement from the scanner
// callback. Non-blocking: under burst pressure the newest sample wins a
// dropped slot, a lost RSSI reading is recovered by the next one.
func (p *Primary) OfferSample(sample domain.BeaconSample) {
	select {
	case p.samples <- sample:
	default:
		p.logger.Debug("sample queue full, dropping",
			zap.String("beacon", sample.Beacon.Key()))
	}
}

// OfferRegionEvent delivers a geofence entry/exit from the location provider.
func (p *Primary) OfferRegionEvent(event domain.RegionEvent) {
	select {
	case p.regionEvents <- event:
	default:
		p.logger.Warn("region event queue full, dropping",
			zap.String("region", event.RegionID))
	}
}

// Run starts the primary loop. Blocks until ctx is canceled, then performs
// the orderly background transition (marker removal) before returning.
func (p *Primary) Run(ctx context.Context) error {
	if err := p.heartbeats.EnterForeground(); err != nil {
		p.logger.Warn("failed to create presence marker", zap.Error(err))
	}
	if err := p.heartbeats.RecordPID(p.procs.GetCurrentPID()); err != nil {
		p.logger.Warn("failed to record pid", zap.Error(err))
	}
	p.beat()

	p.logger.Info("primary daemon started",
		zap.Int("pid", p.procs.GetCurrentPID()))

	// Evaluate immediately on startup so the filter reflects reality
	// before the first event arrives.
	p.evaluate()

	heartbeatTicker := time.NewTicker(p.cfg.HeartbeatInterval)
	pruneTicker := time.NewTicker(p.cfg.BeaconSilence)
	defer heartbeatTicker.Stop()
	defer pruneTicker.Stop()

	// The time tick exists only while some active rule has a time
	// condition; a nil channel never fires.
	var timeTicker *time.Ticker
	var timeTickCh <-chan time.Time
	syncTimeTick := func() {
		needed := p.engine.NeedsTimeTick()
		switch {
		case needed && timeTicker == nil:
			timeTicker = time.NewTicker(p.cfg.TimeTick)
			timeTickCh = timeTicker.C
			p.logger.Debug("time tick enabled")
		case !needed && timeTicker != nil:
			timeTicker.Stop()
			timeTicker = nil
			timeTickCh = nil
			p.logger.Debug("time tick disabled")
		}
	}
	syncTimeTick()
	defer func() {
		if timeTicker != nil {
			timeTicker.Stop()
		}
	}()

	// Debounce timer for condition-change triggers.
	debounce := time.NewTimer(p.cfg.RefreshDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()
	armDebounce := func() {
		if !p.evalPending {
			return
		}
		p.evalPending = false
		if !debounce.Stop() {
			select {
			case <-debounce.C:
			default:
			}
		}
		debounce.Reset(p.cfg.RefreshDebounce)
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("primary daemon stopping")
			if err := p.heartbeats.EnterBackground(); err != nil {
				p.logger.Warn("failed to remove presence marker", zap.Error(err))
			}
			return ctx.Err()

		case sample := <-p.samples:
			p.tracker.Observe(sample) // may set evalPending via transition
			armDebounce()

		case event := <-p.regionEvents:
			if p.regions[event.RegionID] != event.Inside {
				p.regions[event.RegionID] = event.Inside
				p.logger.Info("geofence membership changed",
					zap.String("region", event.RegionID),
					zap.Bool("inside", event.Inside))
				p.evalPending = true
				armDebounce()
			}

		case <-p.rules.Changes():
			p.logger.Info("rule set changed")
			syncTimeTick()
			p.evalPending = true
			armDebounce()

		case <-debounce.C:
			p.evaluate()

		case <-timeTickCh:
			// Catches time-window boundary crossings when no other
			// event fires; no debounce, the tick is already coarse.
			p.evaluate()

		case <-pruneTicker.C:
			flipped := p.tracker.PruneSilent(time.Now(), p.cfg.BeaconSilence)
			if len(flipped) > 0 {
				p.evalPending = true
				armDebounce()
			}

		case <-heartbeatTicker.C:
			p.beat()
		}
	}
}

func (p *Primary) beat() {
	if err := p.heartbeats.Beat(); err != nil {
		p.logger.Warn("failed to write heartbeat", zap.Error(err))
	}
}

// evaluate runs one full evaluation tick: compute the desired blocked-set,
// apply it to the filter (idempotent total overwrite), and persist the
// snapshot when the set changed.
func (p *Primary) evaluate() {
	evalCtx := usecase.EvaluationContext{
		Now:       time.Now(),
		Proximity: p.tracker.States(),
		Regions:   p.regions,
	}
	decision := p.engine.Evaluate(evalCtx)

	if err := p.reconciler.ApplyBlocking(decision.Tokens); err != nil {
		p.logger.Error("failed to apply blocking state", zap.Error(err))
	}

	sig := tokenSignature(decision.Tokens)
	if sig == p.lastSignature {
		return
	}
	p.lastSignature = sig

	snapshot := &domain.ActiveRuleSnapshot{
		ActiveRuleTokens: decision.Tokens,
		LastUpdated:      evalCtx.Now,
		SchemaVersion:    domain.SnapshotSchemaVersion,
	}
	if !p.snapshots.Save(snapshot) {
		p.logger.Warn("failed to persist active rule snapshot")
	}
	p.logger.Info("blocked set changed",
		zap.Int("tokens", len(decision.Tokens)),
		zap.Int64("dropped_total", p.reconciler.DroppedTokenCount()))
}

// tokenSignature is order-insensitive: the same set of token IDs always
// produces the same signature.
func tokenSignature(tokens []domain.ContentToken) string {
	ids := make([]string, len(tokens))
	for i, t := range tokens {
		ids[i] = t.ID
	}
	sort.Strings(ids)
	return strings.Join(ids, "\n")
}
