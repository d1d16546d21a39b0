package signal

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/safehold/shieldd/internal/domain"
)

// TrackerChangeFunc observes per-beacon transitions routed by the tracker.
type TrackerChangeFunc func(beaconKey string, state domain.ProximityState, averagedRSSI float64)

// Tracker routes raw samples to one Processor per beacon identity and
// resets processors that have gone silent. Beacons never seen report Far.
type Tracker struct {
	mu         sync.Mutex
	cfg        Config
	processors map[string]*Processor
	lastSeen   map[string]time.Time
	onChange   TrackerChangeFunc
	logger     *zap.Logger
}

// NewTracker creates an empty tracker. onChange may be nil.
func NewTracker(cfg Config, onChange TrackerChangeFunc, logger *zap.Logger) *Tracker {
	return &Tracker{
		cfg:        cfg,
		processors: make(map[string]*Processor),
		lastSeen:   make(map[string]time.Time),
		onChange:   onChange,
		logger:     logger,
	}
}

// Observe feeds one sample to the processor owning that beacon identity,
// creating the processor on first sight.
func (t *Tracker) Observe(sample domain.BeaconSample) domain.ProximityState {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := sample.Beacon.Key()
	proc, ok := t.processors[key]
	if !ok {
		proc = NewProcessor(t.cfg, func(state domain.ProximityState, avg float64) {
			t.logger.Info("beacon proximity changed",
				zap.String("beacon", key),
				zap.String("state", string(state)),
				zap.Float64("averaged_rssi", avg))
			if t.onChange != nil {
				t.onChange(key, state, avg)
			}
		})
		t.processors[key] = proc
	}

	t.lastSeen[key] = sample.Timestamp
	return proc.Process(sample.RSSI)
}

// States returns a copy of the current proximity state per tracked beacon.
func (t *Tracker) States() map[string]domain.ProximityState {
	t.mu.Lock()
	defer t.mu.Unlock()

	states := make(map[string]domain.ProximityState, len(t.processors))
	for key, proc := range t.processors {
		states[key] = proc.State()
	}
	return states
}

// PruneSilent resets any beacon not observed within maxSilence of now.
// Returns the keys of beacons that flipped from Near back to Far, so the
// caller can trigger a re-evaluation.
func (t *Tracker) PruneSilent(now time.Time, maxSilence time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var flipped []string
	for key, seen := range t.lastSeen {
		if now.Sub(seen) <= maxSilence {
			continue
		}
		proc := t.processors[key]
		wasNear := proc.State() == domain.ProximityNear
		proc.Reset()
		delete(t.lastSeen, key)
		if wasNear {
			t.logger.Info("beacon silent past window, reset to far",
				zap.String("beacon", key))
			flipped = append(flipped, key)
		}
	}
	return flipped
}
