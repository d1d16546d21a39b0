// Package signal converts noisy per-beacon RSSI streams into stable
// proximity decisions via exponential smoothing, hysteresis and debounce.
package signal

import (
	"github.com/safehold/shieldd/internal/domain"
)

// Config holds the identity-agnostic tunables of the hysteresis machine.
type Config struct {
	// SmoothingFactor is the EMA alpha: ema = alpha*sample + (1-alpha)*ema.
	SmoothingFactor float64

	// BlockThresholdDBm: smoothed RSSI above this counts toward Near.
	BlockThresholdDBm float64

	// UnblockThresholdDBm: smoothed RSSI below this counts toward Far.
	// Must sit below BlockThresholdDBm; the gap is the dead zone that
	// prevents oscillation at the boundary.
	UnblockThresholdDBm float64

	// RequiredConsecutive qualifying samples before a transition fires.
	RequiredConsecutive int
}

// DefaultConfig returns the deployment defaults: alpha 0.15, thresholds
// -65/-70 dBm (5 dB dead zone), 5 consecutive samples.
func DefaultConfig() Config {
	return Config{
		SmoothingFactor:     0.15,
		BlockThresholdDBm:   -65,
		UnblockThresholdDBm: -70,
		RequiredConsecutive: 5,
	}
}

// StateChangeFunc observes transitions. It fires exactly once per
// transition with the new state and the smoothed value at transition time,
// never on a no-op call.
type StateChangeFunc func(state domain.ProximityState, averagedRSSI float64)

// Processor owns the proximity state for one beacon identity.
// Not safe for concurrent use; each processor belongs to one goroutine.
type Processor struct {
	cfg      Config
	onChange StateChangeFunc

	state     domain.ProximityState
	ema       float64
	hasEMA    bool
	nearCount int // consecutive samples qualifying for Far -> Near
	farCount  int // consecutive samples qualifying for Near -> Far
}

// NewProcessor creates a processor in the Far state. onChange may be nil.
func NewProcessor(cfg Config, onChange StateChangeFunc) *Processor {
	return &Processor{
		cfg:      cfg,
		onChange: onChange,
		state:    domain.ProximityFar,
	}
}

// Process feeds one raw RSSI sample through smoothing and hysteresis and
// returns the (possibly unchanged) current state.
func (p *Processor) Process(rawRSSI int) domain.ProximityState {
	sample := float64(rawRSSI)
	if p.hasEMA {
		p.ema = p.cfg.SmoothingFactor*sample + (1-p.cfg.SmoothingFactor)*p.ema
	} else {
		p.ema = sample
		p.hasEMA = true
	}

	switch p.state {
	case domain.ProximityFar:
		if p.ema > p.cfg.BlockThresholdDBm {
			p.nearCount++
		} else {
			p.nearCount = 0
		}
		if p.nearCount >= p.cfg.RequiredConsecutive {
			p.transition(domain.ProximityNear)
		}

	case domain.ProximityNear:
		if p.ema < p.cfg.UnblockThresholdDBm {
			p.farCount++
		} else {
			p.farCount = 0
		}
		if p.farCount >= p.cfg.RequiredConsecutive {
			p.transition(domain.ProximityFar)
		}
	}

	return p.state
}

func (p *Processor) transition(next domain.ProximityState) {
	p.state = next
	p.nearCount = 0
	p.farCount = 0
	if p.onChange != nil {
		p.onChange(next, p.ema)
	}
}

// Reset clears the smoothed average and both counters and forces Far.
// Called when the beacon has been silent past the silence window; that
// policy lives outside this type.
func (p *Processor) Reset() {
	p.state = domain.ProximityFar
	p.ema = 0
	p.hasEMA = false
	p.nearCount = 0
	p.farCount = 0
}

// State returns the current debounced state without consuming a sample.
func (p *Processor) State() domain.ProximityState {
	return p.state
}

// Average returns the current smoothed value and whether one exists yet.
func (p *Processor) Average() (float64, bool) {
	return p.ema, p.hasEMA
}
