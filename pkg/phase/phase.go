// Package phase classifies the fused scalar signal into three
// hysteresis-guarded phases and nine fixed tiers, tracking transitions
// and signal history.
package phase

import (
	"time"

	"github.com/itohio/gopsc/pkg/config"
	"github.com/itohio/gopsc/pkg/ring"
	"github.com/itohio/gopsc/pkg/trigger"
)

// Phase boundaries over the fused signal.
const (
	// BoundaryLowMid is the Low/Mid boundary (inverse golden ratio).
	BoundaryLowMid = 0.6180339887
	// BoundaryMidHigh is the Mid/High boundary (sqrt(3)/2).
	BoundaryMidHigh = 0.8660254038
	// HistorySize is the fixed capacity of the signal history buffer.
	HistorySize = 256
)

// Phase is one of three ordered regions of the signal.
type Phase uint8

const (
	Low Phase = iota
	Mid
	High
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case Low:
		return "Low"
	case Mid:
		return "Mid"
	case High:
		return "High"
	default:
		return "Unknown"
	}
}

// tierBoundaries are the fixed tier start values over [0, 1].
var tierBoundaries = [10]float32{
	0.00, 0.10, 0.20, 0.45, 0.65, 0.75, BoundaryMidHigh, 0.92, 0.97, 1.00,
}

// TierOf returns the tier (1-9) for a signal value. Tiers are fixed
// sub-bands of the signal and carry no hysteresis.
func TierOf(z float32) int {
	for t := 1; t < 9; t++ {
		if z < tierBoundaries[t] {
			return t
		}
	}
	return 9
}

// Transition records a single phase change.
type Transition struct {
	From      Phase
	To        Phase
	Z         float32
	Timestamp time.Time
}

// HistoryEntry is one sample of the signal history.
type HistoryEntry struct {
	Z         float32
	Phase     Phase
	Timestamp time.Time
}

// State is the externally visible phase engine state.
type State struct {
	Current        Phase
	Previous       Phase
	Z              float32       // last raw signal
	ZSmoothed      float32       // EMA-smoothed signal
	Velocity       float32       // signal rate of change (1/s)
	Tier           int           // 1-9
	TimeInPhase    time.Duration // time since last transition
	LastTransition time.Time
	Stable         bool // in phase longer than the stability threshold
}

// Engine smooths the signal, classifies it with per-boundary Schmitt
// triggers and records transitions. Not safe for concurrent use; a
// single control loop must own all calls.
type Engine struct {
	alpha              float32
	stabilityThreshold time.Duration

	state State

	lower *trigger.Schmitt // Low/Mid boundary
	upper *trigger.Schmitt // Mid/High boundary

	zPrev      float32
	timePrev   time.Time
	started    bool
	transition bool
	last       Transition

	history *ring.Buffer[HistoryEntry]
}

// New creates a phase engine with the given tuning.
func New(cfg config.PhaseConfig) *Engine {
	m := cfg.HysteresisMargin
	e := &Engine{
		alpha:              cfg.Alpha,
		stabilityThreshold: cfg.StabilityThreshold,
		lower:              trigger.NewSchmitt(BoundaryLowMid+m, BoundaryLowMid-m),
		upper:              trigger.NewSchmitt(BoundaryMidHigh+m, BoundaryMidHigh-m),
		history:            ring.New[HistoryEntry](HistorySize),
	}
	e.state.Current = Low
	e.state.Previous = Low
	e.state.Tier = 1
	return e
}

// Update feeds one signal sample. The input is clamped to [0, 1]; the
// call never fails. Output is a pure function of the input sequence and
// the previous state.
func (e *Engine) Update(z float32, now time.Time) State {
	z = clamp01(z)

	e.state.Z = z
	e.state.ZSmoothed = e.alpha*z + (1-e.alpha)*e.state.ZSmoothed

	if e.started {
		dt := float32(now.Sub(e.timePrev).Seconds())
		if dt > 0.001 {
			e.state.Velocity = (z - e.zPrev) / dt
		}
	} else {
		e.state.LastTransition = now
		e.started = true
	}

	detected := e.classify(e.state.ZSmoothed)

	e.transition = false
	if detected != e.state.Current {
		e.last = Transition{
			From:      e.state.Current,
			To:        detected,
			Z:         e.state.ZSmoothed,
			Timestamp: now,
		}
		e.state.Previous = e.state.Current
		e.state.Current = detected
		e.state.LastTransition = now
		e.state.TimeInPhase = 0
		e.transition = true
	} else {
		e.state.TimeInPhase = now.Sub(e.state.LastTransition)
	}

	e.state.Stable = e.state.TimeInPhase >= e.stabilityThreshold
	e.state.Tier = TierOf(e.state.ZSmoothed)

	e.history.Push(HistoryEntry{Z: z, Phase: e.state.Current, Timestamp: now})

	e.zPrev = z
	e.timePrev = now

	return e.state
}

// classify applies the per-boundary Schmitt triggers. Only the
// boundaries adjacent to the current phase are evaluated, so a single
// update moves at most one phase.
func (e *Engine) classify(z float32) Phase {
	switch e.state.Current {
	case Low:
		if st, _ := e.lower.Update(z); st {
			return Mid
		}
	case Mid:
		if st, _ := e.lower.Update(z); !st {
			return Low
		}
		if st, _ := e.upper.Update(z); st {
			return High
		}
	case High:
		if st, _ := e.upper.Update(z); !st {
			return Mid
		}
	}
	return e.state.Current
}

// State returns a copy of the current state.
func (e *Engine) State() State {
	return e.state
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	return e.state.Current
}

// Tier returns the current tier (1-9).
func (e *Engine) Tier() int {
	return e.state.Tier
}

// TransitionOccurred reports whether the last Update changed phase.
// The flag holds for exactly one cycle.
func (e *Engine) TransitionOccurred() bool {
	return e.transition
}

// LastTransition returns the most recent transition record.
func (e *Engine) LastTransition() Transition {
	return e.last
}

// History copies the signal history into dst, oldest first, reusing dst
// when it has sufficient capacity.
func (e *Engine) History(dst []HistoryEntry) []HistoryEntry {
	return e.history.Snapshot(dst)
}

// SetAlpha sets the EMA smoothing factor, clamped to [0.01, 1].
func (e *Engine) SetAlpha(alpha float32) {
	if alpha < 0.01 {
		alpha = 0.01
	}
	if alpha > 1 {
		alpha = 1
	}
	e.alpha = alpha
}

// SetStabilityThreshold sets the minimum time in phase for the stable flag.
func (e *Engine) SetStabilityThreshold(d time.Duration) {
	if d > 0 {
		e.stabilityThreshold = d
	}
}

// Reset returns the engine to its initial state.
func (e *Engine) Reset() {
	e.state = State{Current: Low, Previous: Low, Tier: 1}
	e.lower.SetState(false)
	e.upper.SetState(false)
	e.zPrev = 0
	e.timePrev = time.Time{}
	e.started = false
	e.transition = false
	e.last = Transition{}
	e.history.Reset()
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
