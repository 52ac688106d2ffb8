// Package unlock implements the debounced threshold-crossing sequencer
// that gates the one-shot unlock event.
package unlock

import (
	"time"

	"github.com/itohio/gopsc/pkg/config"
	"github.com/itohio/gopsc/pkg/trigger"
)

// State is the sequencer state.
type State uint8

const (
	Idle State = iota
	Armed
	Crossing1
	Crossing2
	Crossing3
	Unlocked
	LockedOut
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Armed:
		return "Armed"
	case Crossing1:
		return "Crossing1"
	case Crossing2:
		return "Crossing2"
	case Crossing3:
		return "Crossing3"
	case Unlocked:
		return "Unlocked"
	case LockedOut:
		return "LockedOut"
	default:
		return "Unknown"
	}
}

// Event is the outcome of one update cycle.
type Event uint8

const (
	None Event = iota
	RisingEdge
	FallingEdge
	UnlockEvent
	Timeout
	LockoutEnd
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case None:
		return "None"
	case RisingEdge:
		return "RisingEdge"
	case FallingEdge:
		return "FallingEdge"
	case UnlockEvent:
		return "Unlock"
	case Timeout:
		return "Timeout"
	case LockoutEnd:
		return "LockoutEnd"
	default:
		return "Unknown"
	}
}

// gateTolerance is the half-width of the independent gate predicate.
const gateTolerance = 0.02

// blinkPeriod is the indicator blink period during a crossing sequence.
const blinkPeriod = 200 * time.Millisecond

// Status is the externally visible sequencer status.
type Status struct {
	State         State
	CrossingCount int
	LastValue     float32
	Unlocked      bool
	UnlockTime    time.Time
	TimeInState   time.Duration
	SequenceStart time.Time
	LastEvent     Event
	Rearmed       bool // a falling edge re-armed the current crossing state
}

// Indicator is a binary output the sequencer drives each cycle.
type Indicator interface {
	Set(on bool)
}

// FSM counts debounced threshold crossings of the driving value and
// fires the unlock callback once when the required number of passes has
// been observed. Not safe for concurrent use.
type FSM struct {
	cfg config.UnlockConfig

	status    Status
	edge      *trigger.Schmitt
	debounce  *trigger.Debouncer
	entered   time.Time
	callback  func()
	indicator Indicator
}

// New creates a sequencer with the given tuning. The low threshold must
// be below the high threshold; config defaulting guarantees it.
func New(cfg config.UnlockConfig) *FSM {
	return &FSM{
		cfg:      cfg,
		edge:     trigger.NewSchmitt(cfg.HighThreshold, cfg.LowThreshold),
		debounce: trigger.NewDebouncer(cfg.DebounceInterval),
		status:   Status{State: Idle},
	}
}

// Update feeds one driving value. It returns the event produced by this
// cycle; None when nothing noteworthy happened.
func (f *FSM) Update(value float32, now time.Time) Event {
	event := None

	f.status.LastValue = value
	if !f.entered.IsZero() {
		f.status.TimeInState = now.Sub(f.entered)
	} else {
		f.entered = now
	}

	// Edge detection shares one Schmitt trigger and one debounce gate
	// across rising and falling edges. An edge landing inside the
	// debounce window is dropped, not deferred.
	st, changed := f.edge.Update(value)
	rising := changed && st
	falling := changed && !st
	if (rising || falling) && !f.debounce.Ready(now) {
		rising, falling = false, false
	}
	if rising || falling {
		f.debounce.Mark(now)
	}

	// Sequence timeout applies from Armed through Crossing3.
	if f.inSequence() && !f.status.SequenceStart.IsZero() &&
		now.Sub(f.status.SequenceStart) > f.cfg.SequenceTimeout {
		f.status.CrossingCount = 0
		f.transitionTo(Idle, now)
		event = Timeout
		f.status.LastEvent = event
		f.updateIndicator(now)
		return event
	}

	// Lockout expiry.
	if f.status.State == LockedOut {
		if now.Sub(f.status.UnlockTime) > f.cfg.LockoutDuration {
			f.status.Unlocked = false
			f.transitionTo(Idle, now)
			event = LockoutEnd
		}
		f.status.LastEvent = event
		f.updateIndicator(now)
		return event
	}

	switch f.status.State {
	case Idle:
		// Arm once the value has settled below the low threshold.
		if value < f.cfg.LowThreshold {
			f.transitionTo(Armed, now)
		}

	case Armed:
		if rising {
			f.status.CrossingCount = 1
			f.status.SequenceStart = now
			f.transitionTo(Crossing1, now)
			event = RisingEdge
		}

	case Crossing1:
		if falling {
			f.status.Rearmed = true
			event = FallingEdge
		}
		if rising {
			f.status.CrossingCount = 2
			f.transitionTo(Crossing2, now)
			event = RisingEdge
		}

	case Crossing2:
		if falling {
			f.status.Rearmed = true
			event = FallingEdge
		}
		if rising {
			f.status.CrossingCount = 3
			f.transitionTo(Crossing3, now)
			event = RisingEdge
		}

	case Unlocked:
		// A significant drop ends the unlocked period.
		if value < f.cfg.LowThreshold-0.1 {
			f.transitionTo(LockedOut, now)
		}
	}

	// The final crossing completes the sequence in the same cycle.
	if f.status.State == Crossing3 && f.status.CrossingCount >= f.cfg.PassesRequired {
		f.unlock(now)
		event = UnlockEvent
	}

	f.status.LastEvent = event
	f.updateIndicator(now)
	return event
}

// inSequence reports whether the sequencer is between arming and the
// final crossing.
func (f *FSM) inSequence() bool {
	return f.status.State >= Armed && f.status.State <= Crossing3
}

// transitionTo changes state and resets state-entry bookkeeping.
func (f *FSM) transitionTo(s State, now time.Time) {
	f.status.State = s
	f.entered = now
	f.status.TimeInState = 0

	if s == Idle || s == Armed {
		f.status.CrossingCount = 0
		f.status.SequenceStart = now
		f.status.Rearmed = false
	}
}

// unlock stamps the unlock and fires the callback.
func (f *FSM) unlock(now time.Time) {
	f.status.Unlocked = true
	f.status.UnlockTime = now
	f.transitionTo(Unlocked, now)
	if f.callback != nil {
		f.callback()
	}
}

// ForceUnlock is an administrative override: it stamps the unlock time
// and fires the callback exactly as a completed sequence would.
func (f *FSM) ForceUnlock(now time.Time) {
	f.status.CrossingCount = f.cfg.PassesRequired
	f.unlock(now)
	f.status.LastEvent = UnlockEvent
	f.updateIndicator(now)
}

// ForceLock is an administrative override into lockout.
func (f *FSM) ForceLock(now time.Time) {
	f.status.Unlocked = false
	f.status.UnlockTime = now
	f.transitionTo(LockedOut, now)
	f.updateIndicator(now)
}

// AtGate reports whether the value sits within tolerance of the gate
// value. It is an independent query, not a state transition.
func (f *FSM) AtGate(value float32) bool {
	diff := value - f.cfg.GateValue
	return diff >= -gateTolerance && diff <= gateTolerance
}

// UnlockDuration returns how long the sequencer has been unlocked, or 0.
func (f *FSM) UnlockDuration(now time.Time) time.Duration {
	if !f.status.Unlocked {
		return 0
	}
	return now.Sub(f.status.UnlockTime)
}

// Status returns a copy of the current status.
func (f *FSM) Status() Status {
	return f.status
}

// State returns the current state.
func (f *FSM) State() State {
	return f.status.State
}

// IsUnlocked reports whether the sequencer is currently unlocked.
func (f *FSM) IsUnlocked() bool {
	return f.status.Unlocked
}

// OnUnlock registers the unlock callback. It is invoked synchronously
// from inside Update (or ForceUnlock); the body must be fast.
func (f *FSM) OnUnlock(cb func()) {
	f.callback = cb
}

// SetIndicator attaches the external indicator output.
func (f *FSM) SetIndicator(ind Indicator) {
	f.indicator = ind
}

// SetHighThreshold updates the rising threshold. Rejected unless the
// value stays in (0, 1] and above the low threshold.
func (f *FSM) SetHighThreshold(v float32) {
	if v > f.cfg.LowThreshold && v <= 1 {
		f.cfg.HighThreshold = v
		f.rebuildEdge()
	}
}

// SetLowThreshold updates the re-arm threshold. Rejected unless the
// value stays positive and below the high threshold.
func (f *FSM) SetLowThreshold(v float32) {
	if v > 0 && v < f.cfg.HighThreshold {
		f.cfg.LowThreshold = v
		f.rebuildEdge()
	}
}

// HighThreshold returns the last accepted rising threshold.
func (f *FSM) HighThreshold() float32 {
	return f.cfg.HighThreshold
}

// LowThreshold returns the last accepted re-arm threshold.
func (f *FSM) LowThreshold() float32 {
	return f.cfg.LowThreshold
}

// rebuildEdge recreates the edge detector with current thresholds,
// preserving its output state.
func (f *FSM) rebuildEdge() {
	state := f.edge.State()
	f.edge = trigger.NewSchmitt(f.cfg.HighThreshold, f.cfg.LowThreshold)
	f.edge.SetState(state)
}

// updateIndicator drives the external indicator: solid while unlocked,
// blinking during the crossing sequence, off otherwise.
func (f *FSM) updateIndicator(now time.Time) {
	if f.indicator == nil {
		return
	}
	switch {
	case f.status.State == Unlocked:
		f.indicator.Set(true)
	case f.status.State >= Crossing1 && f.status.State <= Crossing3:
		f.indicator.Set((now.UnixMilli()/blinkPeriod.Milliseconds())%2 == 0)
	default:
		f.indicator.Set(false)
	}
}

// Reset returns the sequencer to its initial state.
func (f *FSM) Reset() {
	f.status = Status{State: Idle}
	f.entered = time.Time{}
	f.edge.SetState(false)
	f.debounce.Reset()
	if f.indicator != nil {
		f.indicator.Set(false)
	}
}
