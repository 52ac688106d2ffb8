// Package trigger provides small hysteresis and debouncing primitives
// shared by the phase engine and the unlock sequencer.
package trigger

import "time"

// Schmitt is a comparator with separate rising and falling thresholds.
// The output goes high when the input reaches High and returns low only
// after the input drops below Low, so inputs dithering inside the dead
// band do not toggle the output.
type Schmitt struct {
	high  float32
	low   float32
	state bool
}

// NewSchmitt creates a Schmitt trigger. high must be greater than low;
// if it is not, the two are swapped.
func NewSchmitt(high, low float32) *Schmitt {
	if high < low {
		high, low = low, high
	}
	return &Schmitt{high: high, low: low}
}

// Update feeds a new input value. It returns the output state after the
// update and whether the state changed on this call.
func (s *Schmitt) Update(v float32) (state, changed bool) {
	switch {
	case !s.state && v >= s.high:
		s.state = true
		changed = true
	case s.state && v < s.low:
		s.state = false
		changed = true
	}
	return s.state, changed
}

// State returns the current output without feeding a new value.
func (s *Schmitt) State() bool {
	return s.state
}

// SetState forces the output, e.g. when restoring a known condition
// after a reset.
func (s *Schmitt) SetState(state bool) {
	s.state = state
}

// Thresholds returns the rising and falling thresholds.
func (s *Schmitt) Thresholds() (high, low float32) {
	return s.high, s.low
}

// Debouncer enforces a minimum interval between recognized events.
// A single Debouncer may gate several edge sources that share one
// recognition budget.
type Debouncer struct {
	interval time.Duration
	last     time.Time
}

// NewDebouncer creates a Debouncer with the given minimum interval.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Ready reports whether enough time has passed since the last marked
// event. The first call is always ready.
func (d *Debouncer) Ready(now time.Time) bool {
	if d.last.IsZero() {
		return true
	}
	return now.Sub(d.last) >= d.interval
}

// Mark records an accepted event at the given time.
func (d *Debouncer) Mark(now time.Time) {
	d.last = now
}

// Reset clears the last-event record.
func (d *Debouncer) Reset() {
	d.last = time.Time{}
}
