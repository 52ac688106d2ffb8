package unlock

import (
	"testing"
	"time"

	"github.com/itohio/gopsc/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFSM() *FSM {
	return New(config.Default().Unlock)
}

// drive feeds values spaced far enough apart to satisfy the debounce gate.
func drive(f *FSM, start time.Time, values ...float32) []Event {
	events := make([]Event, 0, len(values))
	for i, v := range values {
		events = append(events, f.Update(v, start.Add(time.Duration(i)*200*time.Millisecond)))
	}
	return events
}

func TestNew(t *testing.T) {
	f := newFSM()
	assert.Equal(t, Idle, f.State())
	assert.False(t, f.IsUnlocked())
	assert.Equal(t, 0, f.Status().CrossingCount)
}

func TestUpdate_FullSequenceUnlocks(t *testing.T) {
	f := newFSM()
	start := time.Unix(1000, 0)

	unlocks := 0
	f.OnUnlock(func() { unlocks++ })

	events := drive(f, start, 0.5, 0.90, 0.70, 0.90, 0.70, 0.90)

	assert.Equal(t, Unlocked, f.State())
	assert.Equal(t, 3, f.Status().CrossingCount)
	assert.Equal(t, 1, unlocks)
	assert.True(t, f.IsUnlocked())

	// The last cycle both records the third crossing and completes the
	// sequence.
	assert.Equal(t, UnlockEvent, events[5])
	assert.Equal(t, RisingEdge, events[1])
	assert.Equal(t, FallingEdge, events[2])
}

func TestUpdate_ArmsOnlyBelowLow(t *testing.T) {
	f := newFSM()
	start := time.Unix(1000, 0)

	f.Update(0.84, start) // above low: stays Idle
	assert.Equal(t, Idle, f.State())
	f.Update(0.5, start.Add(200*time.Millisecond))
	assert.Equal(t, Armed, f.State())
}

func TestUpdate_DebounceDropsFastEdges(t *testing.T) {
	f := newFSM()
	start := time.Unix(1000, 0)

	f.Update(0.5, start) // Armed
	f.Update(0.90, start.Add(200*time.Millisecond))
	require.Equal(t, Crossing1, f.State())

	// Falling and rising edges inside the debounce window are dropped.
	f.Update(0.5, start.Add(210*time.Millisecond))
	assert.Equal(t, Crossing1, f.State())
	f.Update(0.90, start.Add(220*time.Millisecond))
	assert.Equal(t, Crossing1, f.State())
	assert.Equal(t, 1, f.Status().CrossingCount)
}

func TestUpdate_FallingEdgeDoesNotResetSequence(t *testing.T) {
	f := newFSM()
	start := time.Unix(1000, 0)

	drive(f, start, 0.5, 0.90, 0.70)
	st := f.Status()
	assert.Equal(t, Crossing1, st.State)
	assert.Equal(t, 1, st.CrossingCount) // count preserved
	assert.True(t, st.Rearmed)
	assert.Equal(t, FallingEdge, st.LastEvent)
}

func TestUpdate_SequenceTimeout(t *testing.T) {
	f := newFSM()
	start := time.Unix(1000, 0)

	f.Update(0.5, start)
	f.Update(0.90, start.Add(200*time.Millisecond))
	require.Equal(t, Crossing1, f.State())

	// Stall inside the band: one Timeout event, reset to Idle.
	ev := f.Update(0.84, start.Add(11*time.Second))
	assert.Equal(t, Timeout, ev)
	assert.Equal(t, Idle, f.State())
	assert.Equal(t, 0, f.Status().CrossingCount)

	// No repeated timeout on the next cycle.
	ev = f.Update(0.84, start.Add(12*time.Second))
	assert.Equal(t, None, ev)
	assert.Equal(t, Idle, f.State())
}

func TestUpdate_LockoutAndRecovery(t *testing.T) {
	f := newFSM()
	start := time.Unix(1000, 0)

	drive(f, start, 0.5, 0.90, 0.70, 0.90, 0.70, 0.90)
	require.Equal(t, Unlocked, f.State())
	unlockTime := f.Status().UnlockTime

	// Small dips keep it unlocked; a drop below low-0.1 locks out.
	f.Update(0.75, start.Add(2*time.Second))
	assert.Equal(t, Unlocked, f.State())
	f.Update(0.70, start.Add(3*time.Second))
	assert.Equal(t, LockedOut, f.State())

	// Lockout expires relative to the unlock time.
	ev := f.Update(0.70, unlockTime.Add(6*time.Second))
	assert.Equal(t, LockoutEnd, ev)
	assert.Equal(t, Idle, f.State())
	assert.False(t, f.IsUnlocked())
}

func TestUpdate_CallbackExactlyOnce(t *testing.T) {
	f := newFSM()
	start := time.Unix(1000, 0)

	unlocks := 0
	f.OnUnlock(func() { unlocks++ })

	drive(f, start, 0.5, 0.90, 0.70, 0.90, 0.70, 0.90, 0.90, 0.90)
	assert.Equal(t, 1, unlocks)
}

func TestForceUnlock(t *testing.T) {
	f := newFSM()
	now := time.Unix(1000, 0)

	unlocks := 0
	f.OnUnlock(func() { unlocks++ })

	f.ForceUnlock(now)
	assert.Equal(t, Unlocked, f.State())
	assert.True(t, f.IsUnlocked())
	assert.Equal(t, now, f.Status().UnlockTime)
	assert.Equal(t, 1, unlocks)
	assert.Equal(t, 2*time.Second, f.UnlockDuration(now.Add(2*time.Second)))
}

func TestForceLock(t *testing.T) {
	f := newFSM()
	now := time.Unix(1000, 0)

	f.ForceUnlock(now)
	f.ForceLock(now.Add(time.Second))
	assert.Equal(t, LockedOut, f.State())
	assert.False(t, f.IsUnlocked())
	assert.Equal(t, time.Duration(0), f.UnlockDuration(now.Add(2*time.Second)))
}

func TestAtGate(t *testing.T) {
	f := newFSM() // gate value 0.83

	assert.True(t, f.AtGate(0.83))
	assert.True(t, f.AtGate(0.845))
	assert.True(t, f.AtGate(0.815))
	assert.False(t, f.AtGate(0.86))
	assert.False(t, f.AtGate(0.80))

	// The gate query never changes state.
	assert.Equal(t, Idle, f.State())
}

func TestSetThresholds_Validation(t *testing.T) {
	f := newFSM() // high 0.85, low 0.82

	f.SetLowThreshold(0.9) // would violate low < high: rejected
	assert.Equal(t, float32(0.82), f.LowThreshold())

	f.SetLowThreshold(0.5)
	assert.Equal(t, float32(0.5), f.LowThreshold())

	f.SetHighThreshold(0.4) // would violate low < high: rejected
	assert.Equal(t, float32(0.85), f.HighThreshold())

	f.SetHighThreshold(0.95)
	assert.Equal(t, float32(0.95), f.HighThreshold())
}

type fakeIndicator struct {
	on bool
}

func (f *fakeIndicator) Set(on bool) { f.on = on }

func TestIndicator(t *testing.T) {
	f := newFSM()
	ind := &fakeIndicator{}
	f.SetIndicator(ind)
	start := time.Unix(1000, 0)

	drive(f, start, 0.5, 0.90, 0.70, 0.90, 0.70, 0.90)
	assert.True(t, ind.on) // solid while unlocked
}

func TestReset(t *testing.T) {
	f := newFSM()
	start := time.Unix(1000, 0)

	drive(f, start, 0.5, 0.90, 0.70, 0.90, 0.70, 0.90)
	require.True(t, f.IsUnlocked())

	f.Reset()
	st := f.Status()
	assert.Equal(t, Idle, st.State)
	assert.False(t, st.Unlocked)
	assert.Equal(t, 0, st.CrossingCount)
	assert.Equal(t, None, st.LastEvent)

	// The sequencer runs a fresh sequence after reset.
	unlocks := 0
	f.OnUnlock(func() { unlocks++ })
	drive(f, start.Add(time.Minute), 0.5, 0.90, 0.70, 0.90, 0.70, 0.90)
	assert.Equal(t, 1, unlocks)
}
