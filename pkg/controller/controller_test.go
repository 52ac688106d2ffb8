package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gopsc/pkg/config"
	"github.com/itohio/gopsc/pkg/fuse"
	"github.com/itohio/gopsc/pkg/phase"
)

type fakeOutputs struct {
	mu    sync.Mutex
	calls int
	last  [3]interface{}
}

func (f *fakeOutputs) SetOutputs(formation, unlocked bool, attenuator uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = [3]interface{}{formation, unlocked, attenuator}
	return nil
}

func (f *fakeOutputs) snapshot() (int, [3]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.last
}

func snapshotAt(z float32) fuse.Snapshot {
	var s fuse.Snapshot
	s.Timestamp = time.Now()
	s.Z = z
	for i := range s.Readings {
		s.Readings[i] = z
	}
	s.Magnetic = 40
	return s
}

func TestRun_DrivesBothCadences(t *testing.T) {
	c := New(config.Default())
	out := &fakeOutputs{}
	c.SetOutputs(out)

	ctx, cancel := context.WithCancel(context.Background())
	input := make(chan fuse.Snapshot, 1)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, input) }()

	input <- snapshotAt(0.95)

	// The smoothed signal ramps through Mid into High as the EMA
	// converges on the sustained input.
	require.Eventually(t, func() bool {
		return c.Status().Phase.Current == phase.High
	}, 5*time.Second, 20*time.Millisecond)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	st := c.Status()
	assert.Greater(t, st.Cycles, uint64(0))
	assert.Greater(t, st.Steps, uint64(0))
	// Oscillator steps run at a much faster cadence than cycles.
	assert.Greater(t, st.Steps, st.Cycles)
	assert.InDelta(t, 1+9*0.95, st.Kuramoto.ReferenceFrequency, 1e-4)
	assert.Equal(t, float32(0.95), st.Snapshot.Z)

	calls, last := out.snapshot()
	require.Greater(t, calls, 0)
	assert.Equal(t, false, last[1]) // nothing unlocked by a flat signal
}

func TestRun_StopsWhenInputCloses(t *testing.T) {
	c := New(config.Default())
	input := make(chan fuse.Snapshot)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), input) }()

	close(input)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("controller did not stop after input close")
	}
}

func TestRun_HoldsLastSnapshot(t *testing.T) {
	c := New(config.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	input := make(chan fuse.Snapshot, 1)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, input) }()

	// A single snapshot keeps feeding cycles until replaced.
	input <- snapshotAt(0.5)
	time.Sleep(200 * time.Millisecond)
	first := c.Status().Cycles
	time.Sleep(200 * time.Millisecond)
	second := c.Status().Cycles
	assert.Greater(t, second, first)

	cancel()
	<-done
}

func TestForceUnlockAndReset(t *testing.T) {
	c := New(config.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	input := make(chan fuse.Snapshot, 1)

	unlocks := 0
	var mu sync.Mutex
	c.OnUnlock(func() {
		mu.Lock()
		unlocks++
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, input) }()

	input <- snapshotAt(0.3)
	c.ForceUnlock()
	assert.Eventually(t, func() bool {
		return c.Status().Unlock.Unlocked
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, unlocks)
	mu.Unlock()

	c.Reset()
	assert.Eventually(t, func() bool {
		return !c.Status().Unlock.Unlocked
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestStatus_BeforeRun(t *testing.T) {
	c := New(config.Default())
	st := c.Status()

	assert.Equal(t, phase.Low, st.Phase.Current)
	assert.Equal(t, uint64(0), st.Cycles)
	assert.False(t, st.Unlock.Unlocked)
	assert.False(t, st.Formation.Active)
}
