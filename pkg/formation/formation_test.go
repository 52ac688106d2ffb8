package formation

import (
	"testing"
	"time"

	"github.com/itohio/gopsc/pkg/config"
	"github.com/itohio/gopsc/pkg/field"
	"github.com/itohio/gopsc/pkg/phase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndicator struct {
	on   bool
	sets int
}

func (f *fakeIndicator) Set(on bool) {
	f.on = on
	f.sets++
}

func activeField(n int) [field.SensorCount]float32 {
	var readings [field.SensorCount]float32
	for i := 0; i < n && i < field.SensorCount; i++ {
		readings[i] = 0.9
	}
	return readings
}

func feed(d *Detector, readings [field.SensorCount]float32, z float32, start time.Time, cycles int) Metrics {
	var m Metrics
	for i := 0; i < cycles; i++ {
		m = d.Update(readings, z, start.Add(time.Duration(i)*50*time.Millisecond))
	}
	return m
}

func TestUpdate_FormationDetected(t *testing.T) {
	d := New(config.Default().Formation)
	now := time.Unix(1000, 0)

	var fired []Metrics
	d.OnFormed(func(m Metrics) { fired = append(fired, m) })

	// Identical frames give zero pooled variance, so coherence saturates;
	// z exactly on the Mid/High boundary gives negentropy 1; ten active
	// sensors satisfy the activity criterion.
	m := feed(d, activeField(10), phase.BoundaryMidHigh, now, 5)

	assert.InDelta(t, 1.0, m.Kappa, 1e-5)
	assert.Equal(t, float32(1.0), m.Eta)
	assert.Equal(t, 10, m.Activity)
	assert.True(t, m.Formed)

	st := d.Status()
	assert.True(t, st.Active)
	assert.Equal(t, 1, st.TotalFormations)
	require.Len(t, fired, 1) // callback exactly once despite staying formed
	assert.True(t, fired[0].Formed)
}

func TestUpdate_InsufficientActivity(t *testing.T) {
	d := New(config.Default().Formation)
	now := time.Unix(1000, 0)

	m := feed(d, activeField(5), phase.BoundaryMidHigh, now, 5)

	assert.InDelta(t, 1.0, m.Kappa, 1e-5)
	assert.True(t, m.EtaSatisfied)
	assert.Equal(t, 5, m.Activity)
	assert.False(t, m.ActivitySatisfied)
	assert.False(t, m.Formed)
	assert.Equal(t, 0, d.Status().TotalFormations)
}

func TestUpdate_FirstCycleCoherenceZero(t *testing.T) {
	d := New(config.Default().Formation)

	// A single snapshot has no variance estimate yet.
	m := d.Update(activeField(19), 0.5, time.Unix(1000, 0))
	assert.Equal(t, float32(0), m.Kappa)
}

func TestUpdate_NoisyFieldLowCoherence(t *testing.T) {
	d := New(config.Default().Formation)
	now := time.Unix(1000, 0)

	// Alternate between two very different patterns: pooled variance is
	// large and coherence collapses.
	a := activeField(19)
	var b [field.SensorCount]float32
	var m Metrics
	for i := 0; i < 16; i++ {
		r := a
		if i%2 == 1 {
			r = b
		}
		m = d.Update(r, 0.5, now.Add(time.Duration(i)*50*time.Millisecond))
	}
	assert.Less(t, m.Kappa, float32(0.5))
}

func TestNegentropy_FallsOffBoundary(t *testing.T) {
	d := New(config.Default().Formation)
	now := time.Unix(1000, 0)

	m := feed(d, activeField(10), 0.5, now, 3)
	assert.Less(t, m.Eta, float32(0.62)) // well off the boundary
	assert.False(t, m.EtaSatisfied)
}

func TestUpdate_DurationAndReformation(t *testing.T) {
	d := New(config.Default().Formation)
	now := time.Unix(1000, 0)

	var fires int
	d.OnFormed(func(Metrics) { fires++ })

	feed(d, activeField(10), phase.BoundaryMidHigh, now, 5)
	require.True(t, d.Status().Active)
	// Formation begins on the second cycle, once a variance estimate exists.
	assert.Equal(t, 150*time.Millisecond, d.Status().Duration)

	// Drop activity: formation ends.
	d.Update(activeField(2), phase.BoundaryMidHigh, now.Add(time.Second))
	assert.False(t, d.Status().Active)

	// Reform: second callback, incremented lifetime count.
	feed(d, activeField(10), phase.BoundaryMidHigh, now.Add(2*time.Second), 3)
	assert.Equal(t, 2, d.Status().TotalFormations)
	assert.Equal(t, 2, fires)
}

func TestPeaks_Monotonic(t *testing.T) {
	d := New(config.Default().Formation)
	now := time.Unix(1000, 0)

	feed(d, activeField(10), phase.BoundaryMidHigh, now, 5)
	st := d.Status()
	require.Greater(t, st.PeakKappa, float32(0.9))
	require.Equal(t, float32(1.0), st.PeakEta)

	// Worse metrics later never lower the peaks.
	d.Update(activeField(2), 0.1, now.Add(time.Second))
	st2 := d.Status()
	assert.Equal(t, st.PeakKappa, st2.PeakKappa)
	assert.Equal(t, st.PeakEta, st2.PeakEta)
}

func TestIndicator_SolidWhenFormed(t *testing.T) {
	d := New(config.Default().Formation)
	ind := &fakeIndicator{}
	d.SetIndicator(ind)
	now := time.Unix(1000, 0)

	feed(d, activeField(10), phase.BoundaryMidHigh, now, 5)
	assert.True(t, ind.on)
	assert.Equal(t, 5, ind.sets) // driven every cycle
}

func TestIndicator_OffWhenQuiet(t *testing.T) {
	d := New(config.Default().Formation)
	ind := &fakeIndicator{}
	d.SetIndicator(ind)

	var quiet [field.SensorCount]float32
	d.Update(quiet, 0.1, time.Unix(1000, 0))
	assert.False(t, ind.on)
}

func TestSetters_Validation(t *testing.T) {
	d := New(config.Default().Formation)

	d.SetCoherenceWindow(0) // rejected
	assert.Equal(t, 32, d.coherenceWindow)
	d.SetCoherenceWindow(16)
	assert.Equal(t, 16, d.coherenceWindow)
	d.SetCoherenceWindow(HistorySize + 1) // rejected
	assert.Equal(t, 16, d.coherenceWindow)

	d.SetThresholds(1.5, 0.7, 100) // kappa and activity rejected, eta accepted
	assert.Equal(t, float32(0.92), d.kappaThreshold)
	assert.Equal(t, float32(0.7), d.etaThreshold)
	assert.Equal(t, 7, d.activityRequired)
}

func TestReset(t *testing.T) {
	d := New(config.Default().Formation)
	now := time.Unix(1000, 0)

	feed(d, activeField(10), phase.BoundaryMidHigh, now, 5)
	require.Equal(t, 1, d.Status().TotalFormations)

	d.Reset()
	st := d.Status()
	assert.False(t, st.Active)
	assert.Equal(t, 0, st.TotalFormations)
	assert.Equal(t, float32(0), st.PeakKappa)

	// First post-reset cycle has no history again.
	m := d.Update(activeField(10), 0.5, now.Add(time.Minute))
	assert.Equal(t, float32(0), m.Kappa)
}
