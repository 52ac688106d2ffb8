package kuramoto

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gopsc/pkg/config"
)

func newStabilizer() *Stabilizer {
	return New(config.Default().Kuramoto)
}

func TestNew(t *testing.T) {
	s := newStabilizer()
	st := s.Status()

	// The splay initial condition has zero order parameter.
	assert.InDelta(t, 0.0, st.OrderParameter, 1e-5)
	assert.Equal(t, float32(2.0), st.ReferenceFrequency)
	assert.Equal(t, float32(0.3514), st.Coupling)
	assert.Equal(t, float32(0.3514), st.EffectiveCoupling)
	assert.False(t, st.Synchronized)
	assert.Len(t, s.Phases(), Oscillators)
}

func TestOrderParameter(t *testing.T) {
	// All phases equal: full synchrony.
	equal := make([]float32, Oscillators)
	for i := range equal {
		equal[i] = 1.3
	}
	r, psi := OrderParameter(equal)
	assert.InDelta(t, 1.0, r, 1e-5)
	assert.InDelta(t, 1.3, psi, 1e-5)

	// Evenly spaced phases: phasors cancel.
	splay := make([]float32, Oscillators)
	for i := range splay {
		splay[i] = float32(i) * twoPi / Oscillators
	}
	r, _ = OrderParameter(splay)
	assert.InDelta(t, 0.0, r, 1e-5)

	r, psi = OrderParameter(nil)
	assert.Equal(t, float32(0), r)
	assert.Equal(t, float32(0), psi)
}

func TestStep_Synchronizes(t *testing.T) {
	cfg := config.Default().Kuramoto
	cfg.RelaxationTime = 1e6 // effectively no relaxation pull
	s := New(cfg)
	s.SetCoupling(1.0)

	syncs := 0
	var syncR float32
	s.OnSynchronized(func(r float32) {
		syncs++
		syncR = r
	})

	for i := 0; i < 4000; i++ {
		s.Step(0.005)
	}

	st := s.Status()
	require.True(t, st.Synchronized)
	assert.Greater(t, st.OrderParameter, float32(0.95))
	assert.Equal(t, 1, syncs)
	assert.GreaterOrEqual(t, syncR, cfg.SyncThreshold)
	assert.Greater(t, st.SyncDuration, float32(1.0))
	assert.Equal(t, 1, st.Crossings)
}

func TestStep_NoCouplingStaysIncoherent(t *testing.T) {
	cfg := config.Default().Kuramoto
	cfg.RelaxationTime = 1e6
	s := New(cfg)
	s.SetCoupling(0)

	for i := 0; i < 100; i++ {
		s.Step(0.005)
	}

	assert.Less(t, s.Status().OrderParameter, float32(0.5))
	assert.False(t, s.IsSynchronized())
}

func TestStep_IgnoresNonPositiveDt(t *testing.T) {
	s := newStabilizer()
	before := s.Status()
	s.Step(0)
	s.Step(-0.005)
	assert.Equal(t, before, s.Status())
}

func TestUpdateFromZ(t *testing.T) {
	s := newStabilizer()

	s.UpdateFromZ(0)
	assert.Equal(t, float32(1), s.ReferenceFrequency())
	s.UpdateFromZ(1)
	assert.Equal(t, float32(10), s.ReferenceFrequency())
	s.UpdateFromZ(0.5)
	assert.InDelta(t, 5.5, s.ReferenceFrequency(), 1e-5)
}

func TestSetReferenceFrequency(t *testing.T) {
	s := newStabilizer()

	s.SetReferenceFrequency(7)
	assert.Equal(t, float32(7), s.ReferenceFrequency())

	// Out-of-range values are rejected.
	s.SetReferenceFrequency(0)
	assert.Equal(t, float32(7), s.ReferenceFrequency())
	s.SetReferenceFrequency(1500)
	assert.Equal(t, float32(7), s.ReferenceFrequency())
}

func TestSetCoupling(t *testing.T) {
	s := newStabilizer()

	s.SetCoupling(0.5)
	assert.Equal(t, float32(0.5), s.Status().Coupling)

	s.SetCoupling(2)
	assert.Equal(t, float32(1), s.Status().Coupling)
	assert.Equal(t, uint8(0), s.AttenuatorStep())

	s.SetCoupling(-1)
	assert.Equal(t, float32(0), s.Status().Coupling)
	assert.Equal(t, uint8(255), s.AttenuatorStep())
}

func TestApplyMagneticModulation(t *testing.T) {
	s := newStabilizer() // base coupling 0.3514

	k := s.ApplyMagneticModulation(100)
	assert.InDelta(t, 0.4014, k, 1e-4)
	assert.InDelta(t, 0.4014, s.Status().EffectiveCoupling, 1e-4)
	// Base coupling is untouched.
	assert.Equal(t, float32(0.3514), s.Status().Coupling)

	// Saturation at both ends.
	assert.Equal(t, float32(1), s.ApplyMagneticModulation(1e6))
	s.SetCoupling(0)
	assert.Equal(t, float32(0.1), s.ApplyMagneticModulation(0))
}

type fakeAttenuator struct {
	step uint8
	sets int
}

func (a *fakeAttenuator) Set(step uint8) {
	a.step = step
	a.sets++
}

func TestAttenuatorMirror(t *testing.T) {
	s := newStabilizer()
	att := &fakeAttenuator{}

	s.SetAttenuator(att)
	require.Equal(t, 1, att.sets) // mirrored on attach
	assert.Equal(t, uint8(165), att.step)

	s.SetCoupling(1)
	assert.Equal(t, uint8(0), att.step)

	s.ApplyMagneticModulation(50)
	assert.Equal(t, uint8(0), att.step) // still saturated
}

func TestSetDiagnosticThresholds(t *testing.T) {
	s := newStabilizer()

	// Invalid tunings leave the counter untouched; this just must not
	// panic or invert the comparator.
	s.SetDiagnosticThresholds(0.5, 0.9)
	s.SetDiagnosticThresholds(1.5, 0.2)
	s.SetDiagnosticThresholds(0.9, 0.8)
}

func TestReset_Replay(t *testing.T) {
	cfg := config.Default().Kuramoto
	a := New(cfg)
	b := New(cfg)

	drive := func(s *Stabilizer) {
		s.UpdateFromZ(0.7)
		s.SetCoupling(0.8)
		for i := 0; i < 500; i++ {
			s.Step(0.005)
		}
	}

	drive(a)
	drive(b)
	assert.Equal(t, a.Status(), b.Status())

	// Reset restores the initial state and the same drive replays to
	// the same output.
	a.Reset()
	st := a.Status()
	assert.InDelta(t, 0.0, st.OrderParameter, 1e-5)
	assert.Equal(t, float32(cfg.BaseFrequency), st.ReferenceFrequency)
	assert.False(t, st.Synchronized)
	assert.Equal(t, 0, st.Crossings)

	drive(a)
	assert.Equal(t, b.Status(), a.Status())
}

func TestWrapAngle(t *testing.T) {
	assert.InDelta(t, 1.0, wrapAngle(1+twoPi), 1e-5)
	assert.InDelta(t, twoPi-1, wrapAngle(-1), 1e-5)
	assert.InDelta(t, 0.5, wrapSigned(0.5), 1e-6)
	assert.InDelta(t, -0.5, wrapSigned(twoPi-0.5), 1e-5)
	assert.InDelta(t, 0.0, math32.Abs(wrapSigned(twoPi)), 1e-5)
}
