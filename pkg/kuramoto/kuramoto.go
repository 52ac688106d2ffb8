// Package kuramoto implements the coupled-oscillator network and the
// PLL that pulls its collective phase onto an external reference.
package kuramoto

import (
	"github.com/chewxy/math32"

	"github.com/itohio/gopsc/pkg/config"
	"github.com/itohio/gopsc/pkg/trigger"
)

// Oscillators is the network size.
const Oscillators = 8

const twoPi = 2 * math32.Pi

// Default thresholds of the diagnostic crossing counter. The counter
// watches the order parameter only; it does not gate anything.
const (
	diagnosticHigh = 0.85
	diagnosticLow  = 0.82
)

// Attenuator is the analog coupling output. The stabilizer mirrors the
// effective coupling to it as an 8-bit attenuation step.
type Attenuator interface {
	Set(step uint8)
}

// Status is the externally visible network status.
type Status struct {
	OrderParameter     float32 // r, 1 = full synchrony
	CollectivePhase    float32 // psi, radians
	PhaseError         float32 // PLL error, radians
	ReferenceFrequency float32 // Hz
	Coupling           float32 // base K
	EffectiveCoupling  float32 // K after magnetic modulation
	Locked             bool    // PLL within lock tolerance
	Synchronized       bool    // order parameter above sync threshold
	SyncDuration       float32 // seconds since synchronization began
	Crossings          int     // diagnostic order-parameter crossings
}

// Stabilizer integrates the oscillator network. Not safe for
// concurrent use; drive it from a single loop.
type Stabilizer struct {
	cfg config.KuramotoConfig

	phases      [Oscillators]float32
	frequencies [Oscillators]float32

	refFreq     float32
	coupling    float32
	couplingEff float32
	integrator  float32
	elapsed     float32 // integrated seconds, drives the reference phase
	syncStart   float32

	status     Status
	edge       *trigger.Schmitt
	callback   func(r float32)
	attenuator Attenuator
}

// New creates a stabilizer with the given tuning. Phases start evenly
// spaced over the circle; natural frequencies are slightly detuned
// around the base frequency, like inhomogeneous broadening.
func New(cfg config.KuramotoConfig) *Stabilizer {
	s := &Stabilizer{
		cfg:  cfg,
		edge: trigger.NewSchmitt(diagnosticHigh, diagnosticLow),
	}
	s.Reset()
	return s
}

// Step advances the network by dt seconds: coupling dynamics,
// relaxation toward the reference ladder, PLL correction, then the
// order parameter and edge bookkeeping. Zero or negative dt is ignored.
func (s *Stabilizer) Step(dt float32) {
	if dt <= 0 {
		return
	}
	s.elapsed += dt

	s.applyCoupling(dt)
	s.applyRelaxation(dt)
	// The PLL sees the collective phase of the previous step.
	s.applyPLL(dt)

	r, psi := OrderParameter(s.phases[:])
	s.status.OrderParameter = r
	s.status.CollectivePhase = psi

	if _, changed := s.edge.Update(r); changed && s.edge.State() {
		s.status.Crossings++
	}

	sync := r >= s.cfg.SyncThreshold
	if sync && !s.status.Synchronized {
		s.syncStart = s.elapsed
		s.status.Synchronized = true
		if s.callback != nil {
			s.callback(r)
		}
	} else if !sync {
		s.status.Synchronized = false
		s.status.SyncDuration = 0
	}
	if s.status.Synchronized {
		s.status.SyncDuration = s.elapsed - s.syncStart
	}
}

// applyCoupling integrates one step of the Kuramoto equation
// dθᵢ/dt = ωᵢ + (K/N)·Σⱼ sin(θⱼ−θᵢ).
func (s *Stabilizer) applyCoupling(dt float32) {
	var next [Oscillators]float32
	for i := range s.phases {
		var sum float32
		for j := range s.phases {
			sum += math32.Sin(s.phases[j] - s.phases[i])
		}
		dtheta := s.frequencies[i] + (s.couplingEff/Oscillators)*sum
		next[i] = wrapAngle(s.phases[i] + dtheta*twoPi*dt)
	}
	s.phases = next
}

// applyRelaxation pulls each phase toward its slot on the reference
// ladder with time constant T1, using the shortest angular distance.
func (s *Stabilizer) applyRelaxation(dt float32) {
	gamma := 1 / s.cfg.RelaxationTime
	ref := s.referencePhase()
	for i := range s.phases {
		target := wrapAngle(ref + float32(i)*twoPi/Oscillators)
		diff := wrapSigned(target - s.phases[i])
		s.phases[i] = wrapAngle(s.phases[i] + gamma*diff*dt)
	}
}

// applyPLL runs the PI controller on the phase error and applies the
// correction uniformly to all natural frequencies.
func (s *Stabilizer) applyPLL(dt float32) {
	err := wrapSigned(s.referencePhase() - s.status.CollectivePhase)
	s.status.PhaseError = err

	s.integrator += s.cfg.IntegralGain * err * dt
	if s.integrator > 1 {
		s.integrator = 1
	} else if s.integrator < -1 {
		s.integrator = -1
	}

	correction := s.cfg.ProportionalGain*err + s.integrator
	for i := range s.frequencies {
		s.frequencies[i] += correction * 0.1
	}

	s.status.Locked = math32.Abs(err) < s.cfg.LockTolerance
}

// referencePhase is where the reference oscillator sits now.
func (s *Stabilizer) referencePhase() float32 {
	return wrapAngle(s.refFreq * twoPi * s.elapsed)
}

// OrderParameter computes the Kuramoto order parameter
// r·e^(iψ) = mean(e^(iθ)) over the given phases.
func OrderParameter(phases []float32) (r, psi float32) {
	if len(phases) == 0 {
		return 0, 0
	}
	var sumCos, sumSin float32
	for _, p := range phases {
		sumCos += math32.Cos(p)
		sumSin += math32.Sin(p)
	}
	n := float32(len(phases))
	r = math32.Sqrt(sumCos*sumCos+sumSin*sumSin) / n
	psi = math32.Atan2(sumSin, sumCos)
	return r, psi
}

// UpdateFromZ maps the fused signal onto the reference frequency:
// 1 Hz at z=0, 10 Hz at z=1.
func (s *Stabilizer) UpdateFromZ(z float32) {
	s.refFreq = 1 + 9*z
	s.status.ReferenceFrequency = s.refFreq
}

// SetReferenceFrequency overrides the reference frequency directly.
// Values outside (0, 1000) Hz are rejected.
func (s *Stabilizer) SetReferenceFrequency(freq float32) {
	if freq > 0 && freq < 1000 {
		s.refFreq = freq
		s.status.ReferenceFrequency = freq
	}
}

// ReferenceFrequency returns the current reference frequency in Hz.
func (s *Stabilizer) ReferenceFrequency() float32 {
	return s.refFreq
}

// SetCoupling sets the base coupling, clamped to [0, 1], and mirrors
// it to the attenuator.
func (s *Stabilizer) SetCoupling(k float32) {
	if k < 0 {
		k = 0
	} else if k > 1 {
		k = 1
	}
	s.coupling = k
	s.couplingEff = k
	s.status.Coupling = k
	s.status.EffectiveCoupling = k
	s.mirrorAttenuator()
}

// ApplyMagneticModulation strengthens the coupling with the ambient
// field magnitude (µT): K_eff = clamp(K + sensitivity·|B|, 0.1, 1.0).
// The effective coupling is mirrored to the attenuator and returned.
func (s *Stabilizer) ApplyMagneticModulation(magnitude float32) float32 {
	k := s.coupling + s.cfg.MagneticSensitivity*math32.Abs(magnitude)
	if k > 1 {
		k = 1
	} else if k < 0.1 {
		k = 0.1
	}
	s.couplingEff = k
	s.status.EffectiveCoupling = k
	s.mirrorAttenuator()
	return k
}

// AttenuatorStep converts the effective coupling to the 8-bit
// attenuation step: K=1 is fully open (step 0), K=0 fully attenuated.
func (s *Stabilizer) AttenuatorStep() uint8 {
	return uint8((1 - s.couplingEff) * 255)
}

func (s *Stabilizer) mirrorAttenuator() {
	if s.attenuator != nil {
		s.attenuator.Set(s.AttenuatorStep())
	}
}

// SetAttenuator attaches the analog coupling output.
func (s *Stabilizer) SetAttenuator(a Attenuator) {
	s.attenuator = a
	s.mirrorAttenuator()
}

// OnSynchronized registers the synchronization callback. It is invoked
// synchronously from inside Step with the order parameter at the
// moment synchronization was reached.
func (s *Stabilizer) OnSynchronized(cb func(r float32)) {
	s.callback = cb
}

// SetDiagnosticThresholds retunes the crossing counter. Rejected
// unless 0 <= low < high <= 1.
func (s *Stabilizer) SetDiagnosticThresholds(high, low float32) {
	if high > low && high <= 1 && low >= 0 {
		state := s.edge.State()
		s.edge = trigger.NewSchmitt(high, low)
		s.edge.SetState(state)
	}
}

// Status returns a copy of the current status.
func (s *Stabilizer) Status() Status {
	return s.status
}

// IsSynchronized reports whether the order parameter is above the
// synchronization threshold.
func (s *Stabilizer) IsSynchronized() bool {
	return s.status.Synchronized
}

// Phases returns a copy of the oscillator phases.
func (s *Stabilizer) Phases() []float32 {
	out := make([]float32, Oscillators)
	copy(out, s.phases[:])
	return out
}

// Reset returns the network to its initial state: evenly spaced
// phases, detuned natural frequencies, a cleared PLL and a zeroed
// clock, so a replayed step sequence reproduces identical output.
func (s *Stabilizer) Reset() {
	for i := range s.phases {
		s.phases[i] = float32(i) * twoPi / Oscillators
		s.frequencies[i] = s.cfg.BaseFrequency * (1 + 0.01*(float32(i)-Oscillators/2))
	}

	s.refFreq = s.cfg.BaseFrequency
	s.coupling = s.cfg.BaseCoupling
	s.couplingEff = s.cfg.BaseCoupling
	s.integrator = 0
	s.elapsed = 0
	s.syncStart = 0

	r, psi := OrderParameter(s.phases[:])
	s.status = Status{
		OrderParameter:     r,
		CollectivePhase:    psi,
		ReferenceFrequency: s.refFreq,
		Coupling:           s.coupling,
		EffectiveCoupling:  s.couplingEff,
	}
	s.edge.SetState(false)
	s.mirrorAttenuator()
}

// wrapAngle wraps an angle to [0, 2π).
func wrapAngle(a float32) float32 {
	a = math32.Mod(a, twoPi)
	if a < 0 {
		a += twoPi
	}
	return a
}

// wrapSigned wraps an angular difference to (−π, π].
func wrapSigned(a float32) float32 {
	for a > math32.Pi {
		a -= twoPi
	}
	for a < -math32.Pi {
		a += twoPi
	}
	return a
}
