// Package controller owns the four processing components and drives
// them on their two cadences from a single goroutine.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/itohio/gopsc/pkg/config"
	"github.com/itohio/gopsc/pkg/formation"
	"github.com/itohio/gopsc/pkg/fuse"
	"github.com/itohio/gopsc/pkg/kuramoto"
	"github.com/itohio/gopsc/pkg/phase"
	"github.com/itohio/gopsc/pkg/unlock"
)

var _ Core = (*Controller)(nil)

// Outputs receives the hardware-facing side effects of a control
// cycle. pkg/field.Device satisfies it.
type Outputs interface {
	SetOutputs(formation, unlocked bool, attenuator uint8) error
}

// Status aggregates the component statuses captured at the end of the
// most recent slow cycle.
type Status struct {
	Phase     phase.State
	Formation formation.Status
	Unlock    unlock.Status
	Kuramoto  kuramoto.Status
	Snapshot  fuse.Snapshot
	Cycles    uint64 // completed slow cycles
	Steps     uint64 // completed oscillator steps
}

// Core is the orchestrator surface the host application consumes.
type Core interface {
	Run(ctx context.Context, input <-chan fuse.Snapshot) error
	Status() Status
	Reset()
	OnFormed(func(formation.Metrics))
	OnUnlock(func())
	OnSynchronized(func(float32))
	ForceUnlock()
	ForceLock()
}

// Controller runs the slow classification cycle (phase, formation,
// unlock, strictly in that order since the sequencer is driven by the
// freshly computed coherence) and the fast oscillator step. All
// component calls happen on the Run goroutine; Status and the
// administrative methods are safe to call from others.
type Controller struct {
	cfg *config.Config

	engine     *phase.Engine
	detector   *formation.Detector
	sequencer  *unlock.FSM
	stabilizer *kuramoto.Stabilizer

	outputs Outputs

	mu      sync.RWMutex
	status  Status
	pending []func() // administrative requests executed on the Run goroutine

	// last values mirrored to the hardware outputs
	sentFormed   bool
	sentUnlocked bool
	sentStep     uint8
	sentAny      bool
}

// New creates a controller and its four components from the config.
func New(cfg *config.Config) *Controller {
	c := &Controller{
		cfg:        cfg,
		engine:     phase.New(cfg.Phase),
		detector:   formation.New(cfg.Formation),
		sequencer:  unlock.New(cfg.Unlock),
		stabilizer: kuramoto.New(cfg.Kuramoto),
	}
	c.status = c.capture(fuse.Snapshot{})
	return c
}

// SetOutputs attaches the hardware output sink. Must be called before
// Run.
func (c *Controller) SetOutputs(out Outputs) {
	c.outputs = out
}

// OnFormed registers the formation callback. Must be called before Run.
func (c *Controller) OnFormed(cb func(formation.Metrics)) {
	c.detector.OnFormed(cb)
}

// OnUnlock registers the unlock callback. Must be called before Run.
func (c *Controller) OnUnlock(cb func()) {
	c.sequencer.OnUnlock(cb)
}

// OnSynchronized registers the synchronization callback. Must be
// called before Run.
func (c *Controller) OnSynchronized(cb func(r float32)) {
	c.stabilizer.OnSynchronized(cb)
}

// Run consumes fused snapshots and drives the components until the
// context is cancelled or the input channel closes. The most recent
// snapshot is sampled and held between cycles.
func (c *Controller) Run(ctx context.Context, input <-chan fuse.Snapshot) error {
	slow := time.NewTicker(c.cfg.Controller.CycleInterval)
	defer slow.Stop()
	fast := time.NewTicker(c.cfg.Controller.StepInterval)
	defer fast.Stop()

	dt := float32(c.cfg.Controller.StepInterval.Seconds())

	var (
		latest fuse.Snapshot
		have   bool
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case snap, ok := <-input:
			if !ok {
				return nil
			}
			latest = snap
			have = true

		case <-fast.C:
			c.runPending()
			if !have {
				continue
			}
			c.stabilizer.UpdateFromZ(latest.Z)
			c.stabilizer.ApplyMagneticModulation(latest.Magnetic)
			c.stabilizer.Step(dt)
			c.publish(latest, false)

		case now := <-slow.C:
			c.runPending()
			if !have {
				continue
			}
			c.engine.Update(latest.Z, now)
			metrics := c.detector.Update(latest.Readings, latest.Z, now)
			c.sequencer.Update(metrics.Kappa, now)
			c.mirrorOutputs()
			c.publish(latest, true)
		}
	}
}

// mirrorOutputs pushes the binary indicators and the attenuator step
// to the hardware sink when any of them changed.
func (c *Controller) mirrorOutputs() {
	if c.outputs == nil {
		return
	}
	formed := c.detector.Status().Active
	unlocked := c.sequencer.IsUnlocked()
	step := c.stabilizer.AttenuatorStep()

	if c.sentAny && formed == c.sentFormed && unlocked == c.sentUnlocked && step == c.sentStep {
		return
	}
	if err := c.outputs.SetOutputs(formed, unlocked, step); err != nil {
		return // transient write failure, retried next cycle
	}
	c.sentFormed, c.sentUnlocked, c.sentStep = formed, unlocked, step
	c.sentAny = true
}

// capture assembles an aggregate status from the current component
// states. Called on the Run goroutine only.
func (c *Controller) capture(snap fuse.Snapshot) Status {
	return Status{
		Phase:     c.engine.State(),
		Formation: c.detector.Status(),
		Unlock:    c.sequencer.Status(),
		Kuramoto:  c.stabilizer.Status(),
		Snapshot:  snap,
	}
}

// publish updates the externally readable status.
func (c *Controller) publish(snap fuse.Snapshot, slowCycle bool) {
	st := c.capture(snap)

	c.mu.Lock()
	st.Cycles = c.status.Cycles
	st.Steps = c.status.Steps + 1
	if slowCycle {
		st.Cycles++
		st.Steps = c.status.Steps
	}
	c.status = st
	c.mu.Unlock()
}

// Status returns the aggregate status from the most recent cycle. Safe
// to call from any goroutine.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// enqueue schedules fn to run on the Run goroutine before the next
// cycle.
func (c *Controller) enqueue(fn func()) {
	c.mu.Lock()
	c.pending = append(c.pending, fn)
	c.mu.Unlock()
}

// runPending drains administrative requests. Called on the Run
// goroutine only.
func (c *Controller) runPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

// ForceUnlock requests an administrative unlock on the next cycle.
func (c *Controller) ForceUnlock() {
	c.enqueue(func() {
		c.sequencer.ForceUnlock(time.Now())
	})
}

// ForceLock requests an administrative lockout on the next cycle.
func (c *Controller) ForceLock() {
	c.enqueue(func() {
		c.sequencer.ForceLock(time.Now())
	})
}

// Reset requests that every component return to its initial state on
// the next cycle.
func (c *Controller) Reset() {
	c.enqueue(func() {
		c.engine.Reset()
		c.detector.Reset()
		c.sequencer.Reset()
		c.stabilizer.Reset()
		c.sentAny = false
	})
}
