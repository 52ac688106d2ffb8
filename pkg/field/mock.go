package field

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/gopsc/pkg/config"
)

// Mock simulates a sensor hub device for testing and development.
// It alternates between a noisy baseline and periodic coherent surge
// episodes during which all channels settle near a common high level,
// which drives the fused signal toward the upper phase boundary.
type Mock struct {
	cfg *config.MockConfig

	frames    chan RawFrame
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool

	// Last commanded outputs
	formationLED bool
	unlockLED    bool
	attenuator   uint8

	// Simulation state
	startTime time.Time
}

// NewMock creates a new mocked device instance.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		cfg = &config.MockConfig{
			NoiseLevel:    0.02,
			Bias:          0.2,
			SurgePeriod:   20 * time.Second,
			SurgeDuration: 5 * time.Second,
			FrameRate:     20 * time.Millisecond,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Mock{
		cfg:    cfg,
		frames: make(chan RawFrame, DefaultBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect simulates connecting to the device.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	m.startTime = time.Now()

	// Start generating frames
	go m.generateFrames()

	return nil
}

// Close stops the mocked device.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	m.cancel()
	m.connected = false
	close(m.frames)

	return nil
}

// Frames returns the channel for reading frames.
func (m *Mock) Frames() <-chan RawFrame {
	return m.frames
}

// SetOutputs records the commanded outputs (simulated).
func (m *Mock) SetOutputs(formation, unlocked bool, attenuator uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return fmt.Errorf("not connected")
	}

	m.formationLED = formation
	m.unlockLED = unlocked
	m.attenuator = attenuator

	return nil
}

// Outputs returns the last commanded indicator states and attenuator step.
func (m *Mock) Outputs() (formation, unlocked bool, attenuator uint8) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.formationLED, m.unlockLED, m.attenuator
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// generateFrames generates simulated frames at the configured rate.
func (m *Mock) generateFrames() {
	ticker := time.NewTicker(m.cfg.FrameRate)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			frame := m.generateFrame()
			select {
			case m.frames <- frame:
			case <-m.ctx.Done():
				return
			default:
				// Channel full, skip
			}
		}
	}
}

// generateFrame generates a single simulated frame.
func (m *Mock) generateFrame() RawFrame {
	m.mu.RLock()
	elapsed := time.Since(m.startTime)
	m.mu.RUnlock()

	// Surge episodes repeat every SurgePeriod and last SurgeDuration.
	inSurge := elapsed%m.cfg.SurgePeriod < m.cfg.SurgeDuration

	// Baseline sits at the bias level; during a surge all channels ramp
	// toward a common high level so the field looks coherent and active.
	level := m.cfg.Bias
	if inSurge {
		surgeT := float32((elapsed % m.cfg.SurgePeriod).Seconds())
		ramp := surgeT / float32(m.cfg.SurgeDuration.Seconds())
		if ramp > 1 {
			ramp = 1
		}
		level = m.cfg.Bias + (0.93-m.cfg.Bias)*ramp
	}

	t := float32(elapsed.Seconds())

	var frame RawFrame
	frame.Timestamp = time.Now()
	for i := 0; i < SensorCount; i++ {
		// Deterministic per-channel dither; quieter during surges so the
		// pooled variance drops and coherence rises.
		noise := math32.Sin(t*13.7+float32(i)*1.93) * m.cfg.NoiseLevel
		if inSurge {
			noise *= 0.1
		}
		v := level + noise
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		frame.Readings[i] = uint16(v * adcMax)
	}

	// Slowly wandering ambient field magnitude.
	mag := 0.3 + 0.1*math32.Sin(t*0.2)
	frame.Magnetic = uint16(mag * adcMax)

	return frame
}
