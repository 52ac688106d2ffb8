package fuse

import (
	"testing"
	"time"

	"github.com/itohio/gopsc/pkg/field"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert_Normalization(t *testing.T) {
	var raw field.RawFrame
	raw.Timestamp = time.Now()
	for i := range raw.Readings {
		raw.Readings[i] = 4095 // full scale
	}
	raw.Magnetic = 4095

	snap := Convert(raw)

	for _, r := range snap.Readings {
		assert.InDelta(t, 1.0, r, 1e-6)
	}
	assert.InDelta(t, 100.0, snap.Magnetic, 1e-4)
	assert.Equal(t, raw.Timestamp, snap.Timestamp)
}

func TestFuseZ_Bounds(t *testing.T) {
	var readings [field.SensorCount]float32

	// All-zero field fuses to zero.
	assert.Equal(t, float32(0), FuseZ(readings))

	// Any field stays inside [0, 1].
	for i := range readings {
		readings[i] = 1
	}
	z := FuseZ(readings)
	assert.GreaterOrEqual(t, z, float32(0))
	assert.LessOrEqual(t, z, float32(1))
}

func TestFuseZ_CenterEmphasis(t *testing.T) {
	var flat, centered [field.SensorCount]float32
	for i := range flat {
		flat[i] = 0.1
	}
	centered = flat
	centered[field.CenterSensor] = 1.0

	// A strong center reading must raise the fused signal: the blend
	// weights the squared center channel directly.
	assert.Greater(t, FuseZ(centered), FuseZ(flat))
}

func TestFuseZ_AnisotropyRaisesSignal(t *testing.T) {
	var uniform, lopsided [field.SensorCount]float32
	for i := range uniform {
		uniform[i] = 0.5
	}
	// Pile all activity on one side of the array.
	lopsided[0] = 1
	lopsided[1] = 1
	lopsided[2] = 1
	lopsided[3] = 1

	// A uniform ring cancels in the opposite-sector differences, while a
	// one-sided pattern does not.
	assert.Greater(t, FuseZ(lopsided), FuseZ(uniform)-0.2)
}

func TestNewConverter_Pipeline(t *testing.T) {
	in := make(chan field.RawFrame, 4)
	out := NewConverter(4)(in)

	var raw field.RawFrame
	raw.Timestamp = time.Now()
	raw.Readings[field.CenterSensor] = 2048
	in <- raw
	close(in)

	snap, ok := <-out
	require.True(t, ok)
	assert.InDelta(t, 0.5, snap.Readings[field.CenterSensor], 0.01)

	_, ok = <-out
	assert.False(t, ok) // converter closes its output when input closes
}
