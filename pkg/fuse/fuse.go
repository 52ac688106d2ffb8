// Package fuse converts raw sensor-hub frames into normalized field
// snapshots with a fused scalar signal.
package fuse

import (
	"log"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/gopsc/pkg/field"
)

const (
	// adcMax is the full-scale 12-bit ADC count.
	adcMax = 4095.0
	// magFullScale is the magnetometer full-scale magnitude in microtesla.
	magFullScale = 100.0
	// phiInv is the inverse golden ratio, used as the fusion blend weight.
	phiInv = 0.6180339887
)

// Snapshot represents a processed field snapshot with normalized values.
type Snapshot struct {
	Timestamp time.Time
	Readings  [field.SensorCount]float32 // normalized readings [0, 1]
	Z         float32                    // fused scalar signal [0, 1]
	Magnetic  float32                    // magnetic field magnitude (uT)
}

// Converter is a function type that converts a RawFrame channel to a
// Snapshot channel.
type Converter func(in <-chan field.RawFrame) <-chan Snapshot

// NewConverter creates a converter function that transforms RawFrame to Snapshot.
func NewConverter(bufSize int) Converter {
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan field.RawFrame) <-chan Snapshot {
		out := make(chan Snapshot, bufSize)

		go func() {
			defer close(out)

			for raw := range in {
				snap := Convert(raw)

				select {
				case out <- snap:
				case <-time.After(time.Second):
					log.Printf("Converter output channel full, dropping snapshot")
				}
			}
		}()

		return out
	}
}

// Convert converts a single RawFrame to a Snapshot.
func Convert(raw field.RawFrame) Snapshot {
	var snap Snapshot
	snap.Timestamp = raw.Timestamp

	for i, r := range raw.Readings {
		snap.Readings[i] = float32(r) / adcMax
	}
	snap.Magnetic = float32(raw.Magnetic) / adcMax * magFullScale
	snap.Z = FuseZ(snap.Readings)

	return snap
}

// FuseZ computes the fused scalar signal from normalized readings.
// The array's angular pattern energy is blended with the squared center
// reading using the inverse golden ratio as the blend weight, then
// clamped to [0, 1].
func FuseZ(readings [field.SensorCount]float32) float32 {
	energy := patternEnergy(readings)

	z := energy / field.SensorCount
	center := readings[field.CenterSensor]
	z = z*phiInv + (1-phiInv)*center*center

	if z < 0 {
		z = 0
	}
	if z > 1 {
		z = 1
	}
	return z
}

// patternEnergy measures the anisotropy of the field pattern: readings
// are binned into six angular sectors around the array center and the
// energy is the root sum of squared opposite-sector differences plus a
// weighted center contribution.
func patternEnergy(readings [field.SensorCount]float32) float32 {
	var sector [6]float32

	for i, r := range readings {
		if i == field.CenterSensor {
			continue
		}
		x, y := sensorPosition(i)
		angle := math32.Atan2(y, x)
		if angle < 0 {
			angle += 2 * math32.Pi
		}
		s := int(angle/(2*math32.Pi/6)) % 6
		sector[s] += r
	}

	var energy float32
	for i := 0; i < 6; i++ {
		diff := sector[i] - sector[(i+3)%6]
		energy += diff * diff
	}
	center := readings[field.CenterSensor]
	energy += center * center * 6

	return math32.Sqrt(energy)
}

// sensorAxial holds the axial grid coordinates (q, r) of each sensor in
// the 19-element hex array, rows top to bottom.
var sensorAxial = [field.SensorCount][2]int8{
	{-1, -2}, {0, -2}, {1, -2},
	{-2, -1}, {-1, -1}, {0, -1}, {1, -1},
	{-2, 0}, {-1, 0}, {0, 0}, {1, 0}, {2, 0},
	{-1, 1}, {0, 1}, {1, 1}, {2, 1},
	{0, 2}, {1, 2}, {2, 2},
}

// sensorPosition converts a sensor index to Cartesian coordinates
// (pointy-top hex orientation, unit spacing).
func sensorPosition(index int) (x, y float32) {
	q := float32(sensorAxial[index][0])
	r := float32(sensorAxial[index][1])
	const sqrt3 = 1.7320508076
	x = sqrt3*q + sqrt3/2*r
	y = 1.5 * r
	return x, y
}
