// Package formation computes coherence, negentropy and activity metrics
// over a window of field snapshots and detects the multi-criterion
// formation condition.
package formation

import (
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/gopsc/pkg/config"
	"github.com/itohio/gopsc/pkg/field"
	"github.com/itohio/gopsc/pkg/phase"
	"github.com/itohio/gopsc/pkg/ring"
)

const (
	// HistorySize is the fixed capacity of the field history ring.
	HistorySize = 64
	// blinkPeriod is the indicator blink period while close to formation.
	blinkPeriod = 250 * time.Millisecond
	// approachKappa and approachEta select the near-formation blink band.
	approachKappa = 0.8
	approachEta   = 0.5
)

// Metrics holds the three formation criteria for one cycle.
type Metrics struct {
	Kappa             float32 // coherence [0, 1]
	Eta               float32 // negentropy [0, 1]
	Activity          int     // active sensor count
	KappaSatisfied    bool
	EtaSatisfied      bool
	ActivitySatisfied bool
	Formed            bool
	Timestamp         time.Time
}

// Status is the full formation detector status.
type Status struct {
	Current         Metrics
	Active          bool
	FormationStart  time.Time
	Duration        time.Duration // running duration of the active formation
	TotalFormations int           // lifetime formation count
	PeakKappa       float32       // monotonic non-decreasing
	PeakEta         float32       // monotonic non-decreasing
}

// Indicator is a binary output the detector drives each cycle.
type Indicator interface {
	Set(on bool)
}

// Callback receives the metrics of a freshly detected formation.
type Callback func(Metrics)

// historyEntry is one stored field snapshot.
type historyEntry struct {
	readings  [field.SensorCount]float32
	timestamp time.Time
}

// Detector accumulates field history and evaluates the formation
// condition. Not safe for concurrent use.
type Detector struct {
	coherenceWindow   int
	coherenceScale    float32
	negentropyWidth   float32
	kappaThreshold    float32
	etaThreshold      float32
	activityThreshold float32
	activityRequired  int

	status    Status
	history   *ring.Buffer[historyEntry]
	callback  Callback
	indicator Indicator

	// scratch buffer for per-sensor means, reused across cycles
	means [field.SensorCount]float32
}

// New creates a formation detector with the given tuning.
func New(cfg config.FormationConfig) *Detector {
	d := &Detector{
		coherenceWindow:   cfg.CoherenceWindow,
		coherenceScale:    cfg.CoherenceScale,
		negentropyWidth:   cfg.NegentropyWidth,
		kappaThreshold:    cfg.KappaThreshold,
		etaThreshold:      cfg.EtaThreshold,
		activityThreshold: cfg.ActivityThreshold,
		activityRequired:  cfg.ActivityRequired,
		history:           ring.New[historyEntry](HistorySize),
	}
	if d.coherenceWindow <= 0 || d.coherenceWindow > HistorySize {
		d.coherenceWindow = HistorySize
	}
	return d
}

// Update appends the field snapshot to the history, recomputes all three
// metrics and evaluates the formation condition. The registered callback
// fires exactly once per false-to-true edge.
func (d *Detector) Update(readings [field.SensorCount]float32, z float32, now time.Time) Metrics {
	d.history.Push(historyEntry{readings: readings, timestamp: now})

	d.status.Current = Metrics{
		Kappa:     d.computeCoherence(),
		Eta:       d.computeNegentropy(z),
		Activity:  d.computeActivity(readings),
		Timestamp: now,
	}

	cur := &d.status.Current
	cur.KappaSatisfied = cur.Kappa >= d.kappaThreshold
	cur.EtaSatisfied = cur.Eta > d.etaThreshold
	cur.ActivitySatisfied = cur.Activity >= d.activityRequired
	cur.Formed = cur.KappaSatisfied && cur.EtaSatisfied && cur.ActivitySatisfied

	wasActive := d.status.Active
	d.status.Active = cur.Formed

	if d.status.Active && !wasActive {
		d.status.FormationStart = now
		d.status.Duration = 0
		d.status.TotalFormations++
		if d.callback != nil {
			d.callback(*cur)
		}
	}
	if d.status.Active {
		d.status.Duration = now.Sub(d.status.FormationStart)
	}

	if cur.Kappa > d.status.PeakKappa {
		d.status.PeakKappa = cur.Kappa
	}
	if cur.Eta > d.status.PeakEta {
		d.status.PeakEta = cur.Eta
	}

	d.updateIndicator(now)

	return *cur
}

// computeCoherence derives coherence from the pooled variance of the
// most recent window of field snapshots: low variance means a stable
// pattern and high coherence.
func (d *Detector) computeCoherence() float32 {
	n := d.history.Len()
	if n < 2 {
		return 0
	}
	window := d.coherenceWindow
	if window > n {
		window = n
	}

	for s := range d.means {
		d.means[s] = 0
	}
	d.history.Recent(window, func(e historyEntry) {
		for s, r := range e.readings {
			d.means[s] += r
		}
	})
	for s := range d.means {
		d.means[s] /= float32(window)
	}

	var variance float32
	d.history.Recent(window, func(e historyEntry) {
		for s, r := range e.readings {
			diff := r - d.means[s]
			variance += diff * diff
		}
	})
	variance /= float32(window * field.SensorCount)

	kappa := 1 - math32.Sqrt(variance)*d.coherenceScale
	if kappa < 0 {
		kappa = 0
	}
	if kappa > 1 {
		kappa = 1
	}
	return kappa
}

// computeNegentropy evaluates the Gaussian kernel centered on the
// Mid/High boundary; it peaks at exactly 1 when z sits on the boundary.
func (d *Detector) computeNegentropy(z float32) float32 {
	diff := z - phase.BoundaryMidHigh
	return math32.Exp(-d.negentropyWidth * diff * diff)
}

// computeActivity counts sensors above the activation threshold.
func (d *Detector) computeActivity(readings [field.SensorCount]float32) int {
	count := 0
	for _, r := range readings {
		if r > d.activityThreshold {
			count++
		}
	}
	return count
}

// updateIndicator drives the external indicator: solid while formed,
// blinking while close, off otherwise.
func (d *Detector) updateIndicator(now time.Time) {
	if d.indicator == nil {
		return
	}
	switch {
	case d.status.Active:
		d.indicator.Set(true)
	case d.status.Current.Kappa >= approachKappa || d.status.Current.Eta >= approachEta:
		d.indicator.Set((now.UnixMilli()/blinkPeriod.Milliseconds())%2 == 0)
	default:
		d.indicator.Set(false)
	}
}

// OnFormed registers the formation callback. It is invoked synchronously
// from inside Update on each false-to-true edge; the body must be fast.
func (d *Detector) OnFormed(cb Callback) {
	d.callback = cb
}

// SetIndicator attaches the external indicator output.
func (d *Detector) SetIndicator(ind Indicator) {
	d.indicator = ind
}

// Status returns a copy of the current status.
func (d *Detector) Status() Status {
	return d.status
}

// Metrics returns the metrics of the last cycle.
func (d *Detector) Metrics() Metrics {
	return d.status.Current
}

// Kappa returns the current coherence value.
func (d *Detector) Kappa() float32 {
	return d.status.Current.Kappa
}

// SetCoherenceWindow sets the history window used for coherence.
// Values outside (0, HistorySize] are rejected.
func (d *Detector) SetCoherenceWindow(samples int) {
	if samples > 0 && samples <= HistorySize {
		d.coherenceWindow = samples
	}
}

// SetThresholds updates the formation criteria. Out-of-domain values
// are rejected individually.
func (d *Detector) SetThresholds(kappa, eta float32, activity int) {
	if kappa > 0 && kappa <= 1 {
		d.kappaThreshold = kappa
	}
	if eta > 0 && eta <= 1 {
		d.etaThreshold = eta
	}
	if activity > 0 && activity <= field.SensorCount {
		d.activityRequired = activity
	}
}

// Reset returns the detector to its initial state, clearing history,
// peaks and lifetime counters.
func (d *Detector) Reset() {
	d.status = Status{}
	d.history.Reset()
}
