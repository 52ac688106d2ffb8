package scope

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
)

// historyWindow is how much trace history the widget keeps.
const historyWindow = 30 * time.Second

// TracePoint is one plotted sample of the three core signals.
type TracePoint struct {
	Timestamp time.Time
	Z         float32 // fused signal
	Kappa     float32 // field coherence
	R         float32 // oscillator order parameter
}

// Widget is a custom Fyne widget that displays the signal, coherence
// and order-parameter traces oscilloscope-style, with the two phase
// boundaries drawn as horizontal markers.
type Widget struct {
	widget.BaseWidget

	// Data (protected by mu)
	mu     sync.RWMutex
	points []TracePoint
	label  string // status line drawn inside the plot

	// Display buffer (reused for downsampling)
	display []TracePoint

	// Time range
	xMin, xMax time.Time

	// Display settings
	maxDisplayPoints int
}

// New creates a new scope widget.
func New() *Widget {
	w := &Widget{
		points:           make([]TracePoint, 0, 1024),
		display:          make([]TracePoint, 0, 1000),
		maxDisplayPoints: 1000, // Limit points for efficient rendering
	}
	w.ExtendBaseWidget(w)
	// Trigger initial refresh to display empty scope
	w.Refresh()
	return w
}

// AddPoint appends one trace sample, trims history outside the window
// and refreshes the display. Call from the UI goroutine via fyne.Do().
func (w *Widget) AddPoint(p TracePoint) {
	w.mu.Lock()

	w.points = append(w.points, p)

	// Remove points outside the time window (by timestamp, not count)
	cutoff := p.Timestamp.Add(-historyWindow)
	trim := 0
	for trim < len(w.points) && w.points[trim].Timestamp.Before(cutoff) {
		trim++
	}
	if trim > 0 {
		w.points = w.points[:copy(w.points, w.points[trim:])]
	}

	// Downsample for display (reuse buffer)
	w.display = Downsample(w.display, w.points, w.maxDisplayPoints)
	w.updateTimeRange()

	w.mu.Unlock()

	// Refresh must happen outside the lock to avoid potential deadlock
	w.Refresh()
}

// SetLabel sets the status line drawn inside the plot.
func (w *Widget) SetLabel(label string) {
	w.mu.Lock()
	w.label = label
	w.mu.Unlock()
	w.Refresh()
}

// updateTimeRange recomputes the X axis from current data.
func (w *Widget) updateTimeRange() {
	if len(w.display) == 0 {
		w.xMin = time.Now()
		w.xMax = w.xMin.Add(historyWindow)
		return
	}

	w.xMin = w.display[0].Timestamp
	w.xMax = w.display[len(w.display)-1].Timestamp
	// Ensure minimum window
	if w.xMax.Sub(w.xMin) < historyWindow {
		w.xMax = w.xMin.Add(historyWindow)
	}
}

// Downsample decimates points to at most maxPoints for display.
// Destination-based: reuses dst if it has sufficient capacity,
// otherwise allocates. Returns the destination slice.
func Downsample(dst []TracePoint, points []TracePoint, maxPoints int) []TracePoint {
	if len(points) <= maxPoints {
		if cap(dst) >= len(points) {
			dst = dst[:len(points)]
			copy(dst, points)
			return dst
		}
		result := make([]TracePoint, len(points))
		copy(result, points)
		return result
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0] // Reset length but keep capacity
	} else {
		dst = make([]TracePoint, 0, maxPoints)
	}

	step := float64(len(points)) / float64(maxPoints)
	for i := 0; i < maxPoints; i++ {
		idx := int(float64(i) * step)
		if idx < len(points) {
			dst = append(dst, points[idx])
		}
	}

	return dst
}

// CreateRenderer creates the widget renderer.
func (w *Widget) CreateRenderer() fyne.WidgetRenderer {
	grid := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255}) // Dark background
	return &renderer{
		scope:    w,
		grid:     grid,
		objects:  []fyne.CanvasObject{grid},
		lastSize: fyne.Size{Width: 0, Height: 0},
	}
}
