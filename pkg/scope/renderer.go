package scope

import (
	"image/color"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"

	"github.com/itohio/gopsc/pkg/phase"
)

// Trace colors.
var (
	colorZ        = color.RGBA{R: 255, G: 165, B: 0, A: 255}   // orange
	colorKappa    = color.RGBA{R: 100, G: 200, B: 255, A: 255} // light blue
	colorR        = color.RGBA{R: 120, G: 220, B: 120, A: 255} // green
	colorBoundary = color.RGBA{R: 200, G: 80, B: 80, A: 255}   // red
	colorGrid     = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	colorText     = color.RGBA{R: 150, G: 150, B: 150, A: 255}
)

// Fixed Y range: all three traces live in [0, 1].
const (
	yMin = -0.05
	yMax = 1.05
)

// renderer renders the scope widget.
type renderer struct {
	scope *Widget

	// Background
	grid *canvas.Rectangle

	// Grid lines
	gridLines []*canvas.Line
	gridTexts []*canvas.Text

	// Objects list for Fyne
	objects []fyne.CanvasObject

	// Track last size to detect changes
	lastSize fyne.Size
}

// MinSize returns the minimum size of the widget.
func (r *renderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 300)
}

// Layout arranges the widget components.
func (r *renderer) Layout(size fyne.Size) {
	// Background fills entire widget
	r.grid.Resize(size)

	if r.lastSize.Width != size.Width || r.lastSize.Height != size.Height {
		r.lastSize = size
		// Size changed, redraw with new dimensions through Fyne's
		// refresh cycle
		r.scope.BaseWidget.Refresh()
	}
}

// Refresh updates the widget display.
func (r *renderer) Refresh() {
	r.scope.mu.RLock()
	points := r.scope.display
	label := r.scope.label
	xMin := r.scope.xMin
	xMax := r.scope.xMax
	r.scope.mu.RUnlock()

	size := r.scope.Size()
	if size.Width == 0 || size.Height == 0 {
		return
	}

	// Clear old objects (but keep the background)
	r.objects = []fyne.CanvasObject{r.grid}
	r.gridLines = r.gridLines[:0]
	r.gridTexts = r.gridTexts[:0]

	marginLeft := float32(50.0)
	marginRight := float32(20.0)
	marginTop := float32(20.0)
	marginBottom := float32(40.0)

	plotWidth := size.Width - marginLeft - marginRight
	plotHeight := size.Height - marginTop - marginBottom
	plotX := marginLeft
	plotY := marginTop

	r.drawGrid(plotX, plotY, plotWidth, plotHeight, xMin, xMax)
	r.drawBoundaries(plotX, plotY, plotWidth, plotHeight)

	if len(points) > 1 {
		r.drawTrace(plotX, plotY, plotWidth, plotHeight, points, xMin, xMax,
			func(p TracePoint) float32 { return p.Z }, colorZ, 1.5)
		r.drawTrace(plotX, plotY, plotWidth, plotHeight, points, xMin, xMax,
			func(p TracePoint) float32 { return p.Kappa }, colorKappa, 2.5)
		r.drawTrace(plotX, plotY, plotWidth, plotHeight, points, xMin, xMax,
			func(p TracePoint) float32 { return p.R }, colorR, 1.5)
	}

	if label != "" {
		text := canvas.NewText(label, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		text.TextSize = 11
		text.Alignment = fyne.TextAlignLeading
		text.Move(fyne.NewPos(plotX+10, plotY+10))
		r.objects = append(r.objects, text)
	}
}

// drawGrid draws the oscilloscope-style grid.
func (r *renderer) drawGrid(plotX, plotY, plotWidth, plotHeight float32, xMin, xMax time.Time) {
	// Horizontal grid lines (signal level)
	numHLines := 10
	for i := 0; i <= numHLines; i++ {
		y := plotY + float32(i)*plotHeight/float32(numHLines)
		line := canvas.NewLine(colorGrid)
		line.Position1 = fyne.NewPos(plotX, y)
		line.Position2 = fyne.NewPos(plotX+plotWidth, y)
		line.StrokeWidth = 1
		r.gridLines = append(r.gridLines, line)
		r.objects = append(r.objects, line)

		// Y-axis label
		value := yMax - float64(i)*(yMax-yMin)/float64(numHLines)
		text := canvas.NewText(formatLevel(value), colorText)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignTrailing
		text.Move(fyne.NewPos(plotX-5, y-6))
		r.gridTexts = append(r.gridTexts, text)
		r.objects = append(r.objects, text)
	}

	// Vertical grid lines (time)
	numVLines := 10
	for i := 0; i <= numVLines; i++ {
		x := plotX + float32(i)*plotWidth/float32(numVLines)
		line := canvas.NewLine(colorGrid)
		line.Position1 = fyne.NewPos(x, plotY)
		line.Position2 = fyne.NewPos(x, plotY+plotHeight)
		line.StrokeWidth = 1
		r.gridLines = append(r.gridLines, line)
		r.objects = append(r.objects, line)

		// X-axis label
		offset := float64(i) * xMax.Sub(xMin).Seconds() / float64(numVLines)
		text := canvas.NewText(formatOffset(offset), colorText)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignCenter
		text.Move(fyne.NewPos(x-20, plotY+plotHeight+5))
		r.gridTexts = append(r.gridTexts, text)
		r.objects = append(r.objects, text)
	}
}

// drawBoundaries draws the two phase boundaries as horizontal markers.
func (r *renderer) drawBoundaries(plotX, plotY, plotWidth, plotHeight float32) {
	for _, b := range []float32{phase.BoundaryLowMid, phase.BoundaryMidHigh} {
		y := plotY + plotHeight - (b-yMin)/(yMax-yMin)*plotHeight
		line := canvas.NewLine(colorBoundary)
		line.Position1 = fyne.NewPos(plotX, y)
		line.Position2 = fyne.NewPos(plotX+plotWidth, y)
		line.StrokeWidth = 1
		r.objects = append(r.objects, line)

		text := canvas.NewText(formatLevel(float64(b)), colorBoundary)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignLeading
		text.Move(fyne.NewPos(plotX+plotWidth-35, y-12))
		r.objects = append(r.objects, text)
	}
}

// drawTrace draws one signal curve as connected line segments.
func (r *renderer) drawTrace(plotX, plotY, plotWidth, plotHeight float32, points []TracePoint, xMin, xMax time.Time, value func(TracePoint) float32, clr color.RGBA, stroke float32) {
	span := xMax.Sub(xMin).Seconds()
	if span <= 0 {
		return
	}

	positions := make([]fyne.Position, 0, len(points))
	for _, p := range points {
		x := plotX + float32(p.Timestamp.Sub(xMin).Seconds()/span)*plotWidth
		y := plotY + plotHeight - (value(p)-yMin)/(yMax-yMin)*plotHeight
		positions = append(positions, fyne.NewPos(x, y))
	}

	for i := 0; i < len(positions)-1; i++ {
		line := canvas.NewLine(clr)
		line.Position1 = positions[i]
		line.Position2 = positions[i+1]
		line.StrokeWidth = stroke
		r.objects = append(r.objects, line)
	}
}

// Objects returns all canvas objects for rendering.
func (r *renderer) Objects() []fyne.CanvasObject {
	return r.objects
}

// Destroy cleans up resources.
func (r *renderer) Destroy() {
	// Cleanup handled by Fyne
}

func formatLevel(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatOffset(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 1, 64) + "s"
}
