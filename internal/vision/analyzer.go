// Package vision estimates eye state from raw camera frames.
//
// The estimate is a brightness/contrast heuristic over a fixed region in the
// middle of the frame. It is not a landmark model and tolerates false
// positives and negatives; the session engine only relies on it being a
// deterministic function of one frame.
package vision

import (
	"fmt"
	"image"
	"image/draw"
	"math"
	"time"

	"github.com/ashureev/focusforge/internal/domain"
)

// BytesPerPixel is the size of one RGBA pixel in a Frame buffer.
const BytesPerPixel = 4

const sampleStride = 2

// Frame is a row-major RGBA pixel buffer.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// Valid reports whether the buffer holds Width*Height RGBA pixels.
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Pix) >= f.Width*f.Height*BytesPerPixel
}

// Thresholds tune the open/closed decision.
type Thresholds struct {
	Brightness float64
	Contrast   float64
}

// DefaultThresholds returns the calibrated thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Brightness: 75, Contrast: 15}
}

// Metrics are the raw aggregates behind an EyeState.
type Metrics struct {
	AvgBrightness float64
	AvgContrast   float64
	Samples       int
}

// Analyzer classifies frames. It holds no per-frame state and is safe for
// concurrent use.
type Analyzer struct {
	thresholds Thresholds
}

// NewAnalyzer creates an analyzer with the given thresholds.
func NewAnalyzer(t Thresholds) *Analyzer {
	if t.Brightness <= 0 {
		t.Brightness = DefaultThresholds().Brightness
	}
	if t.Contrast <= 0 {
		t.Contrast = DefaultThresholds().Contrast
	}
	return &Analyzer{thresholds: t}
}

// Thresholds returns the analyzer's thresholds.
func (a *Analyzer) Thresholds() Thresholds {
	return a.thresholds
}

// Analyze estimates the eye state of a single frame.
// Frames without a valid sampling region yield a closed state with zero
// confidence and ErrAnalysisDegenerate.
func (a *Analyzer) Analyze(f Frame, at time.Time) (domain.EyeState, error) {
	m, err := Measure(f)
	if err != nil {
		return domain.EyeState{IsOpen: false, Confidence: 0, Timestamp: at}, err
	}
	return a.Classify(m, at), nil
}

// Classify turns aggregate metrics into an EyeState.
func (a *Analyzer) Classify(m Metrics, at time.Time) domain.EyeState {
	b, c := a.thresholds.Brightness, a.thresholds.Contrast
	isOpen := m.AvgBrightness > b && m.AvgContrast > c
	confidence := math.Min((math.Abs(m.AvgBrightness-b)/b+m.AvgContrast/50)/2, 1)
	return domain.EyeState{IsOpen: isOpen, Confidence: confidence, Timestamp: at}
}

// Measure samples the centered region of f and returns average luma and
// local contrast.
func Measure(f Frame) (Metrics, error) {
	if !f.Valid() {
		return Metrics{}, fmt.Errorf("frame %dx%d with %d bytes: %w", f.Width, f.Height, len(f.Pix), domain.ErrAnalysisDegenerate)
	}

	half := min(f.Width, f.Height) / 4
	cx, cy := f.Width/2, f.Height/2

	var brightnessSum, contrastSum float64
	samples := 0
	for y := cy - half; y < cy+half; y += sampleStride {
		for x := cx - half; x < cx+half; x += sampleStride {
			if x < 0 || x >= f.Width || y < 0 || y >= f.Height {
				continue
			}
			l := luma(f, x, y)
			brightnessSum += l
			contrastSum += math.Abs(l - neighborLuma(f, x, y))
			samples++
		}
	}

	if samples == 0 {
		return Metrics{}, fmt.Errorf("empty sampling region in %dx%d frame: %w", f.Width, f.Height, domain.ErrAnalysisDegenerate)
	}

	return Metrics{
		AvgBrightness: brightnessSum / float64(samples),
		AvgContrast:   contrastSum / float64(samples),
		Samples:       samples,
	}, nil
}

func luma(f Frame, x, y int) float64 {
	i := (y*f.Width + x) * BytesPerPixel
	return (float64(f.Pix[i]) + float64(f.Pix[i+1]) + float64(f.Pix[i+2])) / 3
}

// neighborLuma averages the 8 neighbors of (x, y) that lie inside the frame.
func neighborLuma(f Frame, x, y int) float64 {
	var sum float64
	count := 0
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := x+dx, y+dy
			if nx < 0 || nx >= f.Width || ny < 0 || ny >= f.Height {
				continue
			}
			sum += luma(f, nx, ny)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// FrameFromImage converts a decoded image to an RGBA frame.
func FrameFromImage(img image.Image) Frame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != b.Dx()*BytesPerPixel || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return Frame{Width: b.Dx(), Height: b.Dy(), Pix: rgba.Pix}
}
