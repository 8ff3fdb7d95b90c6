// Contour extraction, per-region statistics and the annotated overlay
package core

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

var (
	boxColor     = color.RGBA{B: 255, A: 255} // BGR (255,0,0)
	boxThickness = 3
	textScale    = 1.0
	textThick    = 2
)

// Region is one external contour of a mask, measured on the original frame.
type Region struct {
	Box           image.Rectangle `json:"box"`
	MeanIntensity float64         `json:"mean_intensity"`
}

// Summary aggregates the region means of a single tick.
type Summary struct {
	Regions int     `json:"regions"`
	Mean    float64 `json:"mean"`
}

// Analysis is the output of ContourAnalyzer.Analyze. The caller owns Overlay.
type Analysis struct {
	Overlay gocv.Mat
	Regions []Region
}

func (a Analysis) Close() {
	if a.Overlay.Ptr() != nil {
		a.Overlay.Close()
	}
}

// ContourAnalyzer finds external contours in a mask and annotates the frame they came from.
type ContourAnalyzer struct {
	logger logrus.FieldLogger
}

func NewContourAnalyzer(logger logrus.FieldLogger) *ContourAnalyzer {
	return &ContourAnalyzer{logger: logger.WithField("component", "contours")}
}

// Analyze never modifies mask or frame. With no contours the overlay is an
// unannotated copy of the frame.
func (c *ContourAnalyzer) Analyze(mask Mask, frame Frame) (Analysis, error) {
	if frame.Empty() {
		return Analysis{}, fmt.Errorf("analyze frame %d: empty frame", frame.Seq)
	}
	if mask.Mat.Ptr() == nil || mask.Mat.Empty() {
		return Analysis{}, fmt.Errorf("analyze frame %d: empty mask", frame.Seq)
	}
	if mask.Width() != frame.Width() || mask.Height() != frame.Height() {
		return Analysis{}, fmt.Errorf("analyze frame %d: mask %dx%d does not match frame %dx%d",
			frame.Seq, mask.Width(), mask.Height(), frame.Width(), frame.Height())
	}
	if mask.Mat.Channels() != 1 {
		return Analysis{}, fmt.Errorf("analyze frame %d: mask has %d channels", frame.Seq, mask.Mat.Channels())
	}

	overlay := toBGR(frame.Mat)

	contours := gocv.FindContours(mask.Mat, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	regions := make([]Region, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		box := calculateBounds(contours.At(i).ToPoints())
		if box.Empty() {
			continue
		}
		mean := regionMean(frame.Mat, box)
		regions = append(regions, Region{Box: box, MeanIntensity: mean})
		drawRegion(&overlay, box, mean)
	}

	c.logger.WithFields(logrus.Fields{
		"seq":     frame.Seq,
		"regions": len(regions),
	}).Debug("Contours analyzed")

	return Analysis{Overlay: overlay, Regions: regions}, nil
}

// Summarize averages the region means. It fails with ErrNoRegions on an empty slice.
func Summarize(regions []Region) (Summary, error) {
	if len(regions) == 0 {
		return Summary{}, ErrNoRegions
	}
	total := 0.0
	for _, r := range regions {
		total += r.MeanIntensity
	}
	return Summary{Regions: len(regions), Mean: total / float64(len(regions))}, nil
}

// regionMean is the mean over every channel of every pixel inside box.
func regionMean(mat gocv.Mat, box image.Rectangle) float64 {
	roi := mat.Region(box)
	defer roi.Close()

	s := roi.Mean()
	vals := []float64{s.Val1, s.Val2, s.Val3, s.Val4}
	channels := mat.Channels()
	if channels > len(vals) {
		channels = len(vals)
	}
	total := 0.0
	for _, v := range vals[:channels] {
		total += v
	}
	return total / float64(channels)
}

func drawRegion(overlay *gocv.Mat, box image.Rectangle, mean float64) {
	gocv.Rectangle(overlay, box, boxColor, boxThickness)
	label := strconv.Itoa(int(math.Round(mean)))
	center := image.Pt(box.Min.X+box.Dx()/2, box.Min.Y+box.Dy()/2)
	gocv.PutText(overlay, label, center, gocv.FontHersheySimplex, textScale, boxColor, textThick)
}

// calculateBounds returns the smallest rectangle containing every point. Max is
// exclusive, so a single pixel yields a 1x1 box.
func calculateBounds(points []image.Point) image.Rectangle {
	if len(points) == 0 {
		return image.Rectangle{}
	}

	minX, minY := points[0].X, points[0].Y
	maxX, maxY := points[0].X, points[0].Y

	for _, point := range points {
		if point.X < minX {
			minX = point.X
		}
		if point.X > maxX {
			maxX = point.X
		}
		if point.Y < minY {
			minY = point.Y
		}
		if point.Y > maxY {
			maxY = point.Y
		}
	}

	return image.Rect(minX, minY, maxX+1, maxY+1)
}
