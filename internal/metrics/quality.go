// Per-frame focus and foreground measures
package metrics

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"

	"camera-inspection/internal/algorithms"
)

// FrameQuality summarizes one processed frame.
type FrameQuality struct {
	// Sharpness is the variance of the Laplacian of the gray frame. Higher is in focus.
	Sharpness float64
	// ForegroundRatio is the fraction of non-zero mask pixels.
	ForegroundRatio float64
}

// Measure computes FrameQuality for a color or gray frame and its mask.
func Measure(frame, mask gocv.Mat) (FrameQuality, error) {
	if frame.Empty() || mask.Empty() {
		return FrameQuality{}, fmt.Errorf("empty images")
	}
	sharpness, err := Sharpness(frame)
	if err != nil {
		return FrameQuality{}, err
	}
	return FrameQuality{
		Sharpness:       sharpness,
		ForegroundRatio: ForegroundRatio(mask),
	}, nil
}

// Sharpness returns the variance of the Laplacian.
func Sharpness(input gocv.Mat) (float64, error) {
	if input.Empty() {
		return 0, fmt.Errorf("empty image")
	}

	gray := algorithms.EnsureGrayscale(input)
	defer func() {
		if gray.Ptr() != input.Ptr() {
			gray.Close()
		}
	}()

	laplacian := gocv.NewMat()
	defer laplacian.Close()
	gocv.Laplacian(gray, &laplacian, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean := gocv.NewMat()
	defer mean.Close()
	stddev := gocv.NewMat()
	defer stddev.Close()
	gocv.MeanStdDev(laplacian, &mean, &stddev)

	sd := stddev.GetDoubleAt(0, 0)
	return sd * sd, nil
}

// ForegroundRatio returns the fraction of non-zero pixels of a single channel mask.
func ForegroundRatio(mask gocv.Mat) float64 {
	total := mask.Rows() * mask.Cols()
	if total == 0 || mask.Channels() != 1 {
		return 0
	}
	return float64(gocv.CountNonZero(mask)) / float64(total)
}

func floatBits(f float64) uint64     { return math.Float64bits(f) }
func floatFromBits(b uint64) float64 { return math.Float64frombits(b) }
