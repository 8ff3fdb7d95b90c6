// Frame and mask containers passed between pipeline stages
package core

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// Frame is one acquired color image (8UC3, BGR). A Frame has exactly one owner;
// whoever holds it last must Close it.
type Frame struct {
	Mat       gocv.Mat
	Seq       uint64
	Timestamp time.Time
}

// NewFrame wraps mat, taking ownership of it.
func NewFrame(mat gocv.Mat, seq uint64, ts time.Time) Frame {
	return Frame{Mat: mat, Seq: seq, Timestamp: ts}
}

func (f Frame) Width() int  { return f.Mat.Cols() }
func (f Frame) Height() int { return f.Mat.Rows() }

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool { return f.Mat.Ptr() == nil || f.Mat.Empty() }

// Clone returns a deep copy with the same sequence number and timestamp.
func (f Frame) Clone() Frame {
	return Frame{Mat: f.Mat.Clone(), Seq: f.Seq, Timestamp: f.Timestamp}
}

func (f Frame) Close() {
	if f.Mat.Ptr() != nil {
		f.Mat.Close()
	}
}

// Mask is the single channel output of the processing pipeline.
type Mask struct {
	Mat gocv.Mat
	Seq uint64
}

func (m Mask) Width() int  { return m.Mat.Cols() }
func (m Mask) Height() int { return m.Mat.Rows() }

func (m Mask) Close() {
	if m.Mat.Ptr() != nil {
		m.Mat.Close()
	}
}

// ValidateImage validates an OpenCV Mat for basic requirements
func ValidateImage(mat gocv.Mat) error {
	if mat.Empty() {
		return fmt.Errorf("image is empty")
	}

	if mat.Cols() <= 0 || mat.Rows() <= 0 {
		return fmt.Errorf("invalid dimensions: %dx%d", mat.Cols(), mat.Rows())
	}

	channels := mat.Channels()
	if channels != 1 && channels != 3 && channels != 4 {
		return fmt.Errorf("unsupported channel count: %d", channels)
	}

	const maxDimension = 16384
	if mat.Cols() > maxDimension || mat.Rows() > maxDimension {
		return fmt.Errorf("image too large: %dx%d (max: %d)", mat.Cols(), mat.Rows(), maxDimension)
	}

	return nil
}

// toBGR converts 1 or 4 channel input into a new 3 channel Mat. A 3 channel
// input is cloned so the result is always independently owned.
func toBGR(mat gocv.Mat) gocv.Mat {
	switch mat.Channels() {
	case 1:
		out := gocv.NewMat()
		gocv.CvtColor(mat, &out, gocv.ColorGrayToBGR)
		return out
	case 4:
		out := gocv.NewMat()
		gocv.CvtColor(mat, &out, gocv.ColorBGRAToBGR)
		return out
	}
	return mat.Clone()
}
