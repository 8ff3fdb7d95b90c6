// Binarization stages: fixed cutoff and Otsu's automatic cutoff
package algorithms

import (
	"fmt"

	"gocv.io/x/gocv"
)

// BinaryThresholdAlgorithm maps intensities above a fixed cutoff to max_value and everything else to 0
type BinaryThresholdAlgorithm struct{}

// NewBinaryThreshold creates a new fixed threshold algorithm
func NewBinaryThreshold() *BinaryThresholdAlgorithm {
	return &BinaryThresholdAlgorithm{}
}

func (b *BinaryThresholdAlgorithm) Apply(input gocv.Mat, params map[string]interface{}) (gocv.Mat, error) {
	if input.Empty() {
		return gocv.NewMat(), fmt.Errorf("input image is empty")
	}

	threshold, err := intParam(params, "threshold", 127)
	if err != nil {
		return gocv.NewMat(), err
	}
	maxValue, err := floatParam(params, "max_value", 255)
	if err != nil {
		return gocv.NewMat(), err
	}

	gray := EnsureGrayscale(input)
	defer func() {
		if gray.Ptr() != input.Ptr() {
			gray.Close()
		}
	}()

	output := gocv.NewMat()
	gocv.Threshold(gray, &output, float32(threshold), float32(maxValue), gocv.ThresholdBinary)
	return output, nil
}

func (b *BinaryThresholdAlgorithm) GetDefaultParams() map[string]interface{} {
	return map[string]interface{}{
		"threshold": 127.0,
		"max_value": 255.0,
	}
}

func (b *BinaryThresholdAlgorithm) GetName() string {
	return "Binary Threshold"
}

func (b *BinaryThresholdAlgorithm) GetDescription() string {
	return "Fixed cutoff binarization (0/255)"
}

func (b *BinaryThresholdAlgorithm) Validate(params map[string]interface{}) error {
	threshold, err := intParam(params, "threshold", 127)
	if err != nil {
		return err
	}
	if err := checkRange("threshold", threshold, 0, 255); err != nil {
		return err
	}

	maxValue, err := floatParam(params, "max_value", 255)
	if err != nil {
		return err
	}
	if maxValue < 0 || maxValue > 255 {
		return fmt.Errorf("%w: max_value must be between 0 and 255", ErrInvalidParameter)
	}

	return nil
}

func (b *BinaryThresholdAlgorithm) GetParameterInfo() []ParameterInfo {
	return []ParameterInfo{
		{
			Name:        "threshold",
			Type:        "int",
			Min:         0.0,
			Max:         255.0,
			Default:     127.0,
			Description: "Pixels brighter than this become foreground",
		},
		{
			Name:        "max_value",
			Type:        "float",
			Min:         0.0,
			Max:         255.0,
			Default:     255.0,
			Description: "Foreground output value",
		},
	}
}

// Otsu picks the cutoff that maximizes between-class variance of the intensity histogram
type Otsu struct{}

// NewOtsu creates a new Otsu threshold algorithm
func NewOtsu() *Otsu {
	return &Otsu{}
}

func (o *Otsu) Apply(input gocv.Mat, params map[string]interface{}) (gocv.Mat, error) {
	if input.Empty() {
		return gocv.NewMat(), fmt.Errorf("input image is empty")
	}

	maxValue, err := floatParam(params, "max_value", 255)
	if err != nil {
		return gocv.NewMat(), err
	}

	gray := EnsureGrayscale(input)
	defer func() {
		if gray.Ptr() != input.Ptr() {
			gray.Close()
		}
	}()

	level := OtsuLevel(gray)

	output := gocv.NewMat()
	gocv.Threshold(gray, &output, float32(level), float32(maxValue), gocv.ThresholdBinary)
	return output, nil
}

func (o *Otsu) GetDefaultParams() map[string]interface{} {
	return map[string]interface{}{
		"max_value": 255.0,
	}
}

func (o *Otsu) GetName() string {
	return "Otsu Threshold"
}

func (o *Otsu) GetDescription() string {
	return "Automatic binarization using Otsu's between-class variance"
}

func (o *Otsu) Validate(params map[string]interface{}) error {
	maxValue, err := floatParam(params, "max_value", 255)
	if err != nil {
		return err
	}
	if maxValue < 0 || maxValue > 255 {
		return fmt.Errorf("%w: max_value must be between 0 and 255", ErrInvalidParameter)
	}
	return nil
}

func (o *Otsu) GetParameterInfo() []ParameterInfo {
	return []ParameterInfo{
		{
			Name:        "max_value",
			Type:        "float",
			Min:         0.0,
			Max:         255.0,
			Default:     255.0,
			Description: "Foreground output value",
		},
	}
}

// OtsuLevel returns Otsu's threshold for a single channel 8-bit image.
func OtsuLevel(gray gocv.Mat) float64 {
	return otsuFromHistogram(histogram(gray))
}

// histogram returns the normalized 256-bin intensity histogram.
func histogram(gray gocv.Mat) []float64 {
	hist := make([]float64, 256)

	pixels := gray.ToBytes()
	if len(pixels) == 0 {
		return hist
	}
	for _, intensity := range pixels {
		hist[intensity]++
	}

	total := float64(len(pixels))
	for i := range hist {
		hist[i] /= total
	}

	return hist
}

func otsuFromHistogram(hist []float64) float64 {
	sum := 0.0
	for i := 0; i < 256; i++ {
		sum += float64(i) * hist[i]
	}

	sumB := 0.0
	wB := 0.0
	maximum := 0.0
	level := 0.0

	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}

		wF := 1.0 - wB
		if wF <= 1e-12 {
			break
		}

		sumB += float64(t) * hist[t]
		mB := sumB / wB
		mF := (sum - sumB) / wF

		between := wB * wF * (mB - mF) * (mB - mF)

		if between > maximum {
			level = float64(t)
			maximum = between
		}
	}

	return level
}
