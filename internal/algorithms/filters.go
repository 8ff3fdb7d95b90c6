// Smoothing filters applied to the binary mask
package algorithms

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// GaussianFilter implements Gaussian blur filter
type GaussianFilter struct{}

// NewGaussianFilter creates a new Gaussian filter algorithm
func NewGaussianFilter() *GaussianFilter {
	return &GaussianFilter{}
}

func (g *GaussianFilter) Apply(input gocv.Mat, params map[string]interface{}) (gocv.Mat, error) {
	if input.Empty() {
		return gocv.NewMat(), fmt.Errorf("input image is empty")
	}

	kernelSize, err := intParam(params, "kernel_size", 1)
	if err != nil {
		return gocv.NewMat(), err
	}

	sigmaX, err := floatParam(params, "sigma_x", 10)
	if err != nil {
		return gocv.NewMat(), err
	}

	sigmaY, err := floatParam(params, "sigma_y", 0)
	if err != nil {
		return gocv.NewMat(), err
	}

	output := gocv.NewMat()
	gocv.GaussianBlur(input, &output, image.Pt(kernelSize, kernelSize), sigmaX, sigmaY, gocv.BorderDefault)

	return output, nil
}

func (g *GaussianFilter) GetDefaultParams() map[string]interface{} {
	return map[string]interface{}{
		"kernel_size": 1.0,
		"sigma_x":     10.0,
		"sigma_y":     0.0,
	}
}

func (g *GaussianFilter) GetName() string {
	return "Gaussian Filter"
}

func (g *GaussianFilter) GetDescription() string {
	return "Gaussian blur to soften mask edges"
}

// Validate rejects even or non-positive kernels; they are never rounded up.
func (g *GaussianFilter) Validate(params map[string]interface{}) error {
	kernelSize, err := intParam(params, "kernel_size", 1)
	if err != nil {
		return err
	}
	if err := checkRange("kernel_size", kernelSize, 1, MaxKernelSize); err != nil {
		return err
	}
	if kernelSize%2 == 0 {
		return fmt.Errorf("%w: kernel_size must be odd, got %d", ErrInvalidParameter, kernelSize)
	}

	sigmaX, err := floatParam(params, "sigma_x", 10)
	if err != nil {
		return err
	}
	if sigmaX < 0 {
		return fmt.Errorf("%w: sigma_x must not be negative", ErrInvalidParameter)
	}

	return nil
}

func (g *GaussianFilter) GetParameterInfo() []ParameterInfo {
	return []ParameterInfo{
		{
			Name:        "kernel_size",
			Type:        "int",
			Min:         1.0,
			Max:         float64(MaxKernelSize),
			Default:     1.0,
			Description: "Side of the square blur kernel (odd)",
		},
		{
			Name:        "sigma_x",
			Type:        "float",
			Min:         0.0,
			Max:         50.0,
			Default:     10.0,
			Description: "Gaussian standard deviation in X",
		},
	}
}
