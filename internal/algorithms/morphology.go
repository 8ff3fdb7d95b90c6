// Morphological operations algorithms
package algorithms

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Kernel and iteration limits shared by every stage.
const (
	MaxKernelSize = 99
	MaxIterations = 50
)

type morphOp func(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat)

// applyMorphology runs op with a square MorphRect element, iterations times.
// The caller must have validated kernel size and iterations.
func applyMorphology(input gocv.Mat, params map[string]interface{}, op morphOp) (gocv.Mat, error) {
	if input.Empty() {
		return gocv.NewMat(), fmt.Errorf("input image is empty")
	}

	kernelSize, err := intParam(params, "kernel_size", 1)
	if err != nil {
		return gocv.NewMat(), err
	}
	iterations, err := intParam(params, "iterations", 1)
	if err != nil {
		return gocv.NewMat(), err
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(kernelSize, kernelSize))
	defer kernel.Close()

	output := gocv.NewMat()
	op(input, &output, kernel)

	for i := 1; i < iterations; i++ {
		temp := gocv.NewMat()
		op(output, &temp, kernel)
		output.Close()
		output = temp
	}

	return output, nil
}

func validateMorphology(params map[string]interface{}) error {
	kernelSize, err := intParam(params, "kernel_size", 1)
	if err != nil {
		return err
	}
	if err := checkRange("kernel_size", kernelSize, 1, MaxKernelSize); err != nil {
		return err
	}

	iterations, err := intParam(params, "iterations", 1)
	if err != nil {
		return err
	}
	return checkRange("iterations", iterations, 1, MaxIterations)
}

func morphologyParameterInfo(verb string) []ParameterInfo {
	return []ParameterInfo{
		{
			Name:        "kernel_size",
			Type:        "int",
			Min:         1.0,
			Max:         float64(MaxKernelSize),
			Default:     1.0,
			Description: "Side of the square structuring element",
		},
		{
			Name:        "iterations",
			Type:        "int",
			Min:         1.0,
			Max:         float64(MaxIterations),
			Default:     1.0,
			Description: "Number of " + verb + " iterations",
		},
	}
}

// ErosionAlgorithm implements morphological erosion
type ErosionAlgorithm struct{}

// NewErosion creates a new erosion algorithm
func NewErosion() *ErosionAlgorithm {
	return &ErosionAlgorithm{}
}

func (e *ErosionAlgorithm) Apply(input gocv.Mat, params map[string]interface{}) (gocv.Mat, error) {
	return applyMorphology(input, params, func(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat) {
		gocv.Erode(src, dst, kernel)
	})
}

func (e *ErosionAlgorithm) GetDefaultParams() map[string]interface{} {
	return map[string]interface{}{
		"kernel_size": 1.0,
		"iterations":  1.0,
	}
}

func (e *ErosionAlgorithm) GetName() string {
	return "Erosion"
}

func (e *ErosionAlgorithm) GetDescription() string {
	return "Morphological erosion to shrink foreground regions"
}

func (e *ErosionAlgorithm) Validate(params map[string]interface{}) error {
	return validateMorphology(params)
}

func (e *ErosionAlgorithm) GetParameterInfo() []ParameterInfo {
	return morphologyParameterInfo("erosion")
}

// DilationAlgorithm implements morphological dilation
type DilationAlgorithm struct{}

// NewDilation creates a new dilation algorithm
func NewDilation() *DilationAlgorithm {
	return &DilationAlgorithm{}
}

func (d *DilationAlgorithm) Apply(input gocv.Mat, params map[string]interface{}) (gocv.Mat, error) {
	return applyMorphology(input, params, func(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat) {
		gocv.Dilate(src, dst, kernel)
	})
}

func (d *DilationAlgorithm) GetDefaultParams() map[string]interface{} {
	return map[string]interface{}{
		"kernel_size": 1.0,
		"iterations":  1.0,
	}
}

func (d *DilationAlgorithm) GetName() string {
	return "Dilation"
}

func (d *DilationAlgorithm) GetDescription() string {
	return "Morphological dilation to grow foreground regions"
}

func (d *DilationAlgorithm) Validate(params map[string]interface{}) error {
	return validateMorphology(params)
}

func (d *DilationAlgorithm) GetParameterInfo() []ParameterInfo {
	return morphologyParameterInfo("dilation")
}
