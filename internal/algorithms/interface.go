// Stage registry for the morphology pipeline
package algorithms

import (
	"errors"
	"fmt"
	"sort"

	"gocv.io/x/gocv"
)

// ErrInvalidParameter is returned when a stage parameter is out of range.
var ErrInvalidParameter = errors.New("invalid parameter")

// Algorithm defines the interface for image processing stages
type Algorithm interface {
	Apply(input gocv.Mat, params map[string]interface{}) (gocv.Mat, error)
	GetDefaultParams() map[string]interface{}
	GetName() string
	GetDescription() string
	Validate(params map[string]interface{}) error
	GetParameterInfo() []ParameterInfo
}

// ParameterInfo describes a parameter for UI generation
type ParameterInfo struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"` // "int", "float", "bool", "string", "enum"
	Min         interface{} `json:"min,omitempty"`
	Max         interface{} `json:"max,omitempty"`
	Default     interface{} `json:"default"`
	Description string      `json:"description"`
	Options     []string    `json:"options,omitempty"` // For enum type
}

// Registered stage names
const (
	BinaryThreshold = "binary_threshold"
	OtsuThreshold   = "otsu_threshold"
	Gaussian        = "gaussian"
	Dilation        = "dilation"
	Erosion         = "erosion"
)

var algorithms = make(map[string]Algorithm)

func Register(name string, algorithm Algorithm) {
	algorithms[name] = algorithm
}

func Get(name string) (Algorithm, bool) {
	algorithm, exists := algorithms[name]
	return algorithm, exists
}

// Apply validates params and runs the named stage. The input Mat is never modified.
func Apply(name string, input gocv.Mat, params map[string]interface{}) (gocv.Mat, error) {
	algorithm, exists := algorithms[name]
	if !exists {
		return gocv.NewMat(), fmt.Errorf("algorithm not found: %s", name)
	}

	if err := algorithm.Validate(params); err != nil {
		return gocv.NewMat(), fmt.Errorf("%s: %w", name, err)
	}

	return algorithm.Apply(input, params)
}

func ValidateParameters(name string, params map[string]interface{}) error {
	algorithm, exists := algorithms[name]
	if !exists {
		return fmt.Errorf("algorithm not found: %s", name)
	}

	return algorithm.Validate(params)
}

func IsValidAlgorithm(name string) bool {
	_, exists := algorithms[name]
	return exists
}

// Names returns the registered stage names in sorted order.
func Names() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func GetAlgorithmsByCategory() map[string][]string {
	return map[string][]string{
		"Binarization": {
			BinaryThreshold,
			OtsuThreshold,
		},
		"Filters": {
			Gaussian,
		},
		"Morphology": {
			Dilation,
			Erosion,
		},
	}
}

// intParam reads an integer parameter, accepting the int and float64 forms
// produced by Go callers and JSON decoding respectively.
func intParam(params map[string]interface{}, key string, def int) (int, error) {
	val, ok := params[key]
	if !ok {
		return def, nil
	}
	switch v := val.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidParameter, key, v)
		}
		return int(v), nil
	}
	return 0, fmt.Errorf("%w: %s has unsupported type %T", ErrInvalidParameter, key, val)
}

func floatParam(params map[string]interface{}, key string, def float64) (float64, error) {
	val, ok := params[key]
	if !ok {
		return def, nil
	}
	switch v := val.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	}
	return 0, fmt.Errorf("%w: %s has unsupported type %T", ErrInvalidParameter, key, val)
}

func checkRange(key string, v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %s must be between %d and %d, got %d", ErrInvalidParameter, key, min, max, v)
	}
	return nil
}

// EnsureGrayscale returns the input itself when it is already single channel.
// Otherwise it returns a new BGR->gray conversion the caller must close.
func EnsureGrayscale(input gocv.Mat) gocv.Mat {
	if input.Channels() == 1 {
		return input
	}

	gray := gocv.NewMat()
	gocv.CvtColor(input, &gray, gocv.ColorBGRToGray)
	return gray
}

func init() {
	Register(BinaryThreshold, NewBinaryThreshold())
	Register(OtsuThreshold, NewOtsu())

	Register(Gaussian, NewGaussianFilter())

	Register(Dilation, NewDilation())
	Register(Erosion, NewErosion())
}
