// Live-tunable pipeline parameters with copy-on-write snapshots
package core

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"camera-inspection/internal/algorithms"
)

// Mode selects which pipeline stages run.
type Mode int

const (
	ModeFull Mode = iota
	ModeBinaryOnly
	ModeBlurOnly
	ModeDilateOnly
	ModeErodeOnly
)

var modeNames = []string{"full", "binary", "blur", "dilate", "erode"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

func (m Mode) Valid() bool {
	return m >= ModeFull && m <= ModeErodeOnly
}

// ModeNames returns the textual names accepted by ParseMode, in Mode order.
func ModeNames() []string {
	out := make([]string, len(modeNames))
	copy(out, modeNames)
	return out
}

// ParseMode accepts the names returned by Mode.String.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range modeNames {
		if s == name {
			return Mode(i), nil
		}
	}
	return ModeFull, fmt.Errorf("%w: unknown mode %q", ErrInvalidParameter, s)
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %d", ErrInvalidParameter, int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ThresholdMethod selects how the binarization cutoff is chosen.
type ThresholdMethod int

const (
	ThresholdFixed ThresholdMethod = iota
	ThresholdOtsu
)

func (t ThresholdMethod) String() string {
	switch t {
	case ThresholdFixed:
		return "fixed"
	case ThresholdOtsu:
		return "otsu"
	}
	return fmt.Sprintf("threshold(%d)", int(t))
}

func ParseThresholdMethod(s string) (ThresholdMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "":
		return ThresholdFixed, nil
	case "otsu":
		return ThresholdOtsu, nil
	}
	return ThresholdFixed, fmt.Errorf("%w: unknown threshold method %q", ErrInvalidParameter, s)
}

func (t ThresholdMethod) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ThresholdMethod) UnmarshalText(text []byte) error {
	parsed, err := ParseThresholdMethod(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// PipelineParameters is a plain value; every processing tick works on its own copy.
type PipelineParameters struct {
	BinaryThreshold  int             `json:"binary_threshold"`
	ThresholdMethod  ThresholdMethod `json:"threshold_method"`
	BlurKernel       int             `json:"blur_kernel"`
	DilateKernel     int             `json:"dilate_kernel"`
	ErodeKernel      int             `json:"erode_kernel"`
	DilateIterations int             `json:"dilate_iterations"`
	ErodeIterations  int             `json:"erode_iterations"`
	Mode             Mode            `json:"mode"`
}

// DefaultParameters mirrors the startup state of the slider panel: threshold 0,
// 1x1 kernels and a single iteration per morphology stage.
func DefaultParameters() PipelineParameters {
	return PipelineParameters{
		BinaryThreshold:  0,
		ThresholdMethod:  ThresholdFixed,
		BlurKernel:       1,
		DilateKernel:     1,
		ErodeKernel:      1,
		DilateIterations: 1,
		ErodeIterations:  1,
		Mode:             ModeFull,
	}
}

// DilateDemoParameters is the single-stage dilation preset: 10 iterations of a 3x3 element.
func DilateDemoParameters() PipelineParameters {
	p := DefaultParameters()
	p.Mode = ModeDilateOnly
	p.DilateKernel = 3
	p.DilateIterations = 10
	return p
}

// Validate checks every field through the stage validators so that the store and
// the pipeline agree on what is acceptable.
func (p PipelineParameters) Validate() error {
	if !p.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %d", ErrInvalidParameter, int(p.Mode))
	}
	if p.ThresholdMethod != ThresholdFixed && p.ThresholdMethod != ThresholdOtsu {
		return fmt.Errorf("%w: unknown threshold method %d", ErrInvalidParameter, int(p.ThresholdMethod))
	}
	checks := []struct {
		algorithm string
		params    map[string]interface{}
	}{
		{algorithms.BinaryThreshold, p.thresholdParams()},
		{algorithms.Gaussian, p.blurParams()},
		{algorithms.Dilation, p.dilateParams()},
		{algorithms.Erosion, p.erodeParams()},
	}
	for _, c := range checks {
		if err := algorithms.ValidateParameters(c.algorithm, c.params); err != nil {
			return err
		}
	}
	return nil
}

func (p PipelineParameters) thresholdParams() map[string]interface{} {
	return map[string]interface{}{"threshold": p.BinaryThreshold, "max_value": 255}
}

func (p PipelineParameters) blurParams() map[string]interface{} {
	return map[string]interface{}{"kernel_size": p.BlurKernel, "sigma_x": 10}
}

func (p PipelineParameters) dilateParams() map[string]interface{} {
	return map[string]interface{}{"kernel_size": p.DilateKernel, "iterations": p.DilateIterations}
}

func (p PipelineParameters) erodeParams() map[string]interface{} {
	return map[string]interface{}{"kernel_size": p.ErodeKernel, "iterations": p.ErodeIterations}
}

// Parameter field names accepted by ParameterStore.Set.
const (
	FieldBinaryThreshold  = "binary_threshold"
	FieldThresholdMethod  = "threshold_method"
	FieldBlurKernel       = "blur_kernel"
	FieldDilateKernel     = "dilate_kernel"
	FieldErodeKernel      = "erode_kernel"
	FieldDilateIterations = "dilate_iterations"
	FieldErodeIterations  = "erode_iterations"
	FieldMode             = "mode"
)

// ParameterStore holds the current PipelineParameters. Readers load an immutable
// pointer; writers serialize on mu, validate a modified copy and swap it in.
type ParameterStore struct {
	mu      sync.Mutex
	current atomic.Pointer[PipelineParameters]

	onChange func(PipelineParameters)
}

// NewParameterStore returns a store seeded with initial, which must be valid.
func NewParameterStore(initial PipelineParameters) (*ParameterStore, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	s := &ParameterStore{}
	p := initial
	s.current.Store(&p)
	return s, nil
}

// Snapshot returns a copy of the current parameters. Never blocks on writers.
func (s *ParameterStore) Snapshot() PipelineParameters {
	return *s.current.Load()
}

// OnChange registers fn to be called after every accepted write.
func (s *ParameterStore) OnChange(fn func(PipelineParameters)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// update applies mutate to a copy of the current value. A rejected candidate
// leaves the stored value untouched.
func (s *ParameterStore) update(mutate func(p *PipelineParameters)) error {
	s.mu.Lock()
	next := *s.current.Load()
	mutate(&next)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.current.Store(&next)
	callback := s.onChange
	s.mu.Unlock()

	if callback != nil {
		callback(next)
	}
	return nil
}

// Replace swaps in a whole parameter set.
func (s *ParameterStore) Replace(p PipelineParameters) error {
	return s.update(func(cur *PipelineParameters) { *cur = p })
}

func (s *ParameterStore) SetBinaryThreshold(v int) error {
	return s.update(func(p *PipelineParameters) { p.BinaryThreshold = v })
}

func (s *ParameterStore) SetThresholdMethod(m ThresholdMethod) error {
	return s.update(func(p *PipelineParameters) { p.ThresholdMethod = m })
}

func (s *ParameterStore) SetBlurKernel(v int) error {
	return s.update(func(p *PipelineParameters) { p.BlurKernel = v })
}

func (s *ParameterStore) SetDilateKernel(v int) error {
	return s.update(func(p *PipelineParameters) { p.DilateKernel = v })
}

func (s *ParameterStore) SetErodeKernel(v int) error {
	return s.update(func(p *PipelineParameters) { p.ErodeKernel = v })
}

func (s *ParameterStore) SetDilateIterations(v int) error {
	return s.update(func(p *PipelineParameters) { p.DilateIterations = v })
}

func (s *ParameterStore) SetErodeIterations(v int) error {
	return s.update(func(p *PipelineParameters) { p.ErodeIterations = v })
}

func (s *ParameterStore) SetMode(m Mode) error {
	return s.update(func(p *PipelineParameters) { p.Mode = m })
}

// Set updates a single field by name. Mode and threshold method take their
// integer enum values.
func (s *ParameterStore) Set(field string, value int) error {
	switch field {
	case FieldBinaryThreshold:
		return s.SetBinaryThreshold(value)
	case FieldThresholdMethod:
		return s.SetThresholdMethod(ThresholdMethod(value))
	case FieldBlurKernel:
		return s.SetBlurKernel(value)
	case FieldDilateKernel:
		return s.SetDilateKernel(value)
	case FieldErodeKernel:
		return s.SetErodeKernel(value)
	case FieldDilateIterations:
		return s.SetDilateIterations(value)
	case FieldErodeIterations:
		return s.SetErodeIterations(value)
	case FieldMode:
		return s.SetMode(Mode(value))
	}
	return fmt.Errorf("%w: unknown field %q", ErrInvalidParameter, field)
}
