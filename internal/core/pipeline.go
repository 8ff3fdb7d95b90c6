// Threshold -> blur -> dilate -> erode pipeline with a stage selector
package core

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"camera-inspection/internal/algorithms"
)

// ProcessingStep is one registered algorithm invocation.
type ProcessingStep struct {
	Algorithm  string
	Parameters map[string]interface{}
}

// ProcessingPipeline turns a frame into a binary mask. It holds no per-frame
// state, so the same frame and parameters always produce the same mask.
type ProcessingPipeline struct {
	logger   logrus.FieldLogger
	debugger *PipelineDebugger
}

func NewProcessingPipeline(logger logrus.FieldLogger) *ProcessingPipeline {
	return &ProcessingPipeline{
		logger:   logger.WithField("component", "pipeline"),
		debugger: NewPipelineDebugger(),
	}
}

// Timings reports recent per-stage processing cost.
func (p *ProcessingPipeline) Timings() []StageTiming {
	return p.debugger.GetStats()
}

// Steps returns the stages params selects, in execution order. Gray conversion
// is implicit and always runs first.
func Steps(params PipelineParameters) []ProcessingStep {
	threshold := ProcessingStep{Algorithm: algorithms.BinaryThreshold, Parameters: params.thresholdParams()}
	if params.ThresholdMethod == ThresholdOtsu {
		threshold = ProcessingStep{Algorithm: algorithms.OtsuThreshold, Parameters: map[string]interface{}{"max_value": 255}}
	}
	blur := ProcessingStep{Algorithm: algorithms.Gaussian, Parameters: params.blurParams()}
	dilate := ProcessingStep{Algorithm: algorithms.Dilation, Parameters: params.dilateParams()}
	erode := ProcessingStep{Algorithm: algorithms.Erosion, Parameters: params.erodeParams()}

	switch params.Mode {
	case ModeBinaryOnly:
		return []ProcessingStep{threshold}
	case ModeBlurOnly:
		return []ProcessingStep{blur}
	case ModeDilateOnly:
		return []ProcessingStep{dilate}
	case ModeErodeOnly:
		return []ProcessingStep{erode}
	}
	return []ProcessingStep{threshold, blur, dilate, erode}
}

// Process runs the stages selected by params over frame. Parameters are
// validated before any gocv call; the frame is not modified.
func (p *ProcessingPipeline) Process(frame Frame, params PipelineParameters) (Mask, error) {
	if frame.Empty() {
		return Mask{}, fmt.Errorf("process frame %d: empty frame", frame.Seq)
	}
	if err := params.Validate(); err != nil {
		return Mask{}, fmt.Errorf("process frame %d: %w", frame.Seq, err)
	}

	current := gocv.NewMat()
	if frame.Mat.Channels() == 1 {
		frame.Mat.CopyTo(&current)
	} else {
		gocv.CvtColor(frame.Mat, &current, gocv.ColorBGRToGray)
	}

	for i, step := range Steps(params) {
		start := time.Now()
		result, err := algorithms.Apply(step.Algorithm, current, step.Parameters)
		p.debugger.LogOperation(step.Algorithm, err == nil, time.Since(start))
		if err != nil {
			p.logger.WithFields(logrus.Fields{
				"step":      i,
				"algorithm": step.Algorithm,
				"seq":       frame.Seq,
			}).WithError(err).Error("Pipeline step failed")
			current.Close()
			result.Close()
			return Mask{}, fmt.Errorf("process frame %d: step %s: %w", frame.Seq, step.Algorithm, err)
		}
		current.Close()
		current = result
	}

	if current.Cols() != frame.Width() || current.Rows() != frame.Height() {
		current.Close()
		return Mask{}, fmt.Errorf("process frame %d: mask size %dx%d differs from frame %dx%d",
			frame.Seq, current.Cols(), current.Rows(), frame.Width(), frame.Height())
	}

	p.logger.WithFields(logrus.Fields{
		"seq":  frame.Seq,
		"mode": params.Mode.String(),
	}).Debug("Frame processed")

	return Mask{Mat: current, Seq: frame.Seq}, nil
}
