// Pipeline tuning controls bound to the parameter store
package gui

import (
	"strconv"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	"github.com/sirupsen/logrus"

	"camera-inspection/internal/algorithms"
	"camera-inspection/internal/core"
)

// sliderMax caps the kernel sliders; PUT /api/params accepts up to
// algorithms.MaxKernelSize.
const sliderMax = 31

// An odd slider moves over n and writes 2n+1, so only odd kernels can be chosen.
type sliderSpec struct {
	field string
	label string
	min   float64
	max   float64
	odd   bool
}

var sliderSpecs = []sliderSpec{
	{core.FieldBinaryThreshold, "Threshold", 0, 255, false},
	{core.FieldBlurKernel, "Blur kernel", 0, sliderMax / 2, true},
	{core.FieldDilateKernel, "Dilate kernel", 1, sliderMax, false},
	{core.FieldDilateIterations, "Dilate iterations", 1, algorithms.MaxIterations, false},
	{core.FieldErodeKernel, "Erode kernel", 1, sliderMax, false},
	{core.FieldErodeIterations, "Erode iterations", 1, algorithms.MaxIterations, false},
}

func (s sliderSpec) toParam(v float64) int {
	if s.odd {
		return 2*int(v) + 1
	}
	return int(v)
}

func (s sliderSpec) toSlider(v int) float64 {
	if s.odd {
		return float64(v / 2)
	}
	return float64(v)
}

type ControlPanel struct {
	store  *core.ParameterStore
	logger logrus.FieldLogger

	container *fyne.Container

	sliders     map[string]*widget.Slider
	values      map[string]*widget.Label
	modeSelect  *widget.Select
	otsuCheck   *widget.Check
	presetBtn   *widget.Button
	resetButton *widget.Button

	// set while widgets are being moved to match the store
	syncing bool

	onError func(error)
}

func NewControlPanel(store *core.ParameterStore, logger logrus.FieldLogger) *ControlPanel {
	cp := &ControlPanel{
		store:   store,
		logger:  logger,
		sliders: make(map[string]*widget.Slider),
		values:  make(map[string]*widget.Label),
	}
	cp.initializeUI()
	cp.Sync()
	return cp
}

func (cp *ControlPanel) initializeUI() {
	cp.modeSelect = widget.NewSelect(core.ModeNames(), func(selected string) {
		if cp.syncing {
			return
		}
		mode, err := core.ParseMode(selected)
		if err == nil {
			err = cp.store.SetMode(mode)
		}
		cp.report(err)
	})

	cp.otsuCheck = widget.NewCheck("Otsu threshold", func(checked bool) {
		if cp.syncing {
			return
		}
		method := core.ThresholdFixed
		if checked {
			method = core.ThresholdOtsu
		}
		cp.report(cp.store.SetThresholdMethod(method))
		cp.updateThresholdEnabled()
	})

	rows := []fyne.CanvasObject{
		widget.NewLabel("Mode:"),
		cp.modeSelect,
		cp.otsuCheck,
		widget.NewSeparator(),
	}

	for _, spec := range sliderSpecs {
		slider := widget.NewSlider(spec.min, spec.max)
		slider.Step = 1
		valueLabel := widget.NewLabel("")
		slider.OnChanged = func(value float64) {
			valueLabel.SetText(strconv.Itoa(spec.toParam(value)))
			if cp.syncing {
				return
			}
			cp.setField(spec.field, spec.toParam(value))
		}
		cp.sliders[spec.field] = slider
		cp.values[spec.field] = valueLabel

		rows = append(rows,
			widget.NewLabel(spec.label+":"),
			container.NewBorder(nil, nil, nil, valueLabel, slider),
		)
	}

	cp.presetBtn = widget.NewButton("Dilate preset", func() {
		cp.replace(core.DilateDemoParameters())
	})
	cp.resetButton = widget.NewButton("Reset", func() {
		cp.replace(core.DefaultParameters())
	})
	rows = append(rows, widget.NewSeparator(), container.NewGridWithColumns(2, cp.presetBtn, cp.resetButton))

	cp.container = container.NewVBox(rows...)
}

func (cp *ControlPanel) GetContainer() fyne.CanvasObject {
	return cp.container
}

func (cp *ControlPanel) SetErrorCallback(fn func(error)) {
	cp.onError = fn
}

// Sync moves every widget to the stored parameters without writing back.
func (cp *ControlPanel) Sync() {
	p := cp.store.Snapshot()

	cp.syncing = true
	defer func() { cp.syncing = false }()

	cp.modeSelect.SetSelected(p.Mode.String())
	cp.otsuCheck.SetChecked(p.ThresholdMethod == core.ThresholdOtsu)
	values := fieldValues(p)
	for _, spec := range sliderSpecs {
		value := values[spec.field]
		cp.sliders[spec.field].SetValue(spec.toSlider(value))
		cp.values[spec.field].SetText(strconv.Itoa(value))
	}
	cp.updateThresholdEnabled()
}

// setField writes one slider value. A rejected value snaps the widgets back.
func (cp *ControlPanel) setField(field string, value int) {
	if err := cp.store.Set(field, value); err != nil {
		cp.report(err)
		cp.Sync()
		return
	}
	cp.logger.WithField(field, value).Debug("Parameter updated")
}

func (cp *ControlPanel) replace(p core.PipelineParameters) {
	if err := cp.store.Replace(p); err != nil {
		cp.report(err)
	}
	cp.Sync()
}

func (cp *ControlPanel) report(err error) {
	if err == nil {
		return
	}
	cp.logger.WithError(err).Warn("Parameter rejected")
	if cp.onError != nil {
		cp.onError(err)
	}
}

func (cp *ControlPanel) updateThresholdEnabled() {
	slider := cp.sliders[core.FieldBinaryThreshold]
	if cp.otsuCheck.Checked {
		slider.Disable()
	} else {
		slider.Enable()
	}
}

func fieldValues(p core.PipelineParameters) map[string]int {
	return map[string]int{
		core.FieldBinaryThreshold:  p.BinaryThreshold,
		core.FieldBlurKernel:       p.BlurKernel,
		core.FieldDilateKernel:     p.DilateKernel,
		core.FieldDilateIterations: p.DilateIterations,
		core.FieldErodeKernel:      p.ErodeKernel,
		core.FieldErodeIterations:  p.ErodeIterations,
	}
}
