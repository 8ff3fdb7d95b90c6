// Main inspection window: frame panes, tuning controls and a status line
package gui

import (
	"fmt"
	"image"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/sirupsen/logrus"

	"camera-inspection/internal/core"
	"camera-inspection/internal/metrics"
)

// Controller is the part of the capture loop the window drives.
type Controller interface {
	captureActions
	Stats() metrics.Stats
	SourceMode() core.SourceMode
	Stop()
}

// Application is the desktop display sink and parameter source.
type Application struct {
	app       fyne.App
	window    fyne.Window
	logger    logrus.FieldLogger
	debugMode bool

	loop  Controller
	store *core.ParameterStore

	canvas      *ImageCanvas
	controls    *ControlPanel
	menuHandler *MenuHandler

	statusLabel *widget.Label
	statusCard  *widget.Card
}

// NewApplication builds the window. The capture loop is attached afterwards
// because it publishes into the window.
func NewApplication(app fyne.App, store *core.ParameterStore, snapshotDir string, logger logrus.FieldLogger, debugMode bool) *Application {
	window := app.NewWindow("Camera Inspection")
	window.Resize(fyne.NewSize(1800, 1200))
	window.CenterOnScreen()

	a := &Application{
		app:       app,
		window:    window,
		logger:    logger.WithField("component", "gui"),
		debugMode: debugMode,
		store:     store,
	}

	a.canvas = NewImageCanvas()
	a.controls = NewControlPanel(store, a.logger)
	a.menuHandler = NewMenuHandler(window, a, snapshotDir, a.logger)

	a.setupLayout()
	a.setupCallbacks()
	return a
}

func (a *Application) setupLayout() {
	a.statusLabel = widget.NewLabel("Waiting for frames")
	a.statusCard = widget.NewCard("Status", "", a.statusLabel)

	left := container.NewVBox(
		widget.NewCard("Pipeline", "", a.controls.GetContainer()),
		widget.NewCard("Capture", "", a.menuHandler.GetContainer()),
		a.statusCard,
	)

	mainContent := container.NewHSplit(
		container.NewVScroll(left),
		container.NewPadded(a.canvas.GetContainer()),
	)
	mainContent.SetOffset(0.25)

	a.window.SetMainMenu(a.menuHandler.GetMainMenu())
	a.window.SetContent(mainContent)
}

func (a *Application) setupCallbacks() {
	a.controls.SetErrorCallback(func(err error) {
		a.showError("Parameter Rejected", err)
	})
	a.menuHandler.SetCallbacks(
		// onStatus
		func(message string) {
			a.updateStatusMessage(message)
		},
		// onError
		func(title string, err error) {
			a.showError(title, err)
		},
	)
}

// Attach connects the capture loop. Call it before the loop starts.
func (a *Application) Attach(loop Controller) {
	a.loop = loop
}

// UploadImage forwards to the attached loop.
func (a *Application) UploadImage(path string) error {
	if a.loop == nil {
		return core.ErrNotRunning
	}
	return a.loop.UploadImage(path)
}

// Snapshot forwards to the attached loop.
func (a *Application) Snapshot(dir string) (string, error) {
	if a.loop == nil {
		return "", core.ErrNotRunning
	}
	return a.loop.Snapshot(dir)
}

// OnRawFrame implements core.DisplaySink.
func (a *Application) OnRawFrame(img image.Image, info core.FrameInfo) {
	fyne.Do(func() {
		a.canvas.Update(PaneRaw, img)
	})
}

// OnProcessedMask implements core.DisplaySink.
func (a *Application) OnProcessedMask(img image.Image, info core.FrameInfo) {
	fyne.Do(func() {
		a.canvas.Update(PaneMask, img)
	})
}

// OnOverlay implements core.DisplaySink.
func (a *Application) OnOverlay(img image.Image, regions []core.Region, summary *core.Summary, info core.FrameInfo) {
	mode, stats := core.SourceNone, metrics.Stats{}
	if a.loop != nil {
		mode, stats = a.loop.SourceMode(), a.loop.Stats()
	}
	status := formatStatus(mode, stats, summary, info)
	if a.debugMode {
		a.logger.WithField("seq", info.Seq).WithField("regions", len(regions)).Debug("Overlay delivered")
	}
	fyne.Do(func() {
		a.canvas.Update(PaneOverlay, img)
		a.statusLabel.SetText(status)
	})
}

// ParametersChanged moves the controls to p after a write from another source.
func (a *Application) ParametersChanged(p core.PipelineParameters) {
	fyne.Do(a.controls.Sync)
}

func (a *Application) updateStatusMessage(message string) {
	fyne.Do(func() {
		a.statusLabel.SetText(message)
	})
}

// ShowAndRun blocks until the window is closed. Closing stops the loop.
func (a *Application) ShowAndRun() {
	a.logger.Info("Showing main window")

	a.window.SetCloseIntercept(func() {
		a.cleanup()
		a.app.Quit()
	})

	a.window.ShowAndRun()
}

// Quit closes the window from outside the UI goroutine.
func (a *Application) Quit() {
	fyne.Do(func() {
		a.cleanup()
		a.app.Quit()
	})
}

func (a *Application) cleanup() {
	if a.loop == nil {
		return
	}
	a.logger.Info("Stopping capture loop")
	a.loop.Stop()
}

func (a *Application) showError(title string, err error) {
	a.logger.WithError(err).Warn(title)
	fyne.Do(func() {
		dialog.ShowError(err, a.window)
	})
}

func formatStatus(mode core.SourceMode, stats metrics.Stats, summary *core.Summary, info core.FrameInfo) string {
	line := fmt.Sprintf("%s #%d  %dx%d  %.1f fps  dropped %d",
		mode, info.Seq, info.Width, info.Height, stats.FPS, stats.Dropped)
	if summary == nil {
		return line + "\nno regions"
	}
	return fmt.Sprintf("%s\n%d regions, mean intensity %.1f", line, summary.Regions, summary.Mean)
}
