package gui

import (
	"errors"
	"image"
	"testing"

	fynetest "fyne.io/fyne/v2/test"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camera-inspection/internal/core"
	"camera-inspection/internal/io"
	"camera-inspection/internal/metrics"
)

type fakeLoop struct {
	uploads     []string
	uploadErr   error
	snapshotDir string
	snapshotErr error
	stopped     int
}

func (f *fakeLoop) UploadImage(path string) error {
	f.uploads = append(f.uploads, path)
	return f.uploadErr
}

func (f *fakeLoop) Snapshot(dir string) (string, error) {
	f.snapshotDir = dir
	return dir + "/snap.png", f.snapshotErr
}

func (f *fakeLoop) Stats() metrics.Stats        { return metrics.Stats{FPS: 24, Dropped: 2} }
func (f *fakeLoop) SourceMode() core.SourceMode { return core.SourceLive }
func (f *fakeLoop) Stop()                       { f.stopped++ }

func newStore(t *testing.T) *core.ParameterStore {
	t.Helper()
	store, err := core.NewParameterStore(core.DefaultParameters())
	require.NoError(t, err)
	return store
}

func TestControlPanelWritesStore(t *testing.T) {
	fynetest.NewApp()
	logger, _ := test.NewNullLogger()
	store := newStore(t)
	cp := NewControlPanel(store, logger)

	cp.setField(core.FieldDilateKernel, 5)
	cp.setField(core.FieldErodeIterations, 4)
	cp.modeSelect.SetSelected("erode")
	cp.otsuCheck.SetChecked(true)

	p := store.Snapshot()
	assert.Equal(t, 5, p.DilateKernel)
	assert.Equal(t, 4, p.ErodeIterations)
	assert.Equal(t, core.ModeErodeOnly, p.Mode)
	assert.Equal(t, core.ThresholdOtsu, p.ThresholdMethod)
	assert.True(t, cp.sliders[core.FieldBinaryThreshold].Disabled())
}

func TestControlPanelRejectedValueSnapsBack(t *testing.T) {
	fynetest.NewApp()
	logger, _ := test.NewNullLogger()
	store := newStore(t)
	cp := NewControlPanel(store, logger)

	var reported []error
	cp.SetErrorCallback(func(err error) { reported = append(reported, err) })

	cp.setField(core.FieldBlurKernel, 4)

	require.Len(t, reported, 1)
	assert.True(t, errors.Is(reported[0], core.ErrInvalidParameter))
	assert.Equal(t, 1, store.Snapshot().BlurKernel)
	assert.Equal(t, 0.0, cp.sliders[core.FieldBlurKernel].Value)
	assert.Equal(t, "1", cp.values[core.FieldBlurKernel].Text)
}

func TestControlPanelPresetAndSync(t *testing.T) {
	fynetest.NewApp()
	logger, _ := test.NewNullLogger()
	store := newStore(t)
	cp := NewControlPanel(store, logger)

	cp.presetBtn.OnTapped()
	assert.Equal(t, core.DilateDemoParameters(), store.Snapshot())
	assert.Equal(t, "dilate", cp.modeSelect.Selected)
	assert.Equal(t, 10.0, cp.sliders[core.FieldDilateIterations].Value)

	// a write from another source only moves the widgets
	require.NoError(t, store.SetBinaryThreshold(120))
	cp.Sync()
	assert.Equal(t, 120.0, cp.sliders[core.FieldBinaryThreshold].Value)
	assert.Equal(t, "120", cp.values[core.FieldBinaryThreshold].Text)
}

func TestMenuHandlerActions(t *testing.T) {
	app := fynetest.NewApp()
	logger, _ := test.NewNullLogger()
	loop := &fakeLoop{}
	mh := NewMenuHandler(app.NewWindow("test"), loop, "/snaps", logger)

	var statuses []string
	var failures []string
	mh.SetCallbacks(
		func(msg string) { statuses = append(statuses, msg) },
		func(title string, err error) { failures = append(failures, title) },
	)

	mh.saveSnapshot()
	assert.Equal(t, "/snaps", loop.snapshotDir)
	assert.Equal(t, []string{"Saved /snaps/snap.png"}, statuses)

	loop.snapshotErr = io.ErrExportTargetMissing
	mh.dirEntry.SetText("/missing")
	mh.saveSnapshot()
	assert.Equal(t, "/missing", loop.snapshotDir)
	assert.Equal(t, []string{"Snapshot Directory Missing"}, failures)

	mh.uploadPath("/tmp/part.png")
	assert.Equal(t, []string{"/tmp/part.png"}, loop.uploads)
	assert.Len(t, statuses, 2)

	loop.uploadErr = core.ErrLiveSource
	mh.uploadPath("/tmp/other.png")
	assert.Equal(t, "Camera Is Live", failures[len(failures)-1])
}

func TestImageCanvasUpdate(t *testing.T) {
	fynetest.NewApp()
	ic := NewImageCanvas()

	img := image.NewGray(image.Rect(0, 0, 4, 3))
	ic.Update(PaneMask, img)
	assert.Equal(t, image.Image(img), ic.Image(PaneMask))
	assert.Nil(t, ic.Image(PaneRaw))

	ic.Update(Pane(7), img)
	assert.Nil(t, ic.Image(Pane(7)))
}

func TestFormatStatus(t *testing.T) {
	info := core.FrameInfo{Seq: 9, Width: 640, Height: 480}
	stats := metrics.Stats{FPS: 23.96, Dropped: 3}

	assert.Equal(t, "live #9  640x480  24.0 fps  dropped 3\nno regions",
		formatStatus(core.SourceLive, stats, nil, info))
	assert.Equal(t, "fallback #9  640x480  24.0 fps  dropped 3\n2 regions, mean intensity 87.5",
		formatStatus(core.SourceFallback, stats, &core.Summary{Regions: 2, Mean: 87.5}, info))
}

func TestApplicationForwardsToAttachedLoop(t *testing.T) {
	app := fynetest.NewApp()
	logger, _ := test.NewNullLogger()
	a := NewApplication(app, newStore(t), "/snaps", logger, false)

	_, err := a.Snapshot("/snaps")
	assert.ErrorIs(t, err, core.ErrNotRunning)
	assert.ErrorIs(t, a.UploadImage("/tmp/part.png"), core.ErrNotRunning)

	loop := &fakeLoop{}
	a.Attach(loop)
	path, err := a.Snapshot("/snaps")
	require.NoError(t, err)
	assert.Equal(t, "/snaps/snap.png", path)
	require.NoError(t, a.UploadImage("/tmp/part.png"))
	assert.Equal(t, []string{"/tmp/part.png"}, loop.uploads)

	a.cleanup()
	assert.Equal(t, 1, loop.stopped)
}
