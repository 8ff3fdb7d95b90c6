// Menu and capture actions: still upload and snapshot export
package gui

import (
	"errors"
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/sirupsen/logrus"

	"camera-inspection/internal/core"
	"camera-inspection/internal/io"
)

type captureActions interface {
	UploadImage(path string) error
	Snapshot(dir string) (string, error)
}

// MenuHandler owns the upload and snapshot actions.
type MenuHandler struct {
	window fyne.Window
	loop   captureActions
	logger logrus.FieldLogger

	dirEntry      *widget.Entry
	snapshotBtn   *widget.Button
	uploadBtn     *widget.Button
	containerView *fyne.Container

	onStatus func(string)
	onError  func(string, error)
}

func NewMenuHandler(window fyne.Window, loop captureActions, snapshotDir string, logger logrus.FieldLogger) *MenuHandler {
	mh := &MenuHandler{
		window: window,
		loop:   loop,
		logger: logger,
	}

	mh.dirEntry = widget.NewEntry()
	mh.dirEntry.SetPlaceHolder("Snapshot directory")
	mh.dirEntry.SetText(snapshotDir)

	mh.snapshotBtn = widget.NewButton("Capture", mh.saveSnapshot)
	mh.uploadBtn = widget.NewButton("Upload image...", mh.openImage)

	mh.containerView = container.NewVBox(
		widget.NewLabel("Save to:"),
		mh.dirEntry,
		container.NewGridWithColumns(2, mh.snapshotBtn, mh.uploadBtn),
	)
	return mh
}

func (mh *MenuHandler) GetContainer() fyne.CanvasObject {
	return mh.containerView
}

func (mh *MenuHandler) GetMainMenu() *fyne.MainMenu {
	fileMenu := fyne.NewMenu("File",
		fyne.NewMenuItem("Upload Image...", mh.openImage),
		fyne.NewMenuItem("Capture Snapshot", mh.saveSnapshot),
	)
	helpMenu := fyne.NewMenu("Help",
		fyne.NewMenuItem("About", mh.showAbout),
	)
	return fyne.NewMainMenu(fileMenu, helpMenu)
}

func (mh *MenuHandler) SetCallbacks(onStatus func(string), onError func(string, error)) {
	mh.onStatus = onStatus
	mh.onError = onError
}

func (mh *MenuHandler) openImage() {
	mh.logger.Info("Opening file dialog for still upload")

	fileDialog := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil {
			mh.showError("File Dialog Error", err)
			return
		}
		if reader == nil {
			return
		}
		path := reader.URI().Path()
		reader.Close()

		mh.uploadPath(path)
	}, mh.window)

	fileDialog.SetFilter(storage.NewExtensionFileFilter(io.SupportedFormats()))
	fileDialog.Show()
}

func (mh *MenuHandler) uploadPath(path string) {
	mh.logger.WithField("filepath", path).Info("Uploading still")

	if err := mh.loop.UploadImage(path); err != nil {
		title := "Failed to Load Image"
		if errors.Is(err, core.ErrLiveSource) {
			title = "Camera Is Live"
		}
		mh.showError(title, err)
		return
	}
	mh.status(fmt.Sprintf("Showing still %s", path))
}

func (mh *MenuHandler) saveSnapshot() {
	dir := mh.dirEntry.Text
	path, err := mh.loop.Snapshot(dir)
	switch {
	case err == nil:
		mh.logger.WithField("path", path).Info("Snapshot saved")
		mh.status(fmt.Sprintf("Saved %s", path))
	case errors.Is(err, core.ErrFrameUnavailable):
		mh.showError("No Frame Yet", err)
	case errors.Is(err, io.ErrExportTargetMissing):
		mh.showError("Snapshot Directory Missing", fmt.Errorf("%w: %q", err, dir))
	default:
		mh.showError("Snapshot Failed", err)
	}
}

func (mh *MenuHandler) showAbout() {
	content := container.NewVBox(
		widget.NewLabel("Camera Inspection"),
		widget.NewSeparator(),
		widget.NewLabel("Live threshold, blur and morphology tuning"),
		widget.NewLabel("with region intensity statistics."),
		widget.NewSeparator(),
		widget.NewLabel("Built with Go, Fyne v2.6 and OpenCV"),
	)

	aboutDialog := dialog.NewCustom("About", "Close", content, mh.window)
	aboutDialog.Resize(fyne.NewSize(400, 240))
	aboutDialog.Show()
}

func (mh *MenuHandler) status(message string) {
	if mh.onStatus != nil {
		mh.onStatus(message)
	}
}

func (mh *MenuHandler) showError(title string, err error) {
	if mh.onError != nil {
		mh.onError(title, err)
		return
	}
	mh.logger.WithError(err).Error(title)
	dialog.ShowError(err, mh.window)
}
