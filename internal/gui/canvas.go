// Three live image panes: raw frame, processed mask and region overlay
package gui

import (
	"image"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
)

// Pane identifies one of the image views.
type Pane int

const (
	PaneRaw Pane = iota
	PaneMask
	PaneOverlay
)

var paneTitles = [...]string{"Camera", "Mask", "Regions"}

// ImageCanvas must only be touched from the UI goroutine.
type ImageCanvas struct {
	images    [len(paneTitles)]*canvas.Image
	container *fyne.Container
}

func NewImageCanvas() *ImageCanvas {
	ic := &ImageCanvas{}

	cards := make([]fyne.CanvasObject, 0, len(paneTitles))
	for i, title := range paneTitles {
		img := canvas.NewImageFromImage(nil)
		img.FillMode = canvas.ImageFillContain
		img.ScaleMode = canvas.ImageScaleFastest
		// keeps a pane from collapsing before its first frame
		img.SetMinSize(fyne.NewSize(320, 240))
		ic.images[i] = img
		cards = append(cards, widget.NewCard(title, "", img))
	}

	// the overlay gets the full bottom row
	ic.container = container.NewGridWithRows(2,
		container.NewGridWithColumns(2, cards[PaneRaw], cards[PaneMask]),
		cards[PaneOverlay],
	)
	return ic
}

func (ic *ImageCanvas) GetContainer() fyne.CanvasObject {
	return ic.container
}

// Update replaces the picture shown in pane.
func (ic *ImageCanvas) Update(pane Pane, img image.Image) {
	if pane < 0 || int(pane) >= len(ic.images) {
		return
	}
	view := ic.images[pane]
	view.Image = img
	view.Refresh()
}

// Image returns what pane currently shows.
func (ic *ImageCanvas) Image(pane Pane) image.Image {
	if pane < 0 || int(pane) >= len(ic.images) {
		return nil
	}
	return ic.images[pane].Image
}
