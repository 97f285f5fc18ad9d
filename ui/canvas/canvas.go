// Package canvas provides the video/image display area.
package canvas

import (
	"image"
	"image/color"

	"fyne.io/fyne/v2"
	fynecanvas "fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
)

// Kind says where the displayed image came from.
type Kind int

const (
	KindNone Kind = iota
	KindLive
	KindStill
)

const placeholderText = "Chưa có hình ảnh"

// FrameView shows either the live camera feed or one still image, never both.
// It must only be used on the UI thread.
type FrameView struct {
	bg          *fynecanvas.Rectangle
	img         *fynecanvas.Image
	placeholder *widget.Label
	kind        Kind
	content     *fyne.Container
}

// NewFrameView creates an empty view of at least minSize.
func NewFrameView(minSize fyne.Size) *FrameView {
	v := &FrameView{
		bg:          fynecanvas.NewRectangle(color.White),
		img:         &fynecanvas.Image{FillMode: fynecanvas.ImageFillContain},
		placeholder: widget.NewLabelWithStyle(placeholderText, fyne.TextAlignCenter, fyne.TextStyle{Italic: true}),
	}
	v.bg.SetMinSize(minSize)
	v.img.Hide()
	v.content = container.NewStack(v.bg, v.img, container.NewCenter(v.placeholder))
	return v
}

// Show replaces the displayed image.
func (v *FrameView) Show(img image.Image, kind Kind) {
	if img == nil {
		v.Clear()
		return
	}
	if kind == KindLive {
		// Frames arrive many times a second; skip smoothing.
		v.img.ScaleMode = fynecanvas.ImageScaleFastest
	} else {
		v.img.ScaleMode = fynecanvas.ImageScaleSmooth
	}
	v.img.Image = img
	v.kind = kind
	v.placeholder.Hide()
	v.img.Show()
	v.img.Refresh()
}

// Clear removes the displayed image.
func (v *FrameView) Clear() {
	v.img.Image = nil
	v.img.Hide()
	v.kind = KindNone
	v.placeholder.Show()
	v.content.Refresh()
}

// Kind returns what is currently shown.
func (v *FrameView) Kind() Kind {
	return v.kind
}

// Container returns the widget tree to embed in a layout.
func (v *FrameView) Container() fyne.CanvasObject {
	return v.content
}
