package panels

import (
	"image/color"

	"fyne.io/fyne/v2"
	fynecanvas "fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
)

// colorButton is a button drawn over a solid background colour. The
// background dims while the button is disabled.
type colorButton struct {
	*widget.Button
	bg    *fynecanvas.Rectangle
	color color.NRGBA
	obj   fyne.CanvasObject
}

func newColorButton(label string, c color.NRGBA, tapped func()) *colorButton {
	b := &colorButton{
		Button: widget.NewButton(label, tapped),
		bg:     fynecanvas.NewRectangle(c),
		color:  c,
	}
	b.Button.Importance = widget.LowImportance
	b.bg.CornerRadius = 4
	b.obj = container.NewStack(b.bg, b.Button)
	return b
}

func (b *colorButton) SetEnabled(enabled bool) {
	if enabled {
		b.Button.Enable()
		b.bg.FillColor = b.color
	} else {
		b.Button.Disable()
		dim := b.color
		dim.A = 0x60
		b.bg.FillColor = dim
	}
	b.bg.Refresh()
}

func setText(t *fynecanvas.Text, s string) {
	t.Text = s
	t.Refresh()
}
