package panels

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"

	"plate-reader/internal/app"
)

// Actions are the commands behind the control buttons.
type Actions struct {
	StartCamera func()
	StopCamera  func()
	SelectImage func()
	Export      func()
	Exit        func()
}

// ControlsPanel is the column of command buttons.
type ControlsPanel struct {
	start, stop, selectImage, export, exit *colorButton
	content                                fyne.CanvasObject
}

// NewControlsPanel creates the buttons wired to actions.
func NewControlsPanel(a Actions) *ControlsPanel {
	p := &ControlsPanel{
		start:       newColorButton("Bắt đầu camera", app.ColorCamera, a.StartCamera),
		stop:        newColorButton("Dừng camera", app.ColorStop, a.StopCamera),
		selectImage: newColorButton("Chọn ảnh", app.ColorImage, a.SelectImage),
		export:      newColorButton("Xuất Excel", app.ColorExport, a.Export),
		exit:        newColorButton("Thoát", app.ColorExit, a.Exit),
	}
	p.content = container.NewVBox(p.start.obj, p.stop.obj, p.selectImage.obj, p.export.obj, p.exit.obj)
	p.SetCameraRunning(false)
	return p
}

// SetCameraRunning enables the buttons that make sense for the camera state.
func (p *ControlsPanel) SetCameraRunning(running bool) {
	p.start.SetEnabled(!running)
	p.stop.SetEnabled(running)
}

// Container returns the widget tree to embed in a layout.
func (p *ControlsPanel) Container() fyne.CanvasObject {
	return p.content
}
