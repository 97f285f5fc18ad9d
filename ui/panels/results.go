// Package panels provides the side panels of the main window.
package panels

import (
	"fmt"
	"image"

	"fyne.io/fyne/v2"
	fynecanvas "fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/widget"

	"plate-reader/internal/app"
	"plate-reader/internal/session"
)

const (
	infoTitle    = "THÔNG TIN BIỂN SỐ"
	historyTitle = "LỊCH SỬ NHẬN DIỆN"
	emptyValue   = "-"
)

var historyHeader = []string{"Thời gian", "Ngày", "Biển số", "Tỉnh/TP", "Số xe"}

// historyWidths are the column widths of the history table.
var historyWidths = []float32{80, 90, 110, 140, 80}

// ResultsPanel shows the latest detection, its plate crop and the session
// history. It must only be used on the UI thread.
type ResultsPanel struct {
	plate    *fynecanvas.Text
	province *fynecanvas.Text
	number   *fynecanvas.Text
	crop     *fynecanvas.Image
	counter  *widget.Label
	table    *widget.Table
	records  []session.Record
	content  fyne.CanvasObject
}

// NewResultsPanel creates an empty results panel.
func NewResultsPanel() *ResultsPanel {
	p := &ResultsPanel{
		plate:    fynecanvas.NewText(emptyValue, app.ColorExport),
		province: fynecanvas.NewText(emptyValue, app.ColorValue),
		number:   fynecanvas.NewText(emptyValue, app.ColorValue),
		crop:     &fynecanvas.Image{FillMode: fynecanvas.ImageFillContain},
		counter:  widget.NewLabel(""),
	}
	p.plate.TextSize = 24
	p.plate.TextStyle = fyne.TextStyle{Bold: true, Monospace: true}
	p.province.TextSize = 16
	p.number.TextSize = 16
	p.crop.SetMinSize(fyne.NewSize(240, 80))
	p.crop.Hide()

	p.table = widget.NewTableWithHeaders(
		func() (int, int) { return len(p.records), len(historyHeader) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(id widget.TableCellID, o fyne.CanvasObject) {
			o.(*widget.Label).SetText(p.cell(id.Row, id.Col))
		},
	)
	p.table.ShowHeaderColumn = false
	p.table.CreateHeader = func() fyne.CanvasObject {
		return widget.NewLabelWithStyle("", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	}
	p.table.UpdateHeader = func(id widget.TableCellID, o fyne.CanvasObject) {
		if id.Col >= 0 && id.Col < len(historyHeader) {
			o.(*widget.Label).SetText(historyHeader[id.Col])
		}
	}
	for i, w := range historyWidths {
		p.table.SetColumnWidth(i, w)
	}
	p.updateCounter()

	title := fynecanvas.NewText(infoTitle, app.ColorHeader)
	title.TextSize = 16
	title.TextStyle = fyne.TextStyle{Bold: true}
	title.Alignment = fyne.TextAlignCenter

	bold := fyne.TextStyle{Bold: true}
	form := container.New(
		layout.NewFormLayout(),
		widget.NewLabelWithStyle("Biển số xe:", fyne.TextAlignLeading, bold), p.plate,
		widget.NewLabelWithStyle("Tỉnh/TP:", fyne.TextAlignLeading, bold), p.province,
		widget.NewLabelWithStyle("Số xe:", fyne.TextAlignLeading, bold), p.number,
	)

	top := container.NewVBox(title, widget.NewSeparator(), form, container.NewCenter(p.crop), widget.NewSeparator(),
		widget.NewLabelWithStyle(historyTitle, fyne.TextAlignCenter, bold), p.counter)
	p.content = container.NewBorder(top, nil, nil, nil, p.table)
	return p
}

// Container returns the widget tree to embed in a layout.
func (p *ResultsPanel) Container() fyne.CanvasObject {
	return p.content
}

// ShowDetection displays a detection's fields and crop.
func (p *ResultsPanel) ShowDetection(d app.Detection) {
	setText(p.plate, d.Record.Plate)
	setText(p.province, d.Record.Province)
	setText(p.number, d.Record.Number)
	p.ShowCrop(d.Crop)
}

// Plate returns the plate text on display.
func (p *ResultsPanel) Plate() string {
	return p.plate.Text
}

// ShowCrop displays the plate crop, or hides it when img is nil.
func (p *ResultsPanel) ShowCrop(img image.Image) {
	p.crop.Image = img
	if img == nil {
		p.crop.Hide()
	} else {
		p.crop.Show()
	}
	p.crop.Refresh()
}

// SetRecords replaces the history with a snapshot of the session log and
// scrolls to the newest entry.
func (p *ResultsPanel) SetRecords(records []session.Record) {
	p.records = records
	p.table.Refresh()
	if n := len(records); n > 0 {
		p.table.ScrollTo(widget.TableCellID{Row: n - 1, Col: 0})
	}
	p.updateCounter()
}

func (p *ResultsPanel) cell(row, col int) string {
	if row < 0 || row >= len(p.records) {
		return ""
	}
	r := p.records[row]
	switch col {
	case 0:
		return r.Time()
	case 1:
		return r.Date()
	case 2:
		return r.Plate
	case 3:
		return r.Province
	case 4:
		return r.Number
	}
	return ""
}

func (p *ResultsPanel) updateCounter() {
	p.counter.SetText(fmt.Sprintf("Tổng số: %d", len(p.records)))
}
