// Package mainwindow provides the main application window.
package mainwindow

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"fyne.io/fyne/v2"
	fynecanvas "fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog"

	"plate-reader/internal/app"
	"plate-reader/internal/capture"
	"plate-reader/internal/export"
	plateimage "plate-reader/internal/image"
	"plate-reader/internal/version"
	"plate-reader/ui/canvas"
	"plate-reader/ui/panels"
	"plate-reader/ui/prefs"
)

const (
	windowTitle = "HỆ THỐNG NHẬN DIỆN BIỂN SỐ XE"

	titleError   = "Lỗi"
	titleWarning = "Cảnh báo"
	titleSuccess = "Thành công"

	msgCameraError = "Không thể kết nối với camera."
	msgImageError  = "Không thể đọc ảnh. Vui lòng thử lại."
	msgNoData      = "Chưa có dữ liệu để xuất."
	msgExported    = "Đã xuất dữ liệu thành công vào file %s"
	msgExportError = "Lỗi khi xuất dữ liệu: %v"
	msgNoWriter    = "Không hỗ trợ định dạng này. Vui lòng lưu với đuôi: %v"
)

// MainWindow is the primary application window.
type MainWindow struct {
	fyne.Window
	app       fyne.App
	ctx       context.Context
	state     *app.State
	prefs     *prefs.Prefs
	log       zerolog.Logger
	view      *canvas.FrameView
	results   *panels.ResultsPanel
	controls  *panels.ControlsPanel
	statusBar *widget.Label

	exitOnce sync.Once
}

// New creates the main window. ctx bounds background work started from it.
func New(ctx context.Context, fyneApp fyne.App, state *app.State, p *prefs.Prefs, log zerolog.Logger) *MainWindow {
	win := fyneApp.NewWindow(windowTitle)

	mw := &MainWindow{
		Window: win,
		app:    fyneApp,
		ctx:    ctx,
		state:  state,
		prefs:  p,
		log:    log.With().Str("component", "ui").Logger(),
	}

	mw.setupUI()
	mw.setupEventHandlers()
	state.SetDispatch(fyne.Do)

	win.Resize(fyne.NewSize(1200, 800))
	win.SetCloseIntercept(mw.onExit)
	return mw
}

// setupUI creates the main UI layout.
func (mw *MainWindow) setupUI() {
	mw.view = canvas.NewFrameView(fyne.NewSize(float32(plateimage.DisplaySize.X), float32(plateimage.DisplaySize.Y)))
	mw.results = panels.NewResultsPanel()
	mw.controls = panels.NewControlsPanel(panels.Actions{
		StartCamera: mw.onStartCamera,
		StopCamera:  mw.onStopCamera,
		SelectImage: mw.onSelectImage,
		Export:      mw.onExport,
		Exit:        mw.onExit,
	})
	mw.statusBar = widget.NewLabel(mw.state.Status())

	title := fynecanvas.NewText(windowTitle, app.ColorHeader)
	title.TextSize = 24
	title.TextStyle = fyne.TextStyle{Bold: true}
	title.Alignment = fyne.TextAlignCenter

	split := container.NewHSplit(mw.view.Container(), mw.results.Container())
	split.SetOffset(0.6)

	body := container.NewBorder(
		nil,                                          // top
		nil,                                          // bottom
		container.NewPadded(mw.controls.Container()), // left
		nil,                                          // right
		split,                                        // center
	)

	content := container.NewBorder(
		container.NewPadded(title),                             // top
		container.NewVBox(widget.NewSeparator(), mw.statusBar), // bottom
		nil,                                                    // left
		nil,                                                    // right
		body,                                                   // center
	)

	mw.SetContent(content)
}

// setupEventHandlers registers for application events. Listeners run on the
// UI thread.
func (mw *MainWindow) setupEventHandlers() {
	mw.state.On(app.EventStatus, func(data interface{}) {
		if msg, ok := data.(string); ok {
			mw.statusBar.SetText(msg)
		}
	})

	mw.state.On(app.EventFrame, func(data interface{}) {
		if img, ok := data.(image.Image); ok && img != nil {
			mw.view.Show(img, canvas.KindLive)
		}
	})

	mw.state.On(app.EventStillImage, func(data interface{}) {
		if img, ok := data.(image.Image); ok {
			mw.view.Show(img, canvas.KindStill)
		}
	})

	mw.state.On(app.EventDetection, func(data interface{}) {
		if d, ok := data.(app.Detection); ok {
			mw.results.ShowDetection(d)
		}
	})

	mw.state.On(app.EventLogChanged, func(data interface{}) {
		mw.results.SetRecords(mw.state.Log.Records())
	})

	mw.state.On(app.EventCaptureStarted, func(data interface{}) {
		mw.view.Clear()
		mw.controls.SetCameraRunning(true)
	})

	mw.state.On(app.EventCaptureStopped, func(data interface{}) {
		if mw.view.Kind() == canvas.KindLive {
			mw.view.Clear()
		}
		mw.controls.SetCameraRunning(false)
	})
}

func (mw *MainWindow) onStartCamera() {
	go func() {
		err := mw.state.StartCamera(mw.ctx)
		if !reportCameraError(err) {
			return
		}
		mw.log.Error().Err(err).Msg("camera start failed")
		fyne.Do(func() {
			dialog.ShowInformation(titleError, msgCameraError, mw.Window)
		})
	}()
}

// reportCameraError reports whether a StartCamera error needs a dialog. A
// second start while the camera runs is not a failure.
func reportCameraError(err error) bool {
	return err != nil && !errors.Is(err, capture.ErrAlreadyRunning)
}

func (mw *MainWindow) onStopCamera() {
	// Stop may wait for an in-flight read.
	go mw.state.StopCamera()
}

func (mw *MainWindow) onSelectImage() {
	previous := mw.state.Status()
	mw.state.SetStatus(app.StatusSelectingImage)

	fd := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, mw.Window)
			return
		}
		if reader == nil {
			mw.state.SetStatus(previous)
			return
		}
		path := reader.URI().Path()
		reader.Close()
		mw.prefs.SetDirOf(prefs.LastImageDir, path)

		go func() {
			err := mw.state.SelectImage(mw.ctx, path)
			switch {
			case errors.Is(err, app.ErrBusy):
				return
			case err != nil:
				fyne.Do(func() {
					dialog.ShowInformation(titleError, msgImageError, mw.Window)
				})
			}
		}()
	}, mw.Window)

	fd.SetFilter(storage.NewExtensionFileFilter(plateimage.SupportedFormats()))
	if dir := mw.lastDir(prefs.LastImageDir); dir != nil {
		fd.SetLocation(dir)
	}
	fd.Resize(fyne.NewSize(800, 600))
	fd.Show()
}

func (mw *MainWindow) onExport() {
	if !mw.state.HasRecords() {
		mw.state.SetStatus(app.StatusNoData)
		dialog.ShowInformation(titleWarning, msgNoData, mw.Window)
		return
	}

	fd := dialog.NewFileSave(func(writer fyne.URIWriteCloser, err error) {
		if err != nil {
			dialog.ShowError(err, mw.Window)
			return
		}
		if writer == nil {
			return
		}
		path := writer.URI().Path()
		writer.Close()
		mw.prefs.SetDirOf(prefs.LastExportDir, path)

		written, err := mw.state.Export(path)
		switch {
		case errors.Is(err, export.ErrNoWriter):
			dialog.ShowInformation(titleError, fmt.Sprintf(msgNoWriter, mw.state.ExportFormats()), mw.Window)
		case err != nil:
			mw.log.Error().Err(err).Str("path", path).Msg("export failed")
			dialog.ShowInformation(titleError, fmt.Sprintf(msgExportError, err), mw.Window)
		default:
			dialog.ShowInformation(titleSuccess, fmt.Sprintf(msgExported, written), mw.Window)
		}
	}, mw.Window)

	fd.SetFileName(export.DefaultFileName)
	fd.SetFilter(storage.NewExtensionFileFilter(mw.state.ExportFormats()))
	if dir := mw.lastDir(prefs.LastExportDir); dir != nil {
		fd.SetLocation(dir)
	}
	fd.Resize(fyne.NewSize(800, 600))
	fd.Show()
}

// onExit is reached from both the Exit button and the window close box.
// Teardown waits on the camera, so it runs off the UI thread.
func (mw *MainWindow) onExit() {
	mw.exitOnce.Do(func() {
		mw.log.Info().Str("version", version.Version).Int("records", mw.state.Log.Len()).Msg("exiting")
		go func() {
			mw.shutdown()
			fyne.Do(mw.app.Quit)
		}()
	})
}

// shutdown releases the camera and persists preferences.
func (mw *MainWindow) shutdown() {
	mw.state.Close()
	if err := mw.prefs.Save(); err != nil {
		mw.log.Warn().Err(err).Msg("failed to save preferences")
	}
}

// lastDir returns a remembered directory as a ListableURI, or nil.
func (mw *MainWindow) lastDir(key string) fyne.ListableURI {
	path := mw.prefs.Dir(key)
	if path == "" {
		return nil
	}
	listable, err := storage.ListerForURI(storage.NewFileURI(filepath.Clean(path)))
	if err != nil {
		return nil
	}
	return listable
}
