// Package app provides the session context shared by the capture loop and
// the UI, and the event queue that carries updates to the UI thread.
package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"plate-reader/internal/capture"
	"plate-reader/internal/config"
	"plate-reader/internal/export"
	plateimage "plate-reader/internal/image"
	"plate-reader/internal/plate"
	"plate-reader/internal/session"
)

// User-facing status messages.
const (
	StatusReady          = "Sẵn sàng..."
	StatusCameraStarting = "Đang khởi động camera..."
	StatusCameraRunning  = "Camera đang hoạt động..."
	StatusCameraError    = "Lỗi kết nối camera!"
	StatusCameraStopped  = "Đã dừng camera."
	StatusSelectingImage = "Đang chọn ảnh..."
	StatusImageError     = "Không thể đọc ảnh."
	StatusNoData         = "Không có dữ liệu để xuất!"
	StatusExported       = "Xuất dữ liệu thành công!"
	StatusExportError    = "Lỗi xuất dữ liệu!"
)

// ErrBusy is returned when a still image is selected while the previous one
// is still being processed.
var ErrBusy = errors.New("still image detection in progress")

// EventType identifies different application events.
type EventType int

const (
	EventStatus         EventType = iota // string
	EventFrame                           // *image.RGBA, live frame
	EventStillImage                      // image.Image, selected still
	EventDetection                       // Detection
	EventCaptureStarted                  // nil
	EventCaptureStopped                  // nil
	EventLogChanged                      // int, number of records
)

// EventListener is called when an event occurs.
type EventListener func(data interface{})

// Detection is the payload of EventDetection.
type Detection struct {
	Record session.Record
	Crop   image.Image // May be nil
	Logged bool        // Whether the record was appended to the session log
}

type event struct {
	kind EventType
	data interface{}
}

// State is the per-run session: the detection log, the capture loop and the
// event queue. Producers on any goroutine post events; a single dispatcher
// goroutine (Run) delivers them in order through Dispatch, which the UI
// points at its main-thread executor.
type State struct {
	Config *config.Config
	Log    *session.Log

	capture  *capture.Loop
	detector capture.Detector
	exporter *export.Exporter
	log      zerolog.Logger
	now      func() time.Time

	stillBusy atomic.Bool

	statusMu sync.RWMutex
	status   string

	mu        sync.RWMutex
	listeners map[EventType][]EventListener
	dispatch  func(func())

	// Pending events. Consecutive frames collapse into the latest one.
	qmu     sync.Mutex
	pending []event
	frame   *image.RGBA
	wake    chan struct{}
}

// Deps are the collaborators a State is built from.
type Deps struct {
	Detector capture.Detector
	Opener   capture.Opener
	Exporter *export.Exporter
}

// NewState creates a new session.
func NewState(cfg *config.Config, deps Deps, log zerolog.Logger) *State {
	s := &State{
		Config:    cfg,
		Log:       session.NewLog(),
		detector:  deps.Detector,
		exporter:  deps.Exporter,
		log:       log.With().Str("component", "app").Logger(),
		now:       time.Now,
		status:    StatusReady,
		listeners: make(map[EventType][]EventListener),
		dispatch:  func(fn func()) { fn() },
		wake:      make(chan struct{}, 1),
	}

	opts := capture.DefaultOptions()
	opts.Index = cfg.Camera.Index
	opts.SampleInterval = cfg.Capture.SampleInterval
	opts.FrameDelay = cfg.Capture.FrameDelay
	if cfg.Camera.ReadTimeout > 0 {
		opts.StopTimeout = cfg.Camera.ReadTimeout
	}
	s.capture = capture.NewLoop(deps.Opener, deps.Detector, s.Log, (*captureSink)(s), opts, log)

	return s
}

// SetDispatch sets how listener calls are executed. The UI passes fyne.Do so
// that widgets are only touched on the main thread.
func (s *State) SetDispatch(fn func(func())) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatch = fn
}

// On registers an event listener for the specified event type.
func (s *State) On(ev EventType, listener EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[ev] = append(s.listeners[ev], listener)
}

// Emit queues an event for delivery. It never blocks.
func (s *State) Emit(ev EventType, data interface{}) {
	s.qmu.Lock()
	if ev == EventFrame {
		img, _ := data.(*image.RGBA)
		s.frame = img
	} else {
		// Keep the pending frame ahead of the event that followed it.
		if s.frame != nil {
			s.pending = append(s.pending, event{EventFrame, s.frame})
			s.frame = nil
		}
		s.pending = append(s.pending, event{ev, data})
	}
	s.qmu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run delivers queued events until ctx is cancelled.
func (s *State) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			s.Flush()
		}
	}
}

// Flush delivers every queued event on the calling goroutine.
func (s *State) Flush() {
	s.qmu.Lock()
	events := s.pending
	s.pending = nil
	if s.frame != nil {
		events = append(events, event{EventFrame, s.frame})
		s.frame = nil
	}
	s.qmu.Unlock()

	for _, ev := range events {
		s.deliver(ev)
	}
}

func (s *State) deliver(ev event) {
	s.mu.RLock()
	listeners := s.listeners[ev.kind]
	dispatch := s.dispatch
	s.mu.RUnlock()

	if len(listeners) == 0 {
		return
	}
	dispatch(func() {
		for _, listener := range listeners {
			listener(ev.data)
		}
	})
}

// SetStatus updates the one-line status message.
func (s *State) SetStatus(msg string) {
	s.statusMu.Lock()
	s.status = msg
	s.statusMu.Unlock()
	s.Emit(EventStatus, msg)
}

// Status returns the current status message.
func (s *State) Status() string {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// CaptureState reports whether the camera is running.
func (s *State) CaptureState() capture.State {
	return s.capture.State()
}

// StartCamera opens the camera and starts the capture loop.
func (s *State) StartCamera(ctx context.Context) error {
	s.SetStatus(StatusCameraStarting)
	if err := s.capture.Start(ctx); err != nil {
		if errors.Is(err, capture.ErrAlreadyRunning) {
			s.SetStatus(StatusCameraRunning)
			return err
		}
		s.SetStatus(StatusCameraError)
		return err
	}
	s.Emit(EventCaptureStarted, nil)
	s.SetStatus(StatusCameraRunning)
	return nil
}

// StopCamera stops the capture loop. It does nothing when the camera is not
// running.
func (s *State) StopCamera() {
	s.capture.Stop()
}

// SelectImage loads a still image, shows it and runs detection on it once.
// The camera is stopped first so only one source is on screen. Detections
// are recorded only when session.log_still_images is set.
func (s *State) SelectImage(ctx context.Context, path string) error {
	if !s.stillBusy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.stillBusy.Store(false)

	mat, err := plateimage.Load(path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("failed to load image")
		s.SetStatus(StatusImageError)
		return err
	}
	defer mat.Close()

	display, err := plateimage.StillToDisplay(mat)
	if err != nil {
		s.SetStatus(StatusImageError)
		return fmt.Errorf("%w: %v", plateimage.ErrUnreadable, err)
	}

	s.StopCamera()
	s.Emit(EventStillImage, image.Image(display))

	res := s.detector.Detect(ctx, mat)
	defer res.Close()
	if !res.Found || res.Text == "" {
		return nil
	}

	province, number := plate.Extract(res.Text)
	rec := session.NewRecord(s.now(), res.Text, province, number, session.SourceStill)

	logged := s.Config.Session.LogStillImages
	if logged {
		n := s.Log.Append(rec)
		s.Emit(EventLogChanged, n)
	}

	var crop image.Image
	if img, err := plateimage.PlateToDisplay(res.Plate, cropWidth); err == nil {
		crop = img
	}

	s.log.Info().Str("plate", rec.Plate).Str("path", path).Bool("logged", logged).Msg("plate found in image")
	s.Emit(EventDetection, Detection{Record: rec, Crop: crop, Logged: logged})
	return nil
}

// Export writes the session log to path and returns the file written. An
// empty file left at path by the save dialog is removed when the data went
// to another file or was not written at all.
func (s *State) Export(path string) (string, error) {
	records := s.Log.Records()
	written, err := s.exporter.Export(path, records)
	if written != path {
		if rmErr := export.RemoveEmpty(path); rmErr != nil {
			s.log.Warn().Err(rmErr).Str("path", path).Msg("failed to remove placeholder file")
		}
	}
	switch {
	case errors.Is(err, export.ErrEmptyLog):
		s.SetStatus(StatusNoData)
	case err != nil:
		s.SetStatus(StatusExportError)
	default:
		s.SetStatus(StatusExported)
	}
	return written, err
}

// ExportFormats lists the file extensions Export can write.
func (s *State) ExportFormats() []string {
	return s.exporter.Formats()
}

// HasRecords reports whether there is anything to export.
func (s *State) HasRecords() bool {
	return s.Log.Len() > 0
}

// Close stops the camera and waits a bounded time for the capture goroutine
// to release it. It reports whether the camera was released.
func (s *State) Close() bool {
	s.capture.Stop()
	if !s.capture.WaitTimeout(s.capture.StopTimeout()) {
		s.log.Warn().Msg("camera still busy at shutdown")
		return false
	}
	return true
}

const cropWidth = 240

// captureSink adapts State to capture.Sink.
type captureSink State

func (c *captureSink) Frame(img *image.RGBA) {
	(*State)(c).Emit(EventFrame, img)
}

func (c *captureSink) Detection(rec session.Record, crop image.Image) {
	s := (*State)(c)
	s.Emit(EventLogChanged, s.Log.Len())
	s.Emit(EventDetection, Detection{Record: rec, Crop: crop, Logged: true})
}

func (c *captureSink) Stopped() {
	s := (*State)(c)
	s.Emit(EventCaptureStopped, nil)
	s.SetStatus(StatusCameraStopped)
}
