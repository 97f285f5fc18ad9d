package app

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gocv.io/x/gocv"

	"plate-reader/internal/capture"
	"plate-reader/internal/config"
	"plate-reader/internal/detect"
	"plate-reader/internal/export"
	"plate-reader/internal/session"
)

type fakeDetector struct {
	text  string
	mu    sync.Mutex
	calls int
}

func (f *fakeDetector) Detect(ctx context.Context, img gocv.Mat) detect.Result {
	f.mu.Lock()
	f.calls++
	text := f.text
	f.mu.Unlock()
	if text == "" {
		return detect.Result{Text: detect.TextNoPlate}
	}
	return detect.Result{
		Text:  text,
		Found: true,
		Plate: gocv.NewMatWithSize(100, 300, gocv.MatTypeCV8UC1),
	}
}

type fakeDevice struct{ src gocv.Mat }

func (d *fakeDevice) Read(frame *gocv.Mat) bool {
	d.src.CopyTo(frame)
	return true
}

func (d *fakeDevice) Close() error { return nil }

func failingOpener(int) (capture.Device, error) {
	return nil, errors.New("no camera")
}

// recorder collects delivered events in order.
type recorder struct {
	mu     sync.Mutex
	events []EventType
	data   []interface{}
}

func (r *recorder) listen(s *State, types ...EventType) {
	for _, ev := range types {
		ev := ev
		s.On(ev, func(data interface{}) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
			r.data = append(r.data, data)
		})
	}
}

func (r *recorder) snapshot() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventType(nil), r.events...)
}

func newTestState(t *testing.T, det capture.Detector, open capture.Opener) *State {
	t.Helper()
	cfg := config.Default()
	cfg.Capture.SampleInterval = 10 * time.Millisecond
	cfg.Capture.FrameDelay = time.Millisecond
	if open == nil {
		open = failingOpener
	}
	s := NewState(cfg, Deps{
		Detector: det,
		Opener:   open,
		Exporter: export.New(zerolog.Nop()),
	}, zerolog.Nop())
	t.Cleanup(func() { s.Close() })
	return s
}

func writePNG(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "car.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestFramesCoalesce(t *testing.T) {
	s := newTestState(t, &fakeDetector{}, nil)
	rec := &recorder{}
	rec.listen(s, EventFrame, EventStatus)

	first := image.NewRGBA(image.Rect(0, 0, 1, 1))
	last := image.NewRGBA(image.Rect(0, 0, 2, 2))
	s.Emit(EventFrame, first)
	s.Emit(EventFrame, image.NewRGBA(image.Rect(0, 0, 1, 1)))
	s.Emit(EventFrame, last)
	s.Flush()

	require.Equal(t, []EventType{EventFrame}, rec.snapshot())
	assert.Same(t, last, rec.data[0])
}

func TestNonFrameEventsAreNeverDropped(t *testing.T) {
	s := newTestState(t, &fakeDetector{}, nil)
	rec := &recorder{}
	rec.listen(s, EventFrame, EventStatus, EventCaptureStopped)

	for i := 0; i < 500; i++ {
		s.Emit(EventStatus, "x")
	}
	s.Flush()
	assert.Len(t, rec.snapshot(), 500)
}

func TestFrameStaysAheadOfLaterEvents(t *testing.T) {
	s := newTestState(t, &fakeDetector{}, nil)
	rec := &recorder{}
	rec.listen(s, EventFrame, EventCaptureStopped)

	s.Emit(EventFrame, image.NewRGBA(image.Rect(0, 0, 1, 1)))
	s.Emit(EventCaptureStopped, nil)
	s.Flush()

	assert.Equal(t, []EventType{EventFrame, EventCaptureStopped}, rec.snapshot())
}

func TestRunUsesDispatch(t *testing.T) {
	s := newTestState(t, &fakeDetector{}, nil)

	var mu sync.Mutex
	dispatched := 0
	s.SetDispatch(func(fn func()) {
		mu.Lock()
		dispatched++
		mu.Unlock()
		fn()
	})

	got := make(chan string, 1)
	s.On(EventStatus, func(data interface{}) { got <- data.(string) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.SetStatus("hello")
	select {
	case msg := <-got:
		assert.Equal(t, "hello", msg)
	case <-time.After(time.Second):
		t.Fatal("status not delivered")
	}
	mu.Lock()
	assert.Equal(t, 1, dispatched)
	mu.Unlock()
	assert.Equal(t, "hello", s.Status())
}

func TestStartCameraFailure(t *testing.T) {
	s := newTestState(t, &fakeDetector{}, nil)
	assert.Equal(t, StatusReady, s.Status())

	err := s.StartCamera(context.Background())
	assert.ErrorIs(t, err, capture.ErrOpenDevice)
	assert.Equal(t, StatusCameraError, s.Status())
	assert.Equal(t, capture.Idle, s.CaptureState())
}

func TestStopCameraWhenIdleChangesNothing(t *testing.T) {
	s := newTestState(t, &fakeDetector{}, nil)
	rec := &recorder{}
	rec.listen(s, EventStatus, EventCaptureStopped)

	s.StopCamera()
	s.Flush()

	assert.Empty(t, rec.snapshot())
	assert.Equal(t, StatusReady, s.Status())
}

func TestCameraDetectionsAreLogged(t *testing.T) {
	src := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer src.Close()
	open := func(int) (capture.Device, error) { return &fakeDevice{src: src}, nil }

	s := newTestState(t, &fakeDetector{text: "29A12345"}, open)
	rec := &recorder{}
	rec.listen(s, EventCaptureStarted, EventDetection, EventCaptureStopped)

	require.NoError(t, s.StartCamera(context.Background()))
	assert.Equal(t, StatusCameraRunning, s.Status())
	require.Eventually(t, func() bool { return s.Log.Len() > 0 }, time.Second, 5*time.Millisecond)
	s.StopCamera()
	assert.Equal(t, StatusCameraStopped, s.Status())
	s.Flush()

	events := rec.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, EventCaptureStarted, events[0])
	assert.Equal(t, EventCaptureStopped, events[len(events)-1])

	var found bool
	for i, ev := range events {
		if ev != EventDetection {
			continue
		}
		d := rec.data[i].(Detection)
		assert.True(t, d.Logged)
		assert.Equal(t, "Hà Nội", d.Record.Province)
		assert.Equal(t, session.SourceLive, d.Record.Source)
		found = true
	}
	assert.True(t, found)
}

func TestSelectImageDisplaysWithoutLogging(t *testing.T) {
	det := &fakeDetector{text: "51F12345"}
	s := newTestState(t, det, nil)
	rec := &recorder{}
	rec.listen(s, EventStillImage, EventDetection, EventLogChanged)

	require.NoError(t, s.SelectImage(context.Background(), writePNG(t)))
	s.Flush()

	assert.Equal(t, []EventType{EventStillImage, EventDetection}, rec.snapshot())
	d := rec.data[1].(Detection)
	assert.False(t, d.Logged)
	assert.Equal(t, "TP. Hồ Chí Minh", d.Record.Province)
	assert.Equal(t, "F12345", d.Record.Number)
	assert.Equal(t, session.SourceStill, d.Record.Source)
	assert.NotNil(t, d.Crop)
	assert.Zero(t, s.Log.Len())
}

func TestSelectImageLoggedWhenEnabled(t *testing.T) {
	s := newTestState(t, &fakeDetector{text: "51F12345"}, nil)
	s.Config.Session.LogStillImages = true

	require.NoError(t, s.SelectImage(context.Background(), writePNG(t)))
	require.Equal(t, 1, s.Log.Len())
	r, ok := s.Log.At(0)
	require.True(t, ok)
	assert.Equal(t, session.SourceStill, r.Source)
}

func TestSelectImageNoPlate(t *testing.T) {
	det := &fakeDetector{}
	s := newTestState(t, det, nil)
	rec := &recorder{}
	rec.listen(s, EventStillImage, EventDetection)

	require.NoError(t, s.SelectImage(context.Background(), writePNG(t)))
	s.Flush()

	assert.Equal(t, []EventType{EventStillImage}, rec.snapshot())
	assert.Equal(t, 1, det.calls)
}

func TestSelectImageUnreadable(t *testing.T) {
	det := &fakeDetector{text: "51F12345"}
	s := newTestState(t, det, nil)

	path := filepath.Join(t.TempDir(), "broken.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	err := s.SelectImage(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, StatusImageError, s.Status())
	assert.Zero(t, det.calls)
}

func TestSelectImageStopsCamera(t *testing.T) {
	src := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer src.Close()
	open := func(int) (capture.Device, error) { return &fakeDevice{src: src}, nil }

	s := newTestState(t, &fakeDetector{}, open)
	require.NoError(t, s.StartCamera(context.Background()))
	require.Equal(t, capture.Running, s.CaptureState())

	require.NoError(t, s.SelectImage(context.Background(), writePNG(t)))
	assert.Equal(t, capture.Idle, s.CaptureState())
}

func TestExportEmptyLog(t *testing.T) {
	s := newTestState(t, &fakeDetector{}, nil)
	path := filepath.Join(t.TempDir(), "out.xlsx")

	_, err := s.Export(path)
	assert.ErrorIs(t, err, export.ErrEmptyLog)
	assert.Equal(t, StatusNoData, s.Status())
	assert.NoFileExists(t, path)
	assert.False(t, s.HasRecords())
}

func TestExportWritesLog(t *testing.T) {
	s := newTestState(t, &fakeDetector{}, nil)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)
	s.Log.Append(session.NewRecord(at, "51F12345", "TP. Hồ Chí Minh", "F12345", session.SourceLive))

	written, err := s.Export(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	assert.Equal(t, StatusExported, s.Status())
	assert.Equal(t, ".xlsx", filepath.Ext(written))

	f, err := excelize.OpenFile(written)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(export.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"03:04:05", "2024-01-02", "51F12345", "TP. Hồ Chí Minh", "F12345"}, rows[1])
}

func TestExportUnknownFormat(t *testing.T) {
	s := newTestState(t, &fakeDetector{}, nil)
	s.Log.Append(session.NewRecord(time.Now(), "51F12345", "TP. Hồ Chí Minh", "F12345", session.SourceLive))

	_, err := s.Export(filepath.Join(t.TempDir(), "out.ods"))
	assert.ErrorIs(t, err, export.ErrNoWriter)
	assert.Equal(t, StatusExportError, s.Status())
}

func TestExportRemovesDialogPlaceholder(t *testing.T) {
	s := newTestState(t, &fakeDetector{}, nil)
	s.Log.Append(session.NewRecord(time.Now(), "51F12345", "TP. Hồ Chí Minh", "F12345", session.SourceLive))
	dir := t.TempDir()

	// No extension: data goes to out.xlsx and the empty "out" is dropped.
	bare := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(bare, nil, 0o644))
	written, err := s.Export(bare)
	require.NoError(t, err)
	assert.Equal(t, bare+".xlsx", written)
	assert.FileExists(t, written)
	assert.NoFileExists(t, bare)

	// Unsupported extension: nothing is written and the empty file is dropped.
	txt := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(txt, nil, 0o644))
	_, err = s.Export(txt)
	assert.ErrorIs(t, err, export.ErrNoWriter)
	assert.NoFileExists(t, txt)

	// The chosen file itself is written in place.
	chosen := filepath.Join(dir, "plates.xlsx")
	require.NoError(t, os.WriteFile(chosen, nil, 0o644))
	written, err = s.Export(chosen)
	require.NoError(t, err)
	assert.Equal(t, chosen, written)
	info, err := os.Stat(chosen)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

func TestStillWithoutPlateKeepsPreviousDetection(t *testing.T) {
	det := &fakeDetector{text: "51F12345"}
	s := newTestState(t, det, nil)
	rec := &recorder{}
	rec.listen(s, EventStillImage, EventDetection)

	path := writePNG(t)
	require.NoError(t, s.SelectImage(context.Background(), path))
	det.mu.Lock()
	det.text = ""
	det.mu.Unlock()
	require.NoError(t, s.SelectImage(context.Background(), path))
	s.Flush()

	// Only the first still produced a detection; the second only changes the image.
	assert.Equal(t, []EventType{EventStillImage, EventDetection, EventStillImage}, rec.snapshot())
}

func TestCloseIsBoundedWhenCameraIsStuck(t *testing.T) {
	dev := &stuckDevice{release: make(chan struct{})}
	cfg := config.Default()
	cfg.Camera.ReadTimeout = 20 * time.Millisecond
	s := NewState(cfg, Deps{
		Detector: &fakeDetector{},
		Opener:   func(int) (capture.Device, error) { return dev, nil },
		Exporter: export.New(zerolog.Nop()),
	}, zerolog.Nop())
	defer close(dev.release)

	require.NoError(t, s.StartCamera(context.Background()))

	start := time.Now()
	assert.False(t, s.Close())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, capture.Idle, s.CaptureState())
}

// stuckDevice blocks in Read until released.
type stuckDevice struct{ release chan struct{} }

func (d *stuckDevice) Read(frame *gocv.Mat) bool {
	<-d.release
	return false
}

func (d *stuckDevice) Close() error { return nil }
