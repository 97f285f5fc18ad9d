package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"plate-reader/internal/detect"
	"plate-reader/internal/session"
)

type fakeDevice struct {
	src       gocv.Mat
	failFirst int32
	reads     atomic.Int32
	closed    atomic.Bool
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	src := gocv.NewMatWithSize(720, 1280, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { src.Close() })
	return &fakeDevice{src: src}
}

func (d *fakeDevice) Read(frame *gocv.Mat) bool {
	n := d.reads.Add(1)
	if n <= d.failFirst {
		return false
	}
	d.src.CopyTo(frame)
	return true
}

func (d *fakeDevice) Close() error {
	d.closed.Store(true)
	return nil
}

type fakeOpener struct {
	mu    sync.Mutex
	dev   Device
	err   error
	opens int
}

func (o *fakeOpener) open(index int) (Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	return o.dev, nil
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// fakeDetector answers every call with text (empty means no plate).
type fakeDetector struct {
	text  string
	mu    sync.Mutex
	calls int
	sizes []image.Point
}

func (f *fakeDetector) Detect(ctx context.Context, img gocv.Mat) detect.Result {
	f.mu.Lock()
	f.calls++
	f.sizes = append(f.sizes, image.Pt(img.Cols(), img.Rows()))
	f.mu.Unlock()

	if f.text == "" {
		return detect.Result{Text: detect.TextNoPlate}
	}
	return detect.Result{
		Text:  f.text,
		Found: true,
		Plate: gocv.NewMatWithSize(40, 120, gocv.MatTypeCV8UC3),
	}
}

func (f *fakeDetector) snapshot() (int, []image.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]image.Point(nil), f.sizes...)
}

type fakeSink struct {
	frames     atomic.Int32
	stopped    atomic.Int32
	mu         sync.Mutex
	detections []session.Record
	frameSize  image.Point
	detected   chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{detected: make(chan struct{}, 16)}
}

func (s *fakeSink) Frame(img *image.RGBA) {
	s.mu.Lock()
	s.frameSize = img.Bounds().Size()
	s.mu.Unlock()
	s.frames.Add(1)
}

func (s *fakeSink) Detection(rec session.Record, crop image.Image) {
	s.mu.Lock()
	s.detections = append(s.detections, rec)
	s.mu.Unlock()
	select {
	case s.detected <- struct{}{}:
	default:
	}
}

func (s *fakeSink) Stopped() { s.stopped.Add(1) }

func testOptions() Options {
	return Options{
		SampleInterval: 20 * time.Millisecond,
		FrameDelay:     time.Millisecond,
		StopTimeout:    time.Second,
	}
}

func TestStartStop(t *testing.T) {
	dev := newFakeDevice(t)
	opener := &fakeOpener{dev: dev}
	sink := newFakeSink()
	log := session.NewLog()
	loop := NewLoop(opener.open, &fakeDetector{}, log, sink, testOptions(), zerolog.Nop())

	assert.Equal(t, Idle, loop.State())
	require.NoError(t, loop.Start(context.Background()))
	assert.Equal(t, Running, loop.State())

	require.Eventually(t, func() bool { return sink.frames.Load() >= 3 }, time.Second, 5*time.Millisecond)

	loop.Stop()
	assert.Equal(t, Idle, loop.State())
	assert.True(t, dev.closed.Load(), "device must be released once Stop returns")
	assert.EqualValues(t, 1, sink.stopped.Load())

	sink.mu.Lock()
	assert.Equal(t, image.Pt(640, 480), sink.frameSize)
	sink.mu.Unlock()

	// No frames after Stop
	frames := sink.frames.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frames, sink.frames.Load())
}

func TestStartWhileRunningDoesNotOpenSecondDevice(t *testing.T) {
	opener := &fakeOpener{dev: newFakeDevice(t)}
	loop := NewLoop(opener.open, &fakeDetector{}, session.NewLog(), newFakeSink(), testOptions(), zerolog.Nop())

	require.NoError(t, loop.Start(context.Background()))
	defer loop.Stop()

	err := loop.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, 1, opener.count())
	assert.Equal(t, Running, loop.State())
}

func TestStopIsIdempotent(t *testing.T) {
	sink := newFakeSink()
	loop := NewLoop((&fakeOpener{dev: newFakeDevice(t)}).open, &fakeDetector{}, session.NewLog(), sink, testOptions(), zerolog.Nop())

	loop.Stop()
	assert.Equal(t, Idle, loop.State())
	assert.Zero(t, sink.stopped.Load())

	require.NoError(t, loop.Start(context.Background()))
	loop.Stop()
	loop.Stop()
	assert.Equal(t, Idle, loop.State())
	assert.EqualValues(t, 1, sink.stopped.Load())
}

func TestOpenFailureStaysIdle(t *testing.T) {
	opener := &fakeOpener{err: errors.New("no such device")}
	loop := NewLoop(opener.open, &fakeDetector{}, session.NewLog(), newFakeSink(), testOptions(), zerolog.Nop())

	err := loop.Start(context.Background())
	assert.ErrorIs(t, err, ErrOpenDevice)
	assert.Equal(t, Idle, loop.State())

	opener.err = nil
	opener.dev = newFakeDevice(t)
	require.NoError(t, loop.Start(context.Background()))
	loop.Stop()
}

func TestRestartAfterStop(t *testing.T) {
	opener := &fakeOpener{dev: newFakeDevice(t)}
	loop := NewLoop(opener.open, &fakeDetector{}, session.NewLog(), newFakeSink(), testOptions(), zerolog.Nop())

	for i := 0; i < 3; i++ {
		require.NoError(t, loop.Start(context.Background()))
		loop.Stop()
	}
	assert.Equal(t, 3, opener.count())
}

func TestDetectionIsLogged(t *testing.T) {
	sink := newFakeSink()
	log := session.NewLog()
	det := &fakeDetector{text: "51F12345"}
	loop := NewLoop((&fakeOpener{dev: newFakeDevice(t)}).open, det, log, sink, testOptions(), zerolog.Nop())

	fixed := time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)
	var ticks atomic.Int64
	loop.now = func() time.Time {
		return fixed.Add(time.Duration(ticks.Add(1)) * time.Second)
	}

	require.NoError(t, loop.Start(context.Background()))
	select {
	case <-sink.detected:
	case <-time.After(time.Second):
		t.Fatal("no detection")
	}
	loop.Stop()

	records := log.Records()
	require.NotEmpty(t, records)
	rec := records[0]
	assert.Equal(t, "51F12345", rec.Plate)
	assert.Equal(t, "TP. Hồ Chí Minh", rec.Province)
	assert.Equal(t, "F12345", rec.Number)
	assert.Equal(t, session.SourceLive, rec.Source)
	assert.Equal(t, "2024-05-06", rec.Date())

	// Detection sees the full-size frame
	_, sizes := det.snapshot()
	require.NotEmpty(t, sizes)
	assert.Equal(t, image.Pt(1280, 720), sizes[0])

	sink.mu.Lock()
	assert.Equal(t, len(records), len(sink.detections))
	sink.mu.Unlock()
}

func TestNoPlateProducesNoRecord(t *testing.T) {
	sink := newFakeSink()
	log := session.NewLog()
	det := &fakeDetector{}
	loop := NewLoop((&fakeOpener{dev: newFakeDevice(t)}).open, det, log, sink, testOptions(), zerolog.Nop())

	require.NoError(t, loop.Start(context.Background()))
	require.Eventually(t, func() bool {
		calls, _ := det.snapshot()
		return calls >= 2
	}, time.Second, 5*time.Millisecond)
	loop.Stop()

	assert.Zero(t, log.Len())
	sink.mu.Lock()
	assert.Empty(t, sink.detections)
	sink.mu.Unlock()
}

func TestSamplingIsThrottled(t *testing.T) {
	det := &fakeDetector{}
	sink := newFakeSink()
	opts := testOptions()
	opts.SampleInterval = time.Hour
	loop := NewLoop((&fakeOpener{dev: newFakeDevice(t)}).open, det, session.NewLog(), sink, opts, zerolog.Nop())

	require.NoError(t, loop.Start(context.Background()))
	require.Eventually(t, func() bool { return sink.frames.Load() >= 10 }, time.Second, 5*time.Millisecond)
	loop.Stop()

	calls, _ := det.snapshot()
	assert.Equal(t, 1, calls)
}

func TestReadFailuresAreSkipped(t *testing.T) {
	dev := newFakeDevice(t)
	dev.failFirst = 5
	sink := newFakeSink()
	loop := NewLoop((&fakeOpener{dev: dev}).open, &fakeDetector{}, session.NewLog(), sink, testOptions(), zerolog.Nop())

	require.NoError(t, loop.Start(context.Background()))
	require.Eventually(t, func() bool { return sink.frames.Load() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Running, loop.State())
	loop.Stop()

	assert.Greater(t, dev.reads.Load(), int32(5))
}

// blockingDevice never returns from Read until released. With src set the
// released read succeeds.
type blockingDevice struct {
	release chan struct{}
	src     *gocv.Mat
	closed  atomic.Bool
}

func (d *blockingDevice) Read(frame *gocv.Mat) bool {
	<-d.release
	if d.src == nil {
		return false
	}
	d.src.CopyTo(frame)
	return true
}

func (d *blockingDevice) Close() error {
	d.closed.Store(true)
	return nil
}

func TestStopDoesNotReleaseDeviceDuringRead(t *testing.T) {
	dev := &blockingDevice{release: make(chan struct{})}
	opener := &fakeOpener{dev: dev}
	sink := newFakeSink()
	opts := testOptions()
	opts.StopTimeout = 20 * time.Millisecond
	loop := NewLoop(opener.open, &fakeDetector{}, session.NewLog(), sink, opts, zerolog.Nop())

	require.NoError(t, loop.Start(context.Background()))
	loop.Stop()

	assert.Equal(t, Idle, loop.State())
	assert.False(t, dev.closed.Load(), "device closed while a read was in flight")
	assert.ErrorIs(t, loop.Start(context.Background()), ErrBusy)
	assert.Equal(t, 1, opener.count())

	close(dev.release)
	loop.Wait()
	assert.True(t, dev.closed.Load())

	opener.dev = newFakeDevice(t)
	require.NoError(t, loop.Start(context.Background()))
	loop.Stop()
}

func TestLateReadAfterStopDeliversNothing(t *testing.T) {
	src := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer src.Close()
	dev := &blockingDevice{release: make(chan struct{}), src: &src}
	sink := newFakeSink()
	det := &fakeDetector{text: "51F12345"}
	log := session.NewLog()
	opts := testOptions()
	opts.StopTimeout = 20 * time.Millisecond
	loop := NewLoop((&fakeOpener{dev: dev}).open, det, log, sink, opts, zerolog.Nop())

	require.NoError(t, loop.Start(context.Background()))
	loop.Stop()
	require.EqualValues(t, 1, sink.stopped.Load())

	close(dev.release)
	loop.Wait()

	assert.Zero(t, sink.frames.Load(), "frame delivered after Stop")
	calls, _ := det.snapshot()
	assert.Zero(t, calls)
	assert.Zero(t, log.Len())
	assert.True(t, dev.closed.Load())
}

func TestWaitTimeout(t *testing.T) {
	dev := &blockingDevice{release: make(chan struct{})}
	opts := testOptions()
	opts.StopTimeout = 20 * time.Millisecond
	loop := NewLoop((&fakeOpener{dev: dev}).open, &fakeDetector{}, session.NewLog(), newFakeSink(), opts, zerolog.Nop())

	assert.True(t, loop.WaitTimeout(time.Millisecond), "nothing to wait for when never started")
	assert.Equal(t, 20*time.Millisecond, loop.StopTimeout())

	require.NoError(t, loop.Start(context.Background()))
	loop.Stop()

	start := time.Now()
	assert.False(t, loop.WaitTimeout(30*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)

	close(dev.release)
	assert.True(t, loop.WaitTimeout(time.Second))
}
