// Package capture runs the live camera loop: it pulls frames, hands them to
// the display and periodically sends one through plate detection.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"plate-reader/internal/detect"
	plateimage "plate-reader/internal/image"
	"plate-reader/internal/plate"
	"plate-reader/internal/session"
)

// State is the capture loop's lifecycle state.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

var (
	// ErrOpenDevice is returned when the camera cannot be opened.
	ErrOpenDevice = errors.New("cannot open camera")
	// ErrAlreadyRunning is returned by Start while the loop is running.
	ErrAlreadyRunning = errors.New("capture already running")
	// ErrBusy is returned by Start while a previous capture goroutine has
	// not yet released its device.
	ErrBusy = errors.New("previous capture still releasing the camera")
)

// Detector finds plate text in a BGR frame.
type Detector interface {
	Detect(ctx context.Context, img gocv.Mat) detect.Result
}

// Sink receives the loop's output. Its methods are called from the capture
// goroutine and must not block for long.
type Sink interface {
	// Frame delivers a display-ready frame.
	Frame(img *image.RGBA)
	// Detection delivers a recorded plate and its crop (nil when the crop
	// could not be converted).
	Detection(rec session.Record, crop image.Image)
	// Stopped is called once the loop has returned to Idle.
	Stopped()
}

// Options tunes the loop.
type Options struct {
	Index          int           // Camera index
	SampleInterval time.Duration // Minimum time between detections
	FrameDelay     time.Duration // Pause between iterations
	StopTimeout    time.Duration // How long Stop waits for the goroutine
}

// DefaultOptions samples twice a second and yields 10ms between frames.
func DefaultOptions() Options {
	return Options{
		Index:          0,
		SampleInterval: 500 * time.Millisecond,
		FrameDelay:     10 * time.Millisecond,
		StopTimeout:    3 * time.Second,
	}
}

// Loop owns the camera device and the capture goroutine. At most one device
// is open and at most one goroutine runs at any time.
type Loop struct {
	mu       sync.Mutex
	state    State
	cancel   atomic.Bool
	stopCtx  context.CancelFunc
	done     chan struct{} // closed when the goroutine has released the device
	open     Opener
	detector Detector
	records  *session.Log
	sink     Sink
	opts     Options
	now      func() time.Time
	log      zerolog.Logger
}

// NewLoop creates an idle capture loop.
func NewLoop(open Opener, detector Detector, records *session.Log, sink Sink, opts Options, log zerolog.Logger) *Loop {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultOptions().StopTimeout
	}
	return &Loop{
		open:     open,
		detector: detector,
		records:  records,
		sink:     sink,
		opts:     opts,
		now:      time.Now,
		log:      log.With().Str("component", "capture").Logger(),
	}
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start opens the camera and launches the capture goroutine. It fails with
// ErrAlreadyRunning if the loop is running, and with ErrOpenDevice (leaving
// the loop idle) if the camera cannot be opened.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Running {
		return ErrAlreadyRunning
	}
	if l.done != nil {
		select {
		case <-l.done:
		default:
			return ErrBusy
		}
	}

	dev, err := l.open(l.opts.Index)
	if err != nil {
		l.log.Error().Err(err).Int("index", l.opts.Index).Msg("failed to open camera")
		return fmt.Errorf("%w %d: %v", ErrOpenDevice, l.opts.Index, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel.Store(false)
	l.stopCtx = cancel
	l.done = make(chan struct{})
	l.state = Running

	go l.run(ctx, dev, l.done)

	l.log.Info().Int("index", l.opts.Index).Msg("camera started")
	return nil
}

// Stop signals the goroutine, waits for it to release the camera and returns
// the loop to Idle. Calling Stop while idle does nothing.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.state != Running {
		l.mu.Unlock()
		return
	}

	l.cancel.Store(true)
	l.stopCtx()
	done := l.done
	l.state = Idle
	l.mu.Unlock()

	select {
	case <-done:
		l.log.Info().Msg("camera stopped")
	case <-time.After(l.opts.StopTimeout):
		// The goroutine is stuck in a device read; it closes the device
		// itself when the read returns, and Start reports ErrBusy until then.
		l.log.Warn().Dur("waited", l.opts.StopTimeout).Msg("capture goroutine did not stop in time")
	}

	l.sink.Stopped()
}

// Wait blocks until the capture goroutine, if any, has exited.
func (l *Loop) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
}

// WaitTimeout is Wait bounded by d. It reports whether the goroutine exited.
func (l *Loop) WaitTimeout(d time.Duration) bool {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// StopTimeout returns how long Stop waits for the goroutine.
func (l *Loop) StopTimeout() time.Duration {
	return l.opts.StopTimeout
}

func (l *Loop) run(ctx context.Context, dev Device, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := dev.Close(); err != nil {
			l.log.Warn().Err(err).Msg("failed to release camera")
		}
	}()

	frame := gocv.NewMat()
	defer frame.Close()

	sampler := NewSampler(l.opts.SampleInterval, l.now)
	failures := 0

	for {
		if l.cancel.Load() {
			return
		}

		ok := dev.Read(&frame)
		// A read can outlast a Stop that gave up waiting; drop its frame.
		if l.cancel.Load() {
			return
		}
		if ok && !frame.Empty() {
			failures = 0
			l.handleFrame(ctx, frame, sampler)
		} else {
			failures++
			if failures == 1 || failures%100 == 0 {
				l.log.Warn().Int("consecutive", failures).Msg("frame read failed")
			}
		}

		if l.opts.FrameDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(l.opts.FrameDelay):
			}
		}
	}
}

func (l *Loop) handleFrame(ctx context.Context, frame gocv.Mat, sampler *Sampler) {
	display, err := plateimage.FrameToDisplay(frame)
	if err != nil {
		l.log.Warn().Err(err).Msg("frame conversion failed")
	} else {
		l.sink.Frame(display)
	}

	if !sampler.Due() {
		return
	}

	res := l.detector.Detect(ctx, frame)
	defer res.Close()
	if !res.Found || res.Text == "" {
		return
	}

	// A Stop that raced the detection wins: nothing is recorded after it.
	if l.cancel.Load() {
		return
	}

	province, number := plate.Extract(res.Text)
	rec := session.NewRecord(l.now(), res.Text, province, number, session.SourceLive)
	n := l.records.Append(rec)

	var crop image.Image
	if img, err := plateimage.PlateToDisplay(res.Plate, cropWidth); err == nil {
		crop = img
	}

	l.log.Info().
		Str("plate", rec.Plate).
		Str("province", rec.Province).
		Int("logged", n).
		Msg("plate logged")
	l.sink.Detection(rec, crop)
}

// cropWidth is the display width of plate crops.
const cropWidth = 240
