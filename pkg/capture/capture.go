// Package capture runs the single producer of the pipeline: it owns the camera
// device, decodes and annotates every frame and publishes the result.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wachiwi/barcode-streamer/pkg/camera"
	"github.com/wachiwi/barcode-streamer/pkg/decoder"
	"github.com/wachiwi/barcode-streamer/pkg/frame"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrAlreadyStarted      = errors.New("capture loop already started")
	ErrTooManyReadFailures = errors.New("too many consecutive frame read failures")
)

var (
	framesCounter     metric.Int64Counter
	readErrorsCounter metric.Int64Counter
	detectionsCounter metric.Int64Counter
)

func init() {
	var err error
	meter := otel.Meter("github.com/wachiwi/barcode-streamer/pkg/capture")
	framesCounter, err = meter.Int64Counter("capture.frames",
		metric.WithDescription("Frames published to the stream buffer"),
		metric.WithUnit("{frames}"),
	)
	if err != nil {
		slog.Error("Failed to create frame metrics", "error", err)
	}
	readErrorsCounter, err = meter.Int64Counter("capture.read_errors",
		metric.WithDescription("Recoverable frame read failures"),
		metric.WithUnit("{errors}"),
	)
	if err != nil {
		slog.Error("Failed to create read error metrics", "error", err)
	}
	detectionsCounter, err = meter.Int64Counter("capture.detections",
		metric.WithDescription("Codes detected in captured frames"),
		metric.WithUnit("{codes}"),
	)
	if err != nil {
		slog.Error("Failed to create detection metrics", "error", err)
	}
}

// Annotator draws detections onto a copy of a frame.
type Annotator interface {
	Annotate(f *frame.Frame, dets []frame.Detection) *frame.Frame
}

// Publisher receives every annotated frame.
type Publisher interface {
	Publish(f *frame.Frame) uint64
}

// Observer is told about the detections of every published frame. It runs on
// the capture goroutine and must return quickly.
type Observer interface {
	Observe(ctx context.Context, dets []frame.Detection)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, dets []frame.Detection)

func (f ObserverFunc) Observe(ctx context.Context, dets []frame.Detection) { f(ctx, dets) }

// Options tune the loop.
type Options struct {
	// MaxConsecutiveReadFailures ends the loop with ErrTooManyReadFailures once that
	// many reads in a row have failed. Zero retries forever.
	MaxConsecutiveReadFailures int
	Observers                  []Observer
}

// Stats is a point in time copy of the loop counters.
type Stats struct {
	FramesRead uint64
	ReadErrors uint64
	Published  uint64
	Detections uint64
}

// Loop is the capture state machine. It is started once and stopped once.
type Loop struct {
	source    camera.Source
	decoder   decoder.Decoder
	annotator Annotator
	publisher Publisher
	opts      Options

	mu            sync.Mutex
	state         State
	err           error
	cancel        context.CancelFunc
	stopRequested bool
	done          chan struct{}
	doneOnce      sync.Once

	framesRead atomic.Uint64
	readErrors atomic.Uint64
	published  atomic.Uint64
	detections atomic.Uint64
}

// New returns an idle loop.
func New(src camera.Source, dec decoder.Decoder, ann Annotator, pub Publisher, opts Options) *Loop {
	return &Loop{
		source:    src,
		decoder:   dec,
		annotator: ann,
		publisher: pub,
		opts:      opts,
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// Start opens the source and, on success, starts the capture goroutine.
// An open failure is returned here and leaves the loop Failed. When ctx is
// cancelled or Stop is called while the source is opening, the loop ends
// Stopped and Start returns the cancellation error.
func (l *Loop) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	if l.state != StateIdle {
		l.mu.Unlock()
		cancel()
		return ErrAlreadyStarted
	}
	l.state = StateStarting
	l.cancel = cancel
	l.mu.Unlock()

	slog.Info("Opening camera")
	dev, err := l.source.Open(runCtx)
	if err != nil {
		cancel()
		if runCtx.Err() != nil {
			slog.Info("Camera open cancelled", "error", err)
			l.finish(nil)
			return err
		}
		l.finish(err)
		return err
	}

	l.mu.Lock()
	if l.stopRequested || runCtx.Err() != nil {
		l.mu.Unlock()
		cancel()
		l.closeDevice(dev)
		l.finish(nil)
		return nil
	}
	l.state = StateRunning
	l.mu.Unlock()

	slog.Info("Capture loop running")
	go l.run(runCtx, dev)
	return nil
}

// Stop asks the loop to finish, waits for it and returns its terminal error.
// It is safe to call more than once and from several goroutines.
func (l *Loop) Stop() error {
	l.mu.Lock()
	l.stopRequested = true
	switch l.state {
	case StateIdle:
		l.mu.Unlock()
		l.finish(nil)
		return nil
	case StateRunning:
		l.state = StateStopping
	}
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()

	<-l.done
	return l.Err()
}

// Done is closed once the loop reached Stopped or Failed.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the reason the loop failed, or nil.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Loop) Stats() Stats {
	return Stats{
		FramesRead: l.framesRead.Load(),
		ReadErrors: l.readErrors.Load(),
		Published:  l.published.Load(),
		Detections: l.detections.Load(),
	}
}

func (l *Loop) run(ctx context.Context, dev camera.Device) {
	err := l.loop(ctx, dev)
	l.closeDevice(dev)
	if err != nil {
		slog.Error("Capture loop failed", "error", err)
	} else {
		slog.Info("Capture loop stopped")
	}
	l.finish(err)
}

func (l *Loop) loop(ctx context.Context, dev camera.Device) error {
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		f, err := dev.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var readErr *camera.ReadError
			if !errors.As(err, &readErr) {
				return fmt.Errorf("failed to read frame: %w", err)
			}

			failures++
			l.readErrors.Add(1)
			readErrorsCounter.Add(ctx, 1)
			slog.Warn("Failed to read frame", "error", err, "consecutive", failures)
			if l.opts.MaxConsecutiveReadFailures > 0 && failures >= l.opts.MaxConsecutiveReadFailures {
				return fmt.Errorf("%w: %d in a row, last: %w", ErrTooManyReadFailures, failures, err)
			}
			continue
		}

		failures = 0
		l.framesRead.Add(1)
		l.process(ctx, f)
	}
}

func (l *Loop) process(ctx context.Context, f *frame.Frame) {
	dets := l.decoder.Decode(f)
	annotated := l.annotator.Annotate(f, dets)
	gen := l.publisher.Publish(annotated)

	l.published.Add(1)
	framesCounter.Add(ctx, 1)

	for _, d := range dets {
		l.detections.Add(1)
		detectionsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("symbology", d.Symbology)))
		slog.Debug("Code detected", "symbology", d.Symbology, "payload", string(d.Payload), "seq", f.Seq, "generation", gen)
	}

	for _, o := range l.opts.Observers {
		o.Observe(ctx, dets)
	}
}

func (l *Loop) closeDevice(dev camera.Device) {
	if err := dev.Close(); err != nil {
		slog.Warn("Failed to close camera", "error", err)
	}
}

// finish records the terminal state and releases Stop and Done waiters.
func (l *Loop) finish(err error) {
	l.mu.Lock()
	if err != nil {
		l.state = StateFailed
		l.err = err
	} else {
		l.state = StateStopped
	}
	l.mu.Unlock()
	l.doneOnce.Do(func() { close(l.done) })
}
