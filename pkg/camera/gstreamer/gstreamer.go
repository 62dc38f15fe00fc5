// Package gstreamer captures frames from a GStreamer pipeline ending in an RGBA
// appsink, the way Jetson CSI cameras are read.
package gstreamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"github.com/wachiwi/barcode-streamer/pkg/camera"
	"github.com/wachiwi/barcode-streamer/pkg/frame"
)

const (
	stateChangeTimeout = 10 * time.Second
	busPollInterval    = 100 * time.Millisecond
)

// Source opens a GStreamer launch pipeline.
type Source struct {
	// Pipeline is a gst-launch description whose appsink is named camera.AppSinkName
	// and negotiates RGBA at Width x Height.
	Pipeline string
	Width    int
	Height   int
	// Warmup is how long to let the sensor settle (auto exposure, white balance)
	// before the first read.
	Warmup time.Duration
	// ReadTimeout bounds the wait for one sample. A stalled pipeline then shows
	// up as read failures instead of blocking the capture loop.
	ReadTimeout time.Duration
}

// NewCSI returns a source for a Jetson CSI camera.
func NewCSI(cfg camera.CSIConfig, warmup time.Duration) *Source {
	return &Source{
		Pipeline:    camera.CSIPipeline(cfg),
		Width:       cfg.DisplayWidth,
		Height:      cfg.DisplayHeight,
		Warmup:      warmup,
		ReadTimeout: camera.ReadTimeout(cfg.FrameRate),
	}
}

// Open builds the pipeline and brings it to PLAYING.
func (s *Source) Open(ctx context.Context) (camera.Device, error) {
	gst.Init(nil)
	slog.Info("Creating camera pipeline", "pipeline", s.Pipeline)

	pipeline, err := gst.NewPipelineFromString(s.Pipeline)
	if err != nil {
		return nil, openError(fmt.Errorf("failed to create pipeline: %w", err))
	}

	elem, err := pipeline.GetElementByName(camera.AppSinkName)
	if err != nil {
		return nil, openError(fmt.Errorf("pipeline has no appsink named %q: %w", camera.AppSinkName, err))
	}
	sink := app.SinkFromElement(elem)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, openError(fmt.Errorf("failed to start pipeline: %w", err))
	}
	if err := waitPlaying(ctx, pipeline); err != nil {
		pipeline.SetState(gst.StateNull)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, openError(err)
	}

	if s.Warmup > 0 {
		select {
		case <-ctx.Done():
			pipeline.SetState(gst.StateNull)
			return nil, ctx.Err()
		case <-time.After(s.Warmup):
		}
	}

	readTimeout := s.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = camera.ReadTimeout(0)
	}

	slog.Info("Camera pipeline playing", "width", s.Width, "height", s.Height, "read_timeout", readTimeout)
	return &device{
		pipeline:    pipeline,
		sink:        sink,
		width:       s.Width,
		height:      s.Height,
		readTimeout: readTimeout,
	}, nil
}

// waitPlaying drains the bus until the pipeline reports PLAYING, posts an error
// or ctx is done.
func waitPlaying(ctx context.Context, pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(stateChangeTimeout)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := bus.TimedPop(min(busPollInterval, time.Until(deadline)))
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			return fmt.Errorf("pipeline error: %s (%s)", gerr.Error(), gerr.DebugString())
		case gst.MessageStateChanged:
			if msg.Source() != pipeline.GetName() {
				continue
			}
			if _, newState := msg.ParseStateChanged(); newState == gst.StatePlaying {
				return nil
			}
		}
	}
	return fmt.Errorf("pipeline did not reach PLAYING within %s", stateChangeTimeout)
}

func openError(err error) error {
	return &camera.OpenError{Source: "gstreamer", Err: err}
}

type device struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	width    int
	height   int
	seq      uint64

	readTimeout time.Duration

	closeOnce sync.Once
}

func (d *device) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sample := d.sink.TryPullSample(d.readTimeout)
	if sample == nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if d.sink.IsEOS() {
			return nil, &camera.ReadError{Err: errors.New("end of stream")}
		}
		return nil, &camera.ReadError{Err: fmt.Errorf("no frame within %s", d.readTimeout)}
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, &camera.ReadError{Err: errors.New("sample without buffer")}
	}

	mapInfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()

	d.seq++
	f, err := frame.FromRGBA(mapInfo.Bytes(), d.width, d.height, d.seq)
	if err != nil {
		return nil, &camera.ReadError{Err: err}
	}
	return f, nil
}

func (d *device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		err = d.pipeline.SetState(gst.StateNull)
		slog.Info("Camera pipeline released")
	})
	return err
}
