package main

import (
	"fmt"

	"github.com/wachiwi/barcode-streamer/pkg/camera"
	"github.com/wachiwi/barcode-streamer/pkg/camera/gstreamer"
	"github.com/wachiwi/barcode-streamer/pkg/config"
)

func newSource(c config.CameraConfig) (camera.Source, error) {
	width, height := c.FrameSize()
	settings := camera.Settings{
		Width:  width,
		Height: height,
		FPS:    c.FrameRate,
	}

	switch c.Source {
	case "gstreamer":
		readTimeout := c.ReadTimeout
		if readTimeout == 0 {
			readTimeout = camera.ReadTimeout(c.FrameRate)
		}
		if c.Pipeline != "" {
			return &gstreamer.Source{
				Pipeline:    c.Pipeline,
				Width:       width,
				Height:      height,
				Warmup:      c.Warmup,
				ReadTimeout: readTimeout,
			}, nil
		}
		src := gstreamer.NewCSI(camera.CSIConfig{
			SensorID:      c.SensorID,
			CaptureWidth:  c.CaptureWidth,
			CaptureHeight: c.CaptureHeight,
			DisplayWidth:  c.DisplayWidth,
			DisplayHeight: c.DisplayHeight,
			FrameRate:     c.FrameRate,
			FlipMethod:    c.FlipMethod,
		}, c.Warmup)
		src.ReadTimeout = readTimeout
		return src, nil
	case "libcamera":
		return camera.NewPipe(c.Device, settings), nil
	case "mjpeg":
		return camera.NewUpstream(c.URL), nil
	case "testpattern":
		return camera.NewTestPattern(settings, c.TestPayload), nil
	default:
		return nil, fmt.Errorf("unknown camera source %q", c.Source)
	}
}
