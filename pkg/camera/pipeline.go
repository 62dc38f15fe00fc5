package camera

import (
	"fmt"
	"time"
)

// CSIConfig describes a Jetson CSI camera capture.
type CSIConfig struct {
	SensorID      int
	CaptureWidth  int
	CaptureHeight int
	DisplayWidth  int
	DisplayHeight int
	FrameRate     int
	// FlipMethod is passed to nvvidconv; 0 and 2 are the common values.
	FlipMethod int
}

const minReadTimeout = 250 * time.Millisecond

// ReadTimeout is how long a read waits for the next frame before reporting a
// read failure: five frame periods, and never less than a quarter second.
func ReadTimeout(frameRate int) time.Duration {
	if frameRate <= 0 {
		return time.Second
	}
	return max(5*time.Second/time.Duration(frameRate), minReadTimeout)
}

// AppSinkName is the name the capture code looks up in a GStreamer pipeline.
const AppSinkName = "sink"

// CSIPipeline returns the GStreamer launch string for a CSI camera: the frames are
// flipped and scaled to the display size on the ISP and delivered as RGBA to an
// appsink that only keeps the newest buffer.
func CSIPipeline(c CSIConfig) string {
	return fmt.Sprintf(
		"nvarguscamerasrc sensor-id=%d ! "+
			"video/x-raw(memory:NVMM), width=(int)%d, height=(int)%d, framerate=(fraction)%d/1 ! "+
			"nvvidconv flip-method=%d ! "+
			"video/x-raw, width=(int)%d, height=(int)%d, format=(string)BGRx ! "+
			"videoconvert ! "+
			"video/x-raw, format=(string)RGBA ! "+
			"appsink name=%s max-buffers=1 drop=true sync=false",
		c.SensorID,
		c.CaptureWidth,
		c.CaptureHeight,
		c.FrameRate,
		c.FlipMethod,
		c.DisplayWidth,
		c.DisplayHeight,
		AppSinkName,
	)
}
