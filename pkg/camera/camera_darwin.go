//go:build darwin

package camera

import (
	"context"
	"fmt"
	"os/exec"
)

// pipeCommand streams MJPEG from an AVFoundation webcam through ffmpeg.
// device is the AVFoundation index, "0" being the built-in camera.
func pipeCommand(ctx context.Context, device string, s Settings) (*exec.Cmd, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	if device == "" {
		device = "0"
	}

	// Most Mac cameras only accept 30 fps.
	return exec.CommandContext(ctx,
		"ffmpeg",
		"-f", "avfoundation",
		"-framerate", "30",
		"-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-i", device,
		"-f", "mjpeg",
		"-q:v", "5",
		"-hide_banner",
		"-loglevel", "error",
		"-",
	), nil
}
