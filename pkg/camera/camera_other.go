//go:build !darwin && !(linux && arm64)

package camera

import (
	"context"
	"fmt"
	"os/exec"
)

// pipeCommand streams MJPEG from a V4L2 device through ffmpeg.
func pipeCommand(ctx context.Context, device string, s Settings) (*exec.Cmd, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	if device == "" {
		device = "/dev/video0"
	}

	return exec.CommandContext(ctx,
		"ffmpeg",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-framerate", fmt.Sprintf("%d", s.FPS),
		"-i", device,
		"-f", "mjpeg",
		"-q:v", "3",
		"-hide_banner",
		"-loglevel", "error",
		"-",
	), nil
}
