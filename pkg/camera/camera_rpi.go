//go:build linux && arm64

package camera

import (
	"context"
	"fmt"
	"os/exec"
)

// pipeCommand streams MJPEG from the Raspberry Pi camera stack. rpicam-vid is the
// name on current Raspberry Pi OS, libcamera-vid on older releases.
func pipeCommand(ctx context.Context, _ string, s Settings) (*exec.Cmd, error) {
	cmdName := "rpicam-vid"
	if _, err := exec.LookPath(cmdName); err != nil {
		cmdName = "libcamera-vid"
		if _, err := exec.LookPath(cmdName); err != nil {
			return nil, fmt.Errorf("neither rpicam-vid nor libcamera-vid found")
		}
	}

	return exec.CommandContext(ctx,
		cmdName,
		"--width", fmt.Sprintf("%d", s.Width),
		"--height", fmt.Sprintf("%d", s.Height),
		"--timeout", "0", // Run indefinitely
		"--nopreview",
		"--codec", "mjpeg",
		"--output", "-",
		"--framerate", fmt.Sprintf("%d", s.FPS),
		"--awb", "auto",
		"--metering", "average",
	), nil
}
