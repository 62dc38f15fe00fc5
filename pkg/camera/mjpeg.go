package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"
	"sync/atomic"

	"github.com/wachiwi/barcode-streamer/pkg/frame"
)

const (
	readChunkSize = 4096
	maxFrameBytes = 10 * 1024 * 1024
)

var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// jpegSplitter cuts a concatenated MJPEG byte stream into single JPEG images.
type jpegSplitter struct {
	r     io.Reader
	buf   []byte
	chunk []byte
}

func newJPEGSplitter(r io.Reader) *jpegSplitter {
	return &jpegSplitter{r: r, chunk: make([]byte, readChunkSize)}
}

// Next returns the next complete JPEG image in the stream.
func (s *jpegSplitter) Next() ([]byte, error) {
	for {
		if start := bytes.Index(s.buf, soi); start >= 0 {
			if end := bytes.Index(s.buf[start+2:], eoi); end >= 0 {
				stop := start + 2 + end + 2
				img := make([]byte, stop-start)
				copy(img, s.buf[start:stop])

				// Whatever follows EOI is the start of the next frame.
				remaining := make([]byte, len(s.buf)-stop)
				copy(remaining, s.buf[stop:])
				s.buf = remaining
				return img, nil
			}
			s.buf = s.buf[start:]
		} else if len(s.buf) > 1 {
			// Keep the last byte, it may be the first half of a split marker.
			s.buf = s.buf[len(s.buf)-1:]
		}

		if len(s.buf) > maxFrameBytes {
			s.buf = nil
			slog.Warn("Frame buffer overflow, resetting")
		}

		n, err := s.r.Read(s.chunk)
		s.buf = append(s.buf, s.chunk[:n]...)
		if err != nil {
			if n > 0 {
				continue
			}
			return nil, err
		}
	}
}

// Pipe captures frames from a helper process writing MJPEG to stdout: rpicam-vid on
// Raspberry Pi, ffmpeg elsewhere.
type Pipe struct {
	Device   string
	Settings Settings
}

// NewPipe creates a pipe source. device is passed to ffmpeg and ignored by rpicam-vid.
func NewPipe(device string, settings Settings) *Pipe {
	return &Pipe{Device: device, Settings: settings}
}

// Open starts the helper process. The process lives until ctx is cancelled or the
// device is closed.
func (p *Pipe) Open(ctx context.Context) (Device, error) {
	cmd, err := pipeCommand(ctx, p.Device, p.Settings)
	if err != nil {
		return nil, &OpenError{Source: "libcamera", Err: err}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &OpenError{Source: "libcamera", Err: fmt.Errorf("failed to get stdout pipe: %w", err)}
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &OpenError{Source: "libcamera", Err: fmt.Errorf("failed to start %s: %w, stderr: %s", cmd.Path, err, stderr.String())}
	}
	slog.Info("Started camera streaming process", "command", cmd.Path, "width", p.Settings.Width, "height", p.Settings.Height, "fps", p.Settings.FPS)

	return newPipeDevice(stdout, cmd, &stderr), nil
}

type pipeDevice struct {
	stdout   io.ReadCloser
	cmd      *exec.Cmd
	stderr   *bytes.Buffer
	splitter *jpegSplitter
	seq      uint64
	closed   atomic.Bool
}

func newPipeDevice(stdout io.ReadCloser, cmd *exec.Cmd, stderr *bytes.Buffer) *pipeDevice {
	return &pipeDevice{
		stdout:   stdout,
		cmd:      cmd,
		stderr:   stderr,
		splitter: newJPEGSplitter(stdout),
	}
}

func (d *pipeDevice) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := d.splitter.Next()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ReadError{Err: fmt.Errorf("stream read: %w", err)}
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ReadError{Err: fmt.Errorf("corrupt JPEG frame: %w", err)}
	}

	d.seq++
	return frame.New(toRGBA(img), d.seq), nil
}

func (d *pipeDevice) Close() error {
	if d.closed.Swap(true) {
		return nil
	}

	err := d.stdout.Close()
	if d.cmd == nil {
		return err
	}
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	if werr := d.cmd.Wait(); werr != nil {
		var exitErr *exec.ExitError
		if !errors.As(werr, &exitErr) {
			return fmt.Errorf("failed to stop camera process: %w", werr)
		}
		slog.Info("Camera streaming process exited", "error", werr, "stderr", d.stderr.String())
	}
	return nil
}
