package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Boundary separates the parts of the stream.
const Boundary = "frame"

// ContentType is the response content type of a stream.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// DefaultPollInterval is how long a session waits before asking again when the
// newest frame was already sent.
const DefaultPollInterval = 10 * time.Millisecond

var (
	chunksCounter       metric.Int64Counter
	encodeErrorsCounter metric.Int64Counter
)

func init() {
	var err error
	meter := otel.Meter("github.com/wachiwi/barcode-streamer/pkg/stream")
	chunksCounter, err = meter.Int64Counter("stream.chunks",
		metric.WithDescription("JPEG parts written to stream clients"),
		metric.WithUnit("{chunks}"),
	)
	if err != nil {
		slog.Error("Failed to create chunk metrics", "error", err)
	}
	encodeErrorsCounter, err = meter.Int64Counter("stream.encode_errors",
		metric.WithDescription("Frames that failed to encode"),
		metric.WithUnit("{errors}"),
	)
	if err != nil {
		slog.Error("Failed to create encode error metrics", "error", err)
	}
}

// ChunkSource produces encoded frames.
type ChunkSource interface {
	NextChunk() (Chunk, error)
}

// Session is one connected stream client.
type Session struct {
	ID           uuid.UUID
	PollInterval time.Duration

	src            ChunkSource
	lastGeneration uint64
	chunksSent     uint64
}

func NewSession(src ChunkSource) *Session {
	return &Session{
		ID:           uuid.New(),
		PollInterval: DefaultPollInterval,
		src:          src,
	}
}

// ChunksSent returns the number of parts written so far.
func (s *Session) ChunksSent() uint64 {
	return s.chunksSent
}

// Serve writes parts to w until ctx is done or a write fails. flush, if not nil,
// is called after every part. A cancelled context is a normal end and returns nil.
func (s *Session) Serve(ctx context.Context, w io.Writer, flush func()) error {
	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = 10 * time.Millisecond
	wait.MaxInterval = 200 * time.Millisecond
	wait.Reset()

	for {
		if ctx.Err() != nil {
			return nil
		}

		chunk, err := s.src.NextChunk()
		if err != nil {
			var encErr *EncodeError
			switch {
			case errors.Is(err, ErrNotReady):
			case errors.As(err, &encErr):
				encodeErrorsCounter.Add(ctx, 1)
				slog.Warn("Failed to encode frame", "session", s.ID, "error", err)
			default:
				return err
			}
			if !sleep(ctx, wait.NextBackOff()) {
				return nil
			}
			continue
		}
		wait.Reset()

		if s.chunksSent > 0 && chunk.Generation == s.lastGeneration {
			if !sleep(ctx, s.PollInterval) {
				return nil
			}
			continue
		}

		if err := WritePart(w, chunk.Data); err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
		if flush != nil {
			flush()
		}
		s.lastGeneration = chunk.Generation
		s.chunksSent++
		chunksCounter.Add(ctx, 1)
	}
}

// WritePart writes one multipart part holding a JPEG image.
func WritePart(w io.Writer, jpeg []byte) error {
	if _, err := io.WriteString(w, "--"+Boundary+"\r\nContent-Type: image/jpeg\r\n\r\n"); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
