package server

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wachiwi/barcode-streamer/pkg/capture"
	"github.com/wachiwi/barcode-streamer/pkg/stream"
	"github.com/wachiwi/barcode-streamer/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

var clientsGauge metric.Int64UpDownCounter

func init() {
	var err error
	meter := otel.Meter("github.com/wachiwi/barcode-streamer/pkg/server")
	clientsGauge, err = meter.Int64UpDownCounter("stream.clients",
		metric.WithDescription("Connected video feed clients"),
		metric.WithUnit("{clients}"),
	)
	if err != nil {
		slog.Error("Failed to create client metrics", "error", err)
	}
}

type PageHandler struct {
	Title  string
	Width  int
	Height int
}

func (h *PageHandler) Index(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	err := indexTemplate.Execute(c.Writer, gin.H{
		"Title":  h.Title,
		"Width":  h.Width,
		"Height": h.Height,
	})
	if err != nil {
		slog.Error("Template execution error", "error", err)
		c.String(http.StatusInternalServerError, "Failed to render page")
	}
}

// StreamHandler serves the annotated frames.
type StreamHandler struct {
	Source       stream.ChunkSource
	PollInterval time.Duration

	clients atomic.Int64
}

// Clients returns the number of connected video feed clients.
func (h *StreamHandler) Clients() int64 {
	return h.clients.Load()
}

func (h *StreamHandler) VideoFeed(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "Streaming not supported")
		return
	}

	session := stream.NewSession(h.Source)
	if h.PollInterval > 0 {
		session.PollInterval = h.PollInterval
	}

	ctx, span := telemetry.Tracer().Start(c.Request.Context(), "video_feed",
		trace.WithAttributes(
			attribute.String("session.id", session.ID.String()),
			attribute.String("client.address", c.ClientIP()),
		),
	)
	defer span.End()

	h.clients.Add(1)
	clientsGauge.Add(ctx, 1)
	defer func() {
		h.clients.Add(-1)
		clientsGauge.Add(ctx, -1)
	}()

	c.Header("Content-Type", stream.ContentType)
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Status(http.StatusOK)
	flusher.Flush()

	slog.Info("Stream client connected", "session", session.ID, "client", c.ClientIP())
	err := session.Serve(ctx, c.Writer, flusher.Flush)
	span.SetAttributes(attribute.Int64("stream.chunks", int64(session.ChunksSent())))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Info("Stream client dropped", "session", session.ID, "chunks", session.ChunksSent(), "error", err)
		return
	}
	slog.Info("Stream client disconnected", "session", session.ID, "chunks", session.ChunksSent())
}

// Snapshot returns the latest annotated frame as a single JPEG.
func (h *StreamHandler) Snapshot(c *gin.Context) {
	chunk, err := h.Source.NextChunk()
	if err != nil {
		if errors.Is(err, stream.ErrNotReady) {
			c.String(http.StatusServiceUnavailable, "No frame available yet")
			return
		}
		slog.Error("Failed to encode snapshot", "error", err)
		c.String(http.StatusInternalServerError, "Failed to encode frame")
		return
	}
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Data(http.StatusOK, "image/jpeg", chunk.Data)
}

// CaptureStatus is the part of the capture loop health checks look at.
type CaptureStatus interface {
	State() capture.State
	Err() error
}

type HealthHandler struct {
	Capture    CaptureStatus
	Generation func() uint64
	Clients    func() int64
}

type healthResponse struct {
	Status       string `json:"status"`
	CaptureState string `json:"capture_state"`
	Generation   uint64 `json:"generation"`
	Clients      int64  `json:"clients"`
	Error        string `json:"error,omitempty"`
}

func (h *HealthHandler) Healthz(c *gin.Context) {
	state := h.Capture.State()
	resp := healthResponse{
		Status:       "ok",
		CaptureState: state.String(),
	}
	if h.Generation != nil {
		resp.Generation = h.Generation()
	}
	if h.Clients != nil {
		resp.Clients = h.Clients()
	}

	code := http.StatusOK
	if state != capture.StateRunning {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
		if err := h.Capture.Err(); err != nil {
			resp.Error = err.Error()
		}
	}
	c.JSON(code, resp)
}
