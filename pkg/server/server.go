// Package server exposes the stream over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wachiwi/barcode-streamer/pkg/stream"
)

// Options wires the server to the pipeline.
type Options struct {
	Addr         string
	Title        string
	Width        int
	Height       int
	Source       stream.ChunkSource
	PollInterval time.Duration
	Capture      CaptureStatus
	Generation   func() uint64
}

type Server struct {
	router  *gin.Engine
	httpSrv *http.Server
	streams *StreamHandler

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func New(opts Options) *Server {
	streams := &StreamHandler{Source: opts.Source, PollInterval: opts.PollInterval}
	pages := &PageHandler{Title: opts.Title, Width: opts.Width, Height: opts.Height}
	health := &HealthHandler{
		Capture:    opts.Capture,
		Generation: opts.Generation,
		Clients:    streams.Clients,
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger)
	router.GET("/", pages.Index)
	router.GET("/video_feed", streams.VideoFeed)
	router.GET("/snapshot.jpg", streams.Snapshot)
	router.GET("/healthz", health.Healthz)

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:     router,
		streams:    streams,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	s.httpSrv = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// streams end with their request context
		BaseContext: func(net.Listener) context.Context { return s.baseCtx },
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Clients returns the number of connected video feed clients.
func (s *Server) Clients() int64 {
	return s.streams.Clients()
}

// ListenAndServe blocks until the server fails or is shut down. A shutdown is
// not an error.
func (s *Server) ListenAndServe() error {
	slog.Info("Server is running", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to run server: %w", err)
	}
	return nil
}

// Shutdown ends all streams and waits for handlers to return until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelBase()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
