package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/wachiwi/barcode-streamer/pkg/annotate"
	"github.com/wachiwi/barcode-streamer/pkg/beeper"
	"github.com/wachiwi/barcode-streamer/pkg/capture"
	"github.com/wachiwi/barcode-streamer/pkg/config"
	"github.com/wachiwi/barcode-streamer/pkg/decoder"
	"github.com/wachiwi/barcode-streamer/pkg/framebuffer"
	"github.com/wachiwi/barcode-streamer/pkg/indicator"
	"github.com/wachiwi/barcode-streamer/pkg/logger"
	"github.com/wachiwi/barcode-streamer/pkg/server"
	"github.com/wachiwi/barcode-streamer/pkg/stats"
	"github.com/wachiwi/barcode-streamer/pkg/stream"
	"github.com/wachiwi/barcode-streamer/pkg/telemetry"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}
	if err := logger.Setup(cfg.LogLevel); err != nil {
		logger.Fatal("Failed to set up logging", "error", err)
	}

	if err := run(cfg); err != nil {
		logger.Fatal("Barcode streamer failed", "error", err)
	}
}

func run(cfg *config.Config) error {
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				slog.Error("Failed to shut down telemetry", "error", err)
			}
		}()
	}

	dec, err := decoder.NewZXing(cfg.Decoder.Symbologies, cfg.Decoder.TryHarder)
	if err != nil {
		return err
	}

	var observers []capture.Observer
	if cfg.Beeper.Enabled {
		b, err := newBeeper(cfg.Beeper)
		if err != nil {
			return err
		}
		defer b.Wait()
		observers = append(observers, b)
	}
	if cfg.Indicator.Enabled {
		ind, err := indicator.Open(cfg.Indicator.Chip, cfg.Indicator.LEDLine, cfg.Indicator.ButtonLine, cfg.Indicator.Hold, stop)
		if err != nil {
			return err
		}
		defer ind.Close()
		observers = append(observers, ind)
	}

	src, err := newSource(cfg.Camera)
	if err != nil {
		return err
	}

	buf := framebuffer.New()
	loop := capture.New(src, dec, annotate.New(), buf, capture.Options{
		MaxConsecutiveReadFailures: cfg.Capture.MaxConsecutiveReadFailures,
		Observers:                  observers,
	})
	if err := loop.Start(ctx); err != nil {
		if ctx.Err() != nil {
			slog.Info("Shutdown requested while opening the camera")
			return nil
		}
		return fmt.Errorf("failed to start capture: %w", err)
	}
	defer func() {
		if err := loop.Stop(); err != nil {
			slog.Warn("Capture ended with error", "error", err)
		}
	}()

	width, height := cfg.Camera.FrameSize()
	srv := server.New(server.Options{
		Addr:         cfg.Addr(),
		Title:        "Barcode Streamer",
		Width:        width,
		Height:       height,
		Source:       stream.NewEncoder(buf, cfg.Stream.JPEGQuality),
		PollInterval: cfg.Stream.PollInterval,
		Capture:      loop,
		Generation:   buf.Generation,
	})

	if cfg.Stats.Schedule != "" {
		c, err := stats.Start(cfg.Stats.Schedule, stats.NewReporter(loop, srv.Clients))
		if err != nil {
			return err
		}
		defer stopCron(c)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	captureDone := loop.Done()
	var runErr error
wait:
	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutting down")
			break wait
		case err := <-serveErr:
			runErr = err
			break wait
		case <-captureDone:
			captureDone = nil
			if err := loop.Err(); err != nil && cfg.Capture.ExitOnFailure {
				runErr = fmt.Errorf("capture failed: %w", err)
				break wait
			}
			slog.Warn("Capture stopped, serving the last frame", "state", loop.State(), "error", loop.Err())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down server", "error", err)
	}
	return runErr
}

func newBeeper(c config.BeeperConfig) (*beeper.Beeper, error) {
	clip, err := beeper.LoadClip(c.SoundFile)
	if err != nil {
		return nil, err
	}
	player, err := beeper.NewOtoPlayer()
	if err != nil {
		return nil, err
	}
	return beeper.New(clip, player, c.Cooldown), nil
}

func stopCron(c *cron.Cron) {
	<-c.Stop().Done()
}
