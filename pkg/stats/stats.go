// Package stats periodically logs how the capture pipeline is doing.
package stats

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wachiwi/barcode-streamer/pkg/capture"
	"github.com/wachiwi/barcode-streamer/pkg/logger"
)

// StatsSource exposes the capture counters.
type StatsSource interface {
	Stats() capture.Stats
	State() capture.State
}

// Summary covers the interval since the previous report.
type Summary struct {
	State      capture.State
	Interval   time.Duration
	Frames     uint64
	FPS        float64
	ReadErrors uint64
	Detections uint64
	Clients    int64
}

// Reporter turns counter deltas into a log line. It implements cron.Job.
type Reporter struct {
	src     StatsSource
	clients func() int64
	now     func() time.Time

	mu     sync.Mutex
	last   capture.Stats
	lastAt time.Time
}

// NewReporter starts measuring from now. clients may be nil.
func NewReporter(src StatsSource, clients func() int64) *Reporter {
	r := &Reporter{src: src, clients: clients, now: time.Now}
	r.last = src.Stats()
	r.lastAt = r.now()
	return r
}

// Report computes the summary since the last call and logs it.
func (r *Reporter) Report() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.src.Stats()
	at := r.now()

	s := Summary{
		State:      r.src.State(),
		Interval:   at.Sub(r.lastAt),
		Frames:     cur.Published - r.last.Published,
		ReadErrors: cur.ReadErrors - r.last.ReadErrors,
		Detections: cur.Detections - r.last.Detections,
	}
	if s.Interval > 0 {
		s.FPS = float64(s.Frames) / s.Interval.Seconds()
	}
	if r.clients != nil {
		s.Clients = r.clients()
	}
	r.last = cur
	r.lastAt = at

	slog.Info("Pipeline stats",
		"state", s.State,
		"frames", s.Frames,
		"fps", fmt.Sprintf("%.1f", s.FPS),
		"read_errors", s.ReadErrors,
		"detections", s.Detections,
		"clients", s.Clients,
	)
	return s
}

func (r *Reporter) Run() {
	r.Report()
}

// Start schedules r on spec and starts the scheduler. Stop the returned cron to
// end reporting.
func Start(spec string, r *Reporter) (*cron.Cron, error) {
	cronLogger := &logger.CronLogger{Logger: slog.Default()}
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := c.AddJob(spec, r); err != nil {
		return nil, fmt.Errorf("failed to schedule stats report %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
