// Package indicator drives a status LED that is lit while codes are in view,
// and a push button that asks the streamer to stop.
package indicator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wachiwi/barcode-streamer/pkg/frame"
)

// Line is an output line.
type Line interface {
	SetValue(value int) error
	Close() error
}

// Indicator switches the LED on for frames with detections and off once no
// code has been seen for the hold time.
type Indicator struct {
	led    Line
	button Line
	hold   time.Duration
	now    func() time.Time

	mu       sync.Mutex
	lit      bool
	lastSeen time.Time
}

func newIndicator(led Line, hold time.Duration) *Indicator {
	return &Indicator{led: led, hold: hold, now: time.Now}
}

func (ind *Indicator) Observe(_ context.Context, dets []frame.Detection) {
	ind.mu.Lock()
	defer ind.mu.Unlock()

	now := ind.now()
	if len(dets) > 0 {
		ind.lastSeen = now
		ind.set(true)
		return
	}
	if ind.lit && now.Sub(ind.lastSeen) >= ind.hold {
		ind.set(false)
	}
}

func (ind *Indicator) set(on bool) {
	if ind.lit == on {
		return
	}
	v := 0
	if on {
		v = 1
	}
	if err := ind.led.SetValue(v); err != nil {
		slog.Warn("Failed to set indicator LED", "error", err)
		return
	}
	ind.lit = on
}

// Lit reports whether the LED is on.
func (ind *Indicator) Lit() bool {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	return ind.lit
}

// Close switches the LED off and releases the lines.
func (ind *Indicator) Close() error {
	ind.mu.Lock()
	defer ind.mu.Unlock()

	ind.set(false)
	if ind.button != nil {
		if err := ind.button.Close(); err != nil {
			slog.Warn("Failed to release button line", "error", err)
		}
	}
	return ind.led.Close()
}
