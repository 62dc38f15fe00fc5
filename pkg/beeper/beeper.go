// Package beeper plays a short sound when codes show up in front of the camera.
package beeper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/wachiwi/barcode-streamer/pkg/frame"
)

// Player plays PCM in the clip format and returns when playback is done.
type Player interface {
	Play(pcm []byte) error
}

// OtoPlayer plays through the default audio device.
type OtoPlayer struct {
	otoCtx *oto.Context
}

// NewOtoPlayer opens the audio device. Only one oto context may exist per process.
func NewOtoPlayer() (*OtoPlayer, error) {
	op := &oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: ChannelCount,
		Format:       oto.FormatSignedInt16LE,
	}
	otoCtx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready
	return &OtoPlayer{otoCtx: otoCtx}, nil
}

func (p *OtoPlayer) Play(pcm []byte) error {
	player := p.otoCtx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()

	for player.IsPlaying() {
		time.Sleep(20 * time.Millisecond)
	}
	return player.Err()
}

// Beeper plays its clip when a frame contains detections. Playback runs in the
// background; detections that arrive while playing or within the cooldown are
// ignored.
type Beeper struct {
	clip     []byte
	player   Player
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	playing  bool
	lastBeep time.Time
	wg       sync.WaitGroup
}

func New(clip []byte, player Player, cooldown time.Duration) *Beeper {
	return &Beeper{
		clip:     clip,
		player:   player,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Observe starts a beep for a non-empty detection list. It never blocks.
func (b *Beeper) Observe(_ context.Context, dets []frame.Detection) {
	if len(dets) == 0 {
		return
	}

	b.mu.Lock()
	now := b.now()
	if b.playing || (!b.lastBeep.IsZero() && now.Sub(b.lastBeep) < b.cooldown) {
		b.mu.Unlock()
		return
	}
	b.playing = true
	b.lastBeep = now
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.player.Play(b.clip); err != nil {
			slog.Warn("Failed to play beep", "error", err)
		}
		b.mu.Lock()
		b.playing = false
		b.mu.Unlock()
	}()
}

// Wait blocks until a running beep has finished.
func (b *Beeper) Wait() {
	b.wg.Wait()
}
