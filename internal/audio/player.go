// Package audio drives the output device. A Player takes one
// synthesized resource at a time and blocks until the device has
// finished rendering it, which is what lets the pipeline overlap the
// next synthesis request with the current unit's playback.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/parley-voice/parley/internal/speech"
)

// ErrClosed is returned when playing through a closed device.
var ErrClosed = errors.New("audio: device closed")

// pollInterval is how often Play checks the device for completion.
const pollInterval = 10 * time.Millisecond

// Player renders synthesized audio. Play blocks until the resource has
// been played to completion, the context is cancelled, or Stop is
// called from another goroutine.
type Player interface {
	Play(ctx context.Context, res *speech.AudioResource) error
	Stop()
	Close() error
}

// Device is the production Player backed by an oto output context.
// One Device holds the platform audio handle for the process lifetime;
// Play may be called repeatedly but not concurrently.
type Device struct {
	ctx *oto.Context

	mu      sync.Mutex
	current *oto.Player
	// stream keeps the PCM buffer reachable while the device reads it.
	stream []byte
	closed bool
}

// NewDevice opens the output device at the synthesis format: 24 kHz,
// mono, signed 16-bit samples.
func NewDevice() (*Device, error) {
	op := &oto.NewContextOptions{
		SampleRate:   speech.SampleRate,
		ChannelCount: speech.Channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio device: %w", err)
	}
	<-ready

	return &Device{ctx: ctx}, nil
}

// Play renders one resource to completion. Cancellation stops the
// device immediately and returns the context error.
func (d *Device) Play(ctx context.Context, res *speech.AudioResource) error {
	if res == nil || len(res.Data) == 0 {
		return nil
	}

	pcm, rate := speech.SplitWAV(res.Data)
	if len(pcm) == 0 {
		return nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.stopLocked()
	player := d.ctx.NewPlayer(bytes.NewReader(pcm))
	d.current = player
	d.stream = pcm
	d.mu.Unlock()

	player.Play()

	// The device reports completion via IsPlaying; the deadline is a
	// backstop against a stalled platform buffer.
	duration := pcmDuration(len(pcm), rate)
	deadline := time.NewTimer(duration + 2*time.Second)
	defer deadline.Stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.Stop()
			return ctx.Err()
		case <-deadline.C:
			d.Stop()
			return nil
		case <-ticker.C:
			d.mu.Lock()
			stopped := d.current != player
			d.mu.Unlock()
			if stopped {
				return nil
			}
			if !player.IsPlaying() {
				d.mu.Lock()
				if d.current == player {
					d.releaseLocked()
				}
				d.mu.Unlock()
				return nil
			}
		}
	}
}

// Stop halts playback in progress. Safe to call at any time, from any
// goroutine, including when nothing is playing.
func (d *Device) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *Device) stopLocked() {
	if d.current == nil {
		return
	}
	d.current.Pause()
	d.releaseLocked()
}

func (d *Device) releaseLocked() {
	if d.current != nil {
		d.current.Close()
		d.current = nil
	}
	d.stream = nil
}

// Close stops playback and marks the device unusable. The underlying
// oto context has no close of its own; it is dropped with the process.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.closed = true
	return nil
}

func pcmDuration(n, rate int) time.Duration {
	if rate <= 0 {
		rate = speech.SampleRate
	}
	samples := n / (speech.Channels * speech.BitDepth / 8)
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
