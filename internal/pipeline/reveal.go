package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"
)

// defaultRevealInterval is the word cadence of the progressive reveal.
const defaultRevealInterval = 60 * time.Millisecond

// revealDriver streams an answer to the display one word at a time.
// For cached answers the reveal holds until the first audio actually
// starts, so text and speech begin together; fresh answers reveal
// immediately while synthesis is still running.
type revealDriver struct {
	interval time.Duration
	notify   func(Event)

	firstAudio chan struct{}
	once       sync.Once
}

func newRevealDriver(interval time.Duration, notify func(Event)) *revealDriver {
	if interval <= 0 {
		interval = defaultRevealInterval
	}
	return &revealDriver{
		interval:   interval,
		notify:     notify,
		firstAudio: make(chan struct{}),
	}
}

// audioStarted signals that the first unit's playback has begun.
// Idempotent.
func (d *revealDriver) audioStarted() {
	d.once.Do(func() { close(d.firstAudio) })
}

// run reveals the answer word by word, emitting RevealEvents until the
// full text is visible. Blocks; meant to run on its own goroutine.
// Cancellation stops the reveal without emitting the final event.
func (d *revealDriver) run(ctx context.Context, answer string, waitForAudio bool) {
	if waitForAudio {
		select {
		case <-d.firstAudio:
		case <-ctx.Done():
			return
		}
	}

	words := strings.Fields(answer)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for i := 1; i < len(words); i++ {
		d.notify(RevealEvent{Text: strings.Join(words[:i], " ")})
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}

	d.notify(RevealEvent{Text: answer, Done: true})
}
