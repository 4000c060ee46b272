package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/parley-voice/parley/internal/partition"
	"github.com/parley-voice/parley/internal/speech"
)

// silenceDuration is the placeholder played in place of a unit whose
// synthesis failed terminally.
const silenceDuration = 400 * time.Millisecond

// PrefetchQueue synthesizes an answer's units in index order and hands
// the results to exactly one consumer. A single fetch is in flight at
// any moment: the driver synthesizes unit k+1 only after unit k has
// been taken, so playback of the current unit overlaps the fetch of
// the next one and nothing beyond that is requested.
//
// A unit whose synthesis fails terminally is replaced with a short
// silence so playback continues with the units that follow.
type PrefetchQueue struct {
	synth speech.Synthesizer
	units []partition.Unit

	ready chan *speech.AudioResource

	ctx        context.Context
	cancel     context.CancelFunc
	cancelOnce sync.Once
}

// NewPrefetchQueue starts the fetch driver for the given units. The
// queue stops when cancelled, when the parent context ends, or when
// every unit has been consumed.
func NewPrefetchQueue(ctx context.Context, synth speech.Synthesizer, units []partition.Unit) *PrefetchQueue {
	qctx, cancel := context.WithCancel(ctx)
	q := &PrefetchQueue{
		synth:  synth,
		units:  units,
		ready:  make(chan *speech.AudioResource),
		ctx:    qctx,
		cancel: cancel,
	}
	go q.drive()
	return q
}

// drive fetches units strictly in order. The unbuffered ready channel
// is the fetch-ahead bound: the send blocks until the consumer takes
// the unit, and only then does the next synthesis begin.
func (q *PrefetchQueue) drive() {
	defer close(q.ready)

	for _, unit := range q.units {
		res, err := q.synth.Synthesize(q.ctx, unit.Text)
		if err != nil {
			if q.ctx.Err() != nil {
				return
			}
			log.Warn("unit synthesis failed, substituting silence",
				"unit", unit.Index, "error", err)
			res = speech.Silence(silenceDuration)
		}

		select {
		case q.ready <- res:
		case <-q.ctx.Done():
			return
		}
	}
}

// Next blocks until the next unit's audio is ready and returns it.
// It returns nil once all units have been delivered, or when either
// the queue or the caller's context is cancelled.
func (q *PrefetchQueue) Next(ctx context.Context) *speech.AudioResource {
	select {
	case res, ok := <-q.ready:
		if !ok {
			return nil
		}
		return res
	case <-ctx.Done():
		return nil
	}
}

// Cancel stops the driver and abandons any fetch in flight. It is
// idempotent and safe to call concurrently with Next.
func (q *PrefetchQueue) Cancel() {
	q.cancelOnce.Do(q.cancel)
}
