// Package pipeline coordinates answering a spoken question end to end:
// generate or look up the answer, partition it into units, synthesize
// the units ahead of playback, and keep the on-screen reveal in step
// with the audio. One question is active at a time; asking a new
// question supersedes the run in progress.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/parley-voice/parley/internal/audio"
	"github.com/parley-voice/parley/internal/cache"
	"github.com/parley-voice/parley/internal/llm"
	"github.com/parley-voice/parley/internal/partition"
	"github.com/parley-voice/parley/internal/speech"
)

// cooldownNotice is the provider cooldown length above which the
// consumer is told synthesis is waiting.
const cooldownNotice = 1500 * time.Millisecond

// Config wires the controller's collaborators.
type Config struct {
	Synth  speech.Synthesizer
	Player audio.Player
	Store  *cache.Store
	Model  llm.Client

	// Cooldown is the synthesis client's shared cooldown, watched to
	// surface long waits. Optional.
	Cooldown *speech.Cooldown

	// Partition bounds answer units. Zero value means the default
	// 100-word bound.
	Partition partition.Options

	// RevealInterval is the word cadence of the text reveal.
	RevealInterval time.Duration

	// Notify receives pipeline events. Called from pipeline
	// goroutines; must not block. Optional.
	Notify func(Event)
}

// Controller runs question/answer sessions. Safe for concurrent use;
// a new Ask supersedes the active run.
type Controller struct {
	cfg Config

	mu     sync.Mutex
	active *run
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a controller. Synth, Player, Store and Model are required.
func New(cfg Config) *Controller {
	if cfg.Partition == (partition.Options{}) {
		cfg.Partition = partition.DefaultOptions()
	}
	return &Controller{cfg: cfg}
}

// Ask starts answering a question, cancelling any run in progress
// first. The run proceeds on its own goroutines; progress arrives via
// Notify, ending with a DoneEvent. Empty questions are ignored.
func (c *Controller) Ask(parent context.Context, question string) {
	question = strings.TrimSpace(question)
	if question == "" {
		return
	}

	c.Stop()

	ctx, cancel := context.WithCancel(parent)
	r := &run{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.active = r
	c.mu.Unlock()

	go func() {
		defer close(r.done)
		defer cancel()

		err := c.answer(ctx, question)
		c.notify(DoneEvent{Question: question, Err: err})

		c.mu.Lock()
		if c.active == r {
			c.active = nil
		}
		c.mu.Unlock()
	}()
}

// Stop cancels the active run, halts the player, and waits for the
// run's goroutines to wind down. No-op when idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	r := c.active
	c.active = nil
	c.mu.Unlock()

	if r == nil {
		return
	}
	r.cancel()
	c.cfg.Player.Stop()
	<-r.done
}

// Busy reports whether a run is in progress.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

func (c *Controller) notify(e Event) {
	if c.cfg.Notify != nil {
		c.cfg.Notify(e)
	}
}

// answer resolves one question: replay from cache when complete audio
// exists, otherwise generate and synthesize fresh.
func (c *Controller) answer(ctx context.Context, question string) error {
	var answer string

	entry, err := c.cfg.Store.Get(question)
	if err == nil {
		if entry.Complete() {
			return c.replay(ctx, question, entry)
		}
		// Answer text survived a previous interrupted run; only the
		// audio needs regenerating.
		answer = entry.Answer
	}

	if answer == "" {
		answer, err = c.cfg.Model.Answer(ctx, question)
		if err != nil {
			return err
		}
		if err := c.cfg.Store.Put(question, answer, nil); err != nil {
			log.Warn("failed to cache answer", "error", err)
		}
	}

	return c.fresh(ctx, question, answer)
}

// replay plays a fully cached answer. The reveal waits for the first
// unit's playback so text and speech start together.
func (c *Controller) replay(ctx context.Context, question string, entry *cache.Entry) error {
	log.Debug("replaying cached answer", "question", question, "units", len(entry.Audio))
	c.notify(AnswerEvent{Question: question, Answer: entry.Answer, Cached: true})

	reveal := newRevealDriver(c.cfg.RevealInterval, c.notify)
	go reveal.run(ctx, entry.Answer, true)

	total := len(entry.Audio)
	for i, res := range entry.Audio {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.notify(UnitEvent{Index: i, Total: total})
		reveal.audioStarted()
		if err := c.cfg.Player.Play(ctx, res); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// fresh synthesizes and plays a new answer. Playback of unit k overlaps
// the synthesis of unit k+1; each finished unit is appended to the
// cache entry so progress is durable.
func (c *Controller) fresh(ctx context.Context, question, answer string) error {
	c.notify(AnswerEvent{Question: question, Answer: answer, Cached: false})

	reveal := newRevealDriver(c.cfg.RevealInterval, c.notify)
	go reveal.run(ctx, answer, false)
	go c.watchCooldown(ctx)

	units := partition.Split(answer, c.cfg.Partition)
	queue := NewPrefetchQueue(ctx, c.cfg.Synth, units)
	defer queue.Cancel()

	total := len(units)
	index := 0
	degraded := false

	cur := queue.Next(ctx)
	for cur != nil {
		next := make(chan *speech.AudioResource, 1)
		go func() { next <- queue.Next(ctx) }()

		c.notify(UnitEvent{Index: index, Total: total})
		reveal.audioStarted()
		if err := c.cfg.Player.Play(ctx, cur); err != nil {
			<-next
			return err
		}

		if cur.Silence {
			degraded = true
		} else if err := c.cfg.Store.AppendAudio(question, cur); err != nil {
			log.Warn("failed to cache audio unit", "unit", index, "error", err)
		}

		cur = <-next
		index++
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// An answer played with silence placeholders is not a faithful
	// recording; drop the partial audio so the next ask resynthesizes.
	if degraded {
		log.Debug("answer degraded, clearing cached audio", "question", question)
		if err := c.cfg.Store.Put(question, answer, nil); err != nil {
			log.Warn("failed to reset cached audio", "error", err)
		}
	}
	return nil
}

// watchCooldown surfaces long synthesis cooldowns while a run is live.
func (c *Controller) watchCooldown(ctx context.Context) {
	if c.cfg.Cooldown == nil {
		return
	}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if remaining := c.cfg.Cooldown.Remaining(); remaining > cooldownNotice {
				c.notify(CooldownEvent{Remaining: remaining})
			}
		}
	}
}
