package pipeline

import "time"

// Event is a notification from the pipeline to its consumer. The UI
// receives these on its own goroutine; handlers must not block.
type Event interface{ isEvent() }

// AnswerEvent reports that an answer is available for a question,
// either freshly generated or served from cache.
type AnswerEvent struct {
	Question string
	Answer   string
	Cached   bool
}

// RevealEvent carries the progressively revealed answer text. Done is
// set on the final event, when the full answer is visible.
type RevealEvent struct {
	Text string
	Done bool
}

// UnitEvent reports that playback of one answer unit has started.
type UnitEvent struct {
	Index int
	Total int
}

// CooldownEvent reports that synthesis is paused waiting out a
// provider cooldown.
type CooldownEvent struct {
	Remaining time.Duration
}

// DoneEvent reports that a question's run has finished. Err is nil on
// normal completion, context.Canceled when superseded or stopped.
type DoneEvent struct {
	Question string
	Err      error
}

func (AnswerEvent) isEvent()   {}
func (RevealEvent) isEvent()   {}
func (UnitEvent) isEvent()     {}
func (CooldownEvent) isEvent() {}
func (DoneEvent) isEvent()     {}
