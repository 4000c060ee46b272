package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/parley-voice/parley/internal/pipeline"
)

// eventMsg wraps one pipeline event for the update loop.
type eventMsg struct {
	event pipeline.Event
}

// eventsClosedMsg is sent when the pipeline event channel closes.
type eventsClosedMsg struct{}

// waitForEvent blocks on the pipeline channel and delivers the next
// event as a message. The update loop re-issues it after each event.
func waitForEvent(ch <-chan pipeline.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{event: e}
	}
}
