// Package ui provides the interactive terminal front end: a question
// prompt, a progressively revealed answer view, and playback status,
// driven by events from the answer pipeline.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/parley-voice/parley/internal/cache"
	"github.com/parley-voice/parley/internal/pipeline"
)

// Config holds UI options resolved by the command layer. Environment
// variables override the config file.
type Config struct {
	// GlamourStyle selects the markdown style for committed answers.
	// Empty means auto.
	GlamourStyle string `env:"PARLEY_STYLE"`

	// GlamourEnabled renders the committed answer through glamour.
	GlamourEnabled bool `env:"PARLEY_GLAMOUR" envDefault:"true"`
}

// state is the top-level session state.
type state int

const (
	stateIdle state = iota
	stateThinking
	stateSpeaking
)

func (s state) String() string {
	return map[state]string{
		stateIdle:     "idle",
		stateThinking: "thinking",
		stateSpeaking: "speaking",
	}[s]
}

// NewProgram returns the Tea program for an interactive session.
func NewProgram(cfg Config, controller *pipeline.Controller, events <-chan pipeline.Event, store *cache.Store) *tea.Program {
	log.Debug("starting session", "glamour", cfg.GlamourEnabled)
	return tea.NewProgram(newModel(cfg, controller, events, store), tea.WithAltScreen())
}

type model struct {
	cfg        Config
	controller *pipeline.Controller
	events     <-chan pipeline.Event
	store      *cache.Store

	input textinput.Model
	spin  spinner.Model
	vp    viewport.Model

	state        state
	question     string
	lastQuestion string
	answer       string
	reveal       string
	revealDone   bool
	cached       bool
	unit         int
	totalUnits   int
	cooldown     string
	err          error

	showStats bool
	width     int
	height    int
	ready     bool

	renderer *glamour.TermRenderer
}

func newModel(cfg Config, controller *pipeline.Controller, events <-chan pipeline.Event, store *cache.Store) *model {
	input := textinput.New()
	input.Placeholder = "Ask a question…"
	input.Prompt = promptStyle.Render("? ")
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return &model{
		cfg:        cfg,
		controller: controller,
		events:     events,
		store:      store,
		input:      input,
		spin:       spin,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick, waitForEvent(m.events))
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		chromeHeight := 7
		if !m.ready {
			m.vp = viewport.New(msg.Width, max(msg.Height-chromeHeight, 3))
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = max(msg.Height-chromeHeight, 3)
		}
		m.input.Width = msg.Width - 4
		m.rebuildRenderer()
		m.refreshViewport()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.controller.Stop()
			return m, tea.Quit
		case "esc":
			if m.state != stateIdle {
				m.controller.Stop()
				return m, nil
			}
			m.controller.Stop()
			return m, tea.Quit
		case "enter":
			if cmd := m.ask(m.input.Value()); cmd != nil {
				cmds = append(cmds, cmd)
			}
		case "ctrl+r":
			if m.state == stateIdle && m.lastQuestion != "" {
				if cmd := m.ask(m.lastQuestion); cmd != nil {
					cmds = append(cmds, cmd)
				}
			}
		case "ctrl+t":
			m.showStats = !m.showStats
		}

	case spinner.TickMsg:
		if m.state != stateIdle {
			var cmd tea.Cmd
			m.spin, cmd = m.spin.Update(msg)
			cmds = append(cmds, cmd)
		}

	case eventMsg:
		m.handleEvent(msg.event)
		cmds = append(cmds, waitForEvent(m.events))
		if m.state != stateIdle {
			cmds = append(cmds, m.spin.Tick)
		}

	case eventsClosedMsg:
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	if m.ready {
		m.vp, cmd = m.vp.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// ask submits a question to the pipeline and resets the answer view.
func (m *model) ask(question string) tea.Cmd {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil
	}

	m.question = question
	m.lastQuestion = question
	m.answer = ""
	m.reveal = ""
	m.revealDone = false
	m.cached = false
	m.unit = 0
	m.totalUnits = 0
	m.cooldown = ""
	m.err = nil
	m.state = stateThinking
	m.input.Reset()
	m.refreshViewport()

	m.controller.Ask(context.Background(), question)
	return m.spin.Tick
}

// handleEvent folds one pipeline event into the view state.
func (m *model) handleEvent(e pipeline.Event) {
	switch e := e.(type) {
	case pipeline.AnswerEvent:
		if e.Question != m.question {
			return
		}
		m.answer = e.Answer
		m.cached = e.Cached
		m.state = stateSpeaking

	case pipeline.RevealEvent:
		m.reveal = e.Text
		m.revealDone = e.Done
		m.refreshViewport()

	case pipeline.UnitEvent:
		m.unit = e.Index + 1
		m.totalUnits = e.Total
		m.cooldown = ""

	case pipeline.CooldownEvent:
		m.cooldown = e.Remaining.Round(100 * time.Millisecond).String()

	case pipeline.DoneEvent:
		if e.Question != m.question {
			return
		}
		m.state = stateIdle
		m.cooldown = ""
		if e.Err != nil && !errors.Is(e.Err, context.Canceled) {
			m.err = e.Err
		}
		// Interrupted runs keep whatever was revealed; finished runs
		// show the whole answer.
		if e.Err == nil && m.answer != "" {
			m.reveal = m.answer
			m.revealDone = true
		}
		m.refreshViewport()
	}
}

func (m *model) rebuildRenderer() {
	if !m.cfg.GlamourEnabled || m.width == 0 {
		m.renderer = nil
		return
	}

	style := m.cfg.GlamourStyle
	opts := []glamour.TermRendererOption{
		glamour.WithWordWrap(min(m.width-2, 100)),
	}
	if style == "" || style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStylePath(style))
	}

	renderer, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		log.Warn("markdown renderer unavailable", "error", err)
		m.renderer = nil
		return
	}
	m.renderer = renderer
}

// refreshViewport re-renders the answer body. The in-progress reveal is
// plain wrapped text; the committed answer gets the full markdown
// treatment.
func (m *model) refreshViewport() {
	if !m.ready {
		return
	}

	body := m.reveal
	if m.revealDone && m.renderer != nil {
		if rendered, err := m.renderer.Render(m.answer); err == nil {
			body = rendered
		}
	} else if m.width > 0 {
		body = wordwrap.String(body, min(m.width-2, 100))
	}

	var b strings.Builder
	if m.question != "" {
		b.WriteString(questionStyle.Render(m.question))
		b.WriteString("\n")
	}
	b.WriteString(answerStyle.Render(body))

	atBottom := m.vp.AtBottom()
	m.vp.SetContent(b.String())
	if atBottom {
		m.vp.GotoBottom()
	}
}

func (m *model) statusLine() string {
	switch {
	case m.err != nil:
		return errorStyle.Render("✗ " + m.err.Error())
	case m.cooldown != "":
		return statusStyle.Render(fmt.Sprintf("%s rate limited, resuming in %s", m.spin.View(), m.cooldown))
	case m.state == stateThinking:
		return statusStyle.Render(m.spin.View() + " thinking")
	case m.state == stateSpeaking:
		status := fmt.Sprintf("%s speaking %d/%d", m.spin.View(), m.unit, m.totalUnits)
		if m.totalUnits == 0 {
			status = m.spin.View() + " synthesizing"
		}
		line := statusStyle.Render(status)
		if m.cached {
			line += " " + cachedBadgeStyle.Render("replay")
		}
		return line
	default:
		return statusStyle.Render("ready")
	}
}

func (m *model) View() string {
	if !m.ready {
		return "\n  initializing…"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Parley"))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.vp.View())
	b.WriteString("\n")

	help := "enter ask • esc stop/quit • ctrl+r replay • ctrl+t stats • ctrl+c quit"
	if m.showStats && m.store != nil {
		stats := m.store.Stats().String()
		if runewidth.StringWidth(stats) > m.width {
			stats = truncate.StringWithTail(stats, uint(max(m.width-1, 1)), "…")
		}
		b.WriteString(statusStyle.Render(stats))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render(help))

	return b.String()
}
