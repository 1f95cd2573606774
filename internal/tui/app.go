// Package tui implements the local progress dashboard: a Bubble Tea
// program that subscribes to a progress.ChannelBridge and renders live
// run state, adapted from the teacher's Model (subscribed to
// metrics.Collector) with its per-table/lag/replication panels replaced
// by per-stage/throughput panels and the lag sparkline dropped, since
// Aqueducts runs have no replication-lag analogue.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aqueducts/aqueducts/internal/progress"
	"github.com/aqueducts/aqueducts/internal/tui/components"
	"github.com/aqueducts/aqueducts/internal/tui/runstate"
)

// eventMsg carries one progress.Event into the Bubble Tea update loop.
type eventMsg progress.Event

// Model is the main Bubble Tea model for the aqueducts run dashboard.
type Model struct {
	bridge *progress.ChannelBridge
	sub    chan progress.Event
	state  runstate.State

	width  int
	height int
	ready  bool
}

// NewModel creates a TUI model subscribed to the given progress bridge.
func NewModel(bridge *progress.ChannelBridge) Model {
	return Model{bridge: bridge, sub: bridge.Subscribe(), state: runstate.New()}
}

// Init starts waiting on the model's progress event subscription.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.sub)
}

func waitForEvent(sub chan progress.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.sub != nil {
				m.bridge.Unsubscribe(m.sub)
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case eventMsg:
		m.state = m.state.Apply(progress.Event(msg))
		if progress.EventKind(msg.Kind) == progress.EventRunCompleted || progress.EventKind(msg.Kind) == progress.EventRunFailed {
			return m, tea.Quit
		}
		return m, waitForEvent(m.sub)
	}

	return m, nil
}

// View renders the full dashboard.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	w := m.width
	st := m.state

	var sections []string

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(colorPrimary).
		Width(w).
		Padding(0, 1).
		Render(" aqueducts")
	sections = append(sections, title)

	headerBox := boxStyle.Width(w - 2).Render(components.RenderHeader(st, w-4))
	sections = append(sections, headerBox)

	progressBox := boxStyle.Width(w - 2).Render(components.RenderProgress(st, w-4))
	sections = append(sections, progressBox)

	stageHeight := m.height - 14
	if stageHeight < 3 {
		stageHeight = 3
	}
	stageContent := components.RenderStages(st, w-4, stageHeight)
	stageBox := boxStyle.Width(w - 2).Render(stageContent)
	sections = append(sections, stageBox)

	tpBox := boxStyle.Width(w - 2).Render(components.RenderThroughput(st, w-4))
	sections = append(sections, tpBox)

	logBox := boxStyle.Width(w - 2).Render(components.RenderLogs(st.Logs, 5))
	sections = append(sections, logBox)

	help := helpStyle.Render("  q: quit")
	sections = append(sections, help)

	return strings.Join(sections, "\n")
}

// Run starts the TUI in fullscreen mode, blocking until the run completes
// or the user quits.
func Run(bridge *progress.ChannelBridge) error {
	model := NewModel(bridge)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
