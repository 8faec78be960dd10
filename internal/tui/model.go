// Package tui is the live terminal view of a compilation batch: batch progress,
// per-graph status, and a scrollable log of one graph's scheduling events.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/npusched/internal/events"
	"github.com/aristath/npusched/internal/report"
)

// maxEventLines bounds the event log kept for the viewport.
const maxEventLines = 2000

// busClosedMsg is delivered once the event bus is closed.
type busClosedMsg struct{}

// graphState is the status line of one graph.
type graphState struct {
	name   string
	status string
}

// Model is the root Bubble Tea model of the compile view.
type Model struct {
	eventSub <-chan events.Event
	watch    string
	onQuit   func()

	progress events.BatchProgressEvent
	graphs   map[string]*graphState
	order    []string
	lines    []string
	follow   bool
	viewport viewport.Model

	width    int
	height   int
	quitting bool
	done     bool
}

// New creates a compile view. It subscribes to every event on the bus; watch names
// the graph whose scheduling and barrier events are logged ("" logs none). onQuit
// is called when the user stops the batch.
func New(bus *events.EventBus, watch string, onQuit func()) Model {
	return Model{
		eventSub: bus.SubscribeAll(4096),
		watch:    watch,
		onQuit:   onQuit,
		graphs:   make(map[string]*graphState),
		follow:   true,
		viewport: viewport.New(0, 0),
	}
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			if m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		case KeyEnd:
			m.follow = true
			m.viewport.GotoBottom()
			return m, nil
		default:
			// Scrolling keys go to the viewport keymap
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			m.follow = m.viewport.AtBottom()
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()
		return m, nil

	case busClosedMsg:
		m.done = true
		return m, tea.Quit

	case events.Event:
		m.apply(msg)
		return m, waitForEvent(m.eventSub)
	}

	return m, nil
}

// apply folds one bus event into the view state.
func (m *Model) apply(e events.Event) {
	switch e := e.(type) {
	case events.BatchProgressEvent:
		m.progress = e
	case events.GraphStartedEvent:
		m.graph(e.GraphName).status = StyleRunning.Render("compiling") + fmt.Sprintf(" %d tasks", e.Tasks)
	case events.GraphCompiledEvent:
		m.graph(e.GraphName).status = report.StyleStatusOK.Render("ok") +
			fmt.Sprintf(" makespan %d, %d spills, %d barriers", e.Makespan, e.Spills, e.Barriers)
	case events.GraphFailedEvent:
		m.graph(e.GraphName).status = report.StyleStatusFailed.Render("failed") + fmt.Sprintf(" %v", e.Err)
	}

	if m.watch == "" || e.Graph() != m.watch {
		return
	}
	if line := eventLine(e); line != "" {
		m.lines = append(m.lines, line)
		if len(m.lines) > maxEventLines {
			m.lines = m.lines[len(m.lines)-maxEventLines:]
		}
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		if m.follow {
			m.viewport.GotoBottom()
		}
	}
}

func (m *Model) graph(name string) *graphState {
	g, ok := m.graphs[name]
	if !ok {
		g = &graphState{name: name, status: report.StyleStatusPending.Render("pending")}
		m.graphs[name] = g
		m.order = append(m.order, name)
		if m.width > 0 {
			m.resizeViewport()
		}
	}
	return g
}

// eventLine renders a watched event as one log line.
func eventLine(e events.Event) string {
	switch e := e.(type) {
	case events.TaskScheduledEvent:
		return fmt.Sprintf("t=%-4d scheduled task %d (%s)", e.Time, e.Task, e.Kind)
	case events.BufferEvictedEvent:
		return report.StyleSpill.Render(fmt.Sprintf("t=%-4d evicted buffer %d written by task %d (%d bytes, priority %d)",
			e.Time, e.Buffer, e.Writer, e.Size, e.Priority))
	case events.BarrierAttemptEvent:
		verdict := "infeasible"
		if e.Feasible {
			verdict = "feasible"
		}
		return fmt.Sprintf("barrier attempt %d with %d slots: %s", e.Attempt, e.Budget, verdict)
	case events.BarrierStallEvent:
		return report.StyleStatusFailed.Render(fmt.Sprintf("barrier simulation stalled, %d barriers pending", e.Pending))
	case events.GraphCompiledEvent:
		return report.StyleStatusOK.Render("compiled in " + e.Duration.String())
	case events.GraphFailedEvent:
		return report.StyleStatusFailed.Render(fmt.Sprintf("failed: %v", e.Err))
	}
	return ""
}

// graphRows is how many status lines fit above the event pane.
func (m Model) graphRows() int {
	if m.watch == "" {
		return max(1, m.height-4)
	}
	return min(len(m.order), max(1, m.height/3))
}

func (m *Model) resizeViewport() {
	// Title, progress, help and the pane border
	h := m.height - m.graphRows() - 5
	m.viewport.Width = max(0, m.width-2)
	m.viewport.Height = max(1, h)
	if m.follow {
		m.viewport.GotoBottom()
	}
}

// Done reports whether the batch finished and the bus was closed.
func (m Model) Done() bool { return m.done }

// View renders the compile view.
func (m Model) View() string {
	if m.quitting {
		return "Stopping...\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var b strings.Builder
	b.WriteString(StyleTitle.Render("npusched"))
	b.WriteString("\n")
	b.WriteString(report.Progress(m.progress, m.width))
	b.WriteString("\n")

	// Most recent graphs last
	rows := m.graphRows()
	start := max(0, len(m.order)-rows)
	for _, name := range m.order[start:] {
		fmt.Fprintf(&b, "%-20s %s\n", name, m.graphs[name].status)
	}

	sections := []string{strings.TrimRight(b.String(), "\n")}
	if m.watch != "" {
		title := StyleTitle.Render("Events of " + m.watch)
		sections = append(sections, title, StyleEventsBorder.Width(max(0, m.width-2)).Render(m.viewport.View()))
	}
	sections = append(sections, HelpView())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
