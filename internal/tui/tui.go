// Package tui renders the live run dashboard: a spinner, the step progress
// line, and a scrollback of progress events, with a rendered summary when
// the run ends.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"foreman/internal/engine"
)

const maxScrollback = 200

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	stepStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
)

// eventMsg wraps one engine event for the update loop.
type eventMsg engine.Event

// doneMsg signals the event stream closed.
type doneMsg struct{}

// Model is the bubbletea model for one run.
type Model struct {
	objective string
	events    <-chan engine.Event
	stop      func()

	spin     spinner.Model
	view     viewport.Model
	lines    []string
	step     string
	iter     int
	status   string
	finished bool
	width    int
}

// New builds the dashboard model. stop is invoked on ctrl+c/q so the engine
// can wind down before the program exits.
func New(objective string, events <-chan engine.Event, stop func()) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	vp := viewport.New(80, 16)
	return Model{
		objective: objective,
		events:    events,
		stop:      stop,
		spin:      sp,
		view:      vp,
		status:    "starting",
	}
}

// listen waits for the next engine event.
func (m Model) listen() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

// Init starts the spinner and the event listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.listen())
}

// Update handles key presses, spinner ticks, and engine events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.stop != nil {
				m.stop()
			}
			if m.finished {
				return m, tea.Quit
			}
			m.status = "stopping"
			return m, nil
		}
		var cmd tea.Cmd
		m.view, cmd = m.view.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.view.Width = msg.Width
		m.view.Height = msg.Height - 6
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case eventMsg:
		m.apply(engine.Event(msg))
		return m, m.listen()

	case doneMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) apply(ev engine.Event) {
	if ev.Iteration > 0 {
		m.iter = ev.Iteration
	}
	switch ev.Kind {
	case engine.EventStatus:
		m.status = ev.Content
		if ev.Content == string(engine.StatusComplete) ||
			ev.Content == string(engine.StatusError) ||
			ev.Content == string(engine.StatusStopped) {
			m.finished = true
		}
	case engine.EventProgress:
		if ev.Step != "" {
			m.step = ev.Step
		}
		m.push(stepStyle.Render("› ") + ev.Content)
	case engine.EventError:
		m.push(errorStyle.Render("✗ " + ev.Content))
	case engine.EventResponse:
		m.push(dimStyle.Render("  " + ev.Content))
	case engine.EventLog:
		m.push(dimStyle.Render("· " + ev.Content))
	}
	m.view.SetContent(strings.Join(m.lines, "\n"))
	m.view.GotoBottom()
}

func (m *Model) push(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxScrollback {
		m.lines = m.lines[len(m.lines)-maxScrollback:]
	}
}

// View renders the dashboard.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("foreman") + dimStyle.Render("  "+truncate(m.objective, 70)) + "\n")
	if m.finished {
		b.WriteString(statusStyle.Render(fmt.Sprintf("%s after %d iteration(s)", m.status, m.iter)) + "\n")
	} else {
		b.WriteString(fmt.Sprintf("%s %s  iteration %d", m.spin.View(), m.status, m.iter))
		if m.step != "" {
			b.WriteString(dimStyle.Render("  " + truncate(m.step, 60)))
		}
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render(strings.Repeat("─", max(20, m.width))) + "\n")
	b.WriteString(m.view.View())
	b.WriteString("\n" + dimStyle.Render("q to stop · arrows to scroll"))
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// RenderSummary pretty-prints the final result as markdown for the terminal.
func RenderSummary(res engine.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", res.Status)
	fmt.Fprintf(&b, "- **Iterations:** %d\n", res.Iterations)
	if res.ProjectPath != "" {
		fmt.Fprintf(&b, "- **Project:** `%s`\n", res.ProjectPath)
	}
	if res.GitHubURL != "" {
		fmt.Fprintf(&b, "- **Repository:** %s\n", res.GitHubURL)
	}
	if res.DeploymentURL != "" {
		fmt.Fprintf(&b, "- **Deployment:** %s\n", res.DeploymentURL)
	}
	if res.Err != nil {
		fmt.Fprintf(&b, "\n**Error:** %v\n", res.Err)
	}
	if n := len(res.Log); n > 0 {
		b.WriteString("\n## Last events\n\n")
		start := n - 10
		if start < 0 {
			start = 0
		}
		for _, line := range res.Log[start:] {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	out, err := glamour.Render(b.String(), "dark")
	if err != nil {
		return b.String()
	}
	return out
}
