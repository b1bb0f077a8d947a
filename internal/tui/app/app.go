// Package app is the root Bubble Tea model of the jobwatch TUI.
package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hello-sally/jobwatch/internal/job"
	"github.com/hello-sally/jobwatch/internal/notify"
	"github.com/hello-sally/jobwatch/internal/poll"
	"github.com/hello-sally/jobwatch/internal/tui/client"
	"github.com/hello-sally/jobwatch/internal/tui/theme"
	"github.com/hello-sally/jobwatch/internal/watch"
)

// maxLog is how many notifications the log keeps.
const maxLog = 10

type rowKey struct {
	report job.ID
	job    notify.Job
}

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	ctx    context.Context
	cancel context.CancelFunc

	keys    KeyMap
	help    help.Model
	spinner spinner.Model
	width   int
	height  int

	watches map[rowKey]watch.Status
	order   []rowKey
	log     []notify.Notification // newest first

	connected bool
	lastErr   string
}

// New creates the root model. ws may be nil in tests.
func New(ws *client.WSClient) Model {
	ctx, cancel := context.WithCancel(context.Background())
	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(theme.StyleSpinner))
	return Model{
		ws:      ws,
		ctx:     ctx,
		cancel:  cancel,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		spinner: sp,
		watches: make(map[rowKey]watch.Status),
	}
}

// Init starts the websocket connection and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.listen(), m.spinner.Tick)
}

func (m Model) listen() tea.Cmd {
	if m.ws == nil {
		return nil
	}
	return m.ws.Listen(m.ctx)
}

func (m Model) read() tea.Cmd {
	if m.ws == nil {
		return nil
	}
	return m.ws.ReadLoop(m.ctx)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.cancel()
			if m.ws != nil {
				m.ws.Close()
			}
			return m, tea.Quit
		case key.Matches(msg, m.keys.Clear):
			m.log = nil
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case client.ConnectedMsg:
		m.connected = true
		m.lastErr = ""
		return m, m.read()

	case client.DisconnectedMsg:
		m.connected = false
		if msg.Err != nil {
			m.lastErr = msg.Err.Error()
		}
		return m, m.listen()

	case client.SnapshotMsg:
		m.watches = make(map[rowKey]watch.Status, len(msg.Watches))
		for _, s := range msg.Watches {
			m.watches[rowKey{s.Report, s.Job}] = s
		}
		m.rebuildOrder()
		return m, m.read()

	case client.WatchStatusMsg:
		m.watches[rowKey{msg.Status.Report, msg.Status.Job}] = msg.Status
		m.rebuildOrder()
		return m, m.read()

	case client.NotificationMsg:
		m.log = append([]notify.Notification{msg.Notification}, m.log...)
		if len(m.log) > maxLog {
			m.log = m.log[:maxLog]
		}
		return m, m.read()

	case client.ErrorMsg:
		m.lastErr = msg.Message
		return m, m.read()
	}
	return m, nil
}

func (m *Model) rebuildOrder() {
	m.order = make([]rowKey, 0, len(m.watches))
	for k := range m.watches {
		m.order = append(m.order, k)
	}
	sort.Slice(m.order, func(i, j int) bool {
		a, b := m.order[i], m.order[j]
		if a.report != b.report {
			return job.LessID(a.report, b.report)
		}
		return a.job > b.job // transcription before analysis
	})
}

func (m Model) View() string {
	sections := []string{
		m.statusBar(),
		m.renderWatches(),
		m.renderLog(),
		m.help.View(m.keys),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) statusBar() string {
	var conn string
	if m.connected {
		conn = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● connected")
	} else {
		conn = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ connecting...")
	}

	var active, degraded int
	for _, s := range m.watches {
		if s.Active {
			active++
		}
		if s.Degraded {
			degraded++
		}
	}
	counts := fmt.Sprintf("%d watches  %d active", len(m.watches), active)
	if degraded > 0 {
		counts += "  " + theme.StyleDegraded.Render(fmt.Sprintf("%d degraded", degraded))
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := conn + sep + counts
	if m.lastErr != "" {
		content += sep + theme.StyleDimmed.Render(m.lastErr)
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(content)
}

func (m Model) renderWatches() string {
	lines := []string{theme.StyleHeader.Render("WATCHES")}
	if len(m.order) == 0 {
		lines = append(lines, theme.StyleDimmed.Render("  no reports followed"))
	}
	for _, k := range m.order {
		lines = append(lines, m.renderRow(m.watches[k]))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderRow(s watch.Status) string {
	glyph := lipgloss.NewStyle().Foreground(theme.StopColor(s.LastStop)).Render(theme.StopGlyph(s.LastStop))
	if s.Active {
		glyph = m.spinner.View()
	}

	name := "#" + s.Report.String()
	if s.Title != "" {
		name += " " + truncate(s.Title, 24)
	}

	parts := []string{
		"  " + glyph,
		fmt.Sprintf("%-30s", name),
		fmt.Sprintf("%-13s", s.Job),
		fmt.Sprintf("%d/%d", s.Attempts, s.MaxAttempts),
	}
	if !s.Active && s.LastStop != poll.StopNone {
		parts = append(parts, theme.StyleDimmed.Render(s.LastStop.String()))
	}
	if s.Degraded {
		parts = append(parts, theme.StyleDegraded.Render("DEGRADED"))
	}
	return strings.Join(parts, " ")
}

func (m Model) renderLog() string {
	lines := []string{theme.StyleHeader.Render("NOTIFICATIONS")}
	if len(m.log) == 0 {
		lines = append(lines, theme.StyleDimmed.Render("  nothing yet"))
	}
	for _, n := range m.log {
		style := lipgloss.NewStyle().Foreground(theme.KindColor(n.Kind))
		lines = append(lines, "  "+style.Render(notify.Text(n)))
	}
	return theme.StyleBorder.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
