// Package tui renders a live session as three panels: the file tree, the
// open file, and the generation status log.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fruitsalade/projectsync/pkg/models"
	"github.com/fruitsalade/projectsync/pkg/session"
	"github.com/fruitsalade/projectsync/pkg/status"
	"github.com/fruitsalade/projectsync/pkg/stream"
)

const terminalLines = 200

// Source is the read and request surface of a session the UI observes.
type Source interface {
	Subscribe() <-chan session.Event
	Tree() []*models.FileNode
	TreeCached() bool
	IsExpanded(path string) bool
	File() stream.OpenFile
	Buffer(path string) (stream.Buffer, bool)
	StatusEntries() []status.Entry
	JobActive() bool
	JobFailed() bool
	Status() session.Status

	OpenFile(ctx context.Context, path string) error
	CloseFile(ctx context.Context) error
	RefreshTree(ctx context.Context) error
	ToggleFolder(ctx context.Context, path string) (bool, error)
	Reconnect(ctx context.Context) error
	DismissError(ctx context.Context) error
	DismissStream(ctx context.Context, path string) error
}

type eventMsg session.Event
type closedMsg struct{}
type errMsg struct{ err error }

// Model is the bubbletea model for `watch`.
type Model struct {
	ctx    context.Context
	src    Source
	events <-chan session.Event
	theme  theme

	width  int
	height int

	rows     []row
	cached   bool
	cursor   int
	status   session.Status
	file     stream.OpenFile
	entries  []status.Entry
	active   bool
	failed   bool
	terminal []string
	err      error
	quitting bool
}

// New creates a model observing src.
func New(ctx context.Context, src Source) Model {
	m := Model{
		ctx:    ctx,
		src:    src,
		events: src.Subscribe(),
		theme:  newTheme(),
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return m.waitEvent()
}

func (m Model) waitEvent() tea.Cmd {
	ch := m.events
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *Model) refresh() {
	m.rows = visibleRows(m.src.Tree(), m.src.IsExpanded)
	m.cached = m.src.TreeCached()
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	m.status = m.src.Status()
	m.file = m.src.File()
	m.entries = m.src.StatusEntries()
	m.active = m.src.JobActive()
	m.failed = m.src.JobFailed()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case eventMsg:
		ev := session.Event(msg)
		switch ev.Kind {
		case session.EventTerminal:
			for _, line := range strings.Split(strings.TrimRight(ev.Text, "\n"), "\n") {
				if ev.IsError {
					line = "! " + line
				}
				m.terminal = append(m.terminal, line)
			}
			m.terminal = tail(m.terminal, terminalLines)
		case session.EventError, session.EventAuthFailed:
			m.err = ev.Err
		}
		m.refresh()
		return m, m.waitEvent()

	case closedMsg:
		return m, tea.Quit

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
	case "enter", " ":
		if m.cursor < len(m.rows) {
			r := m.rows[m.cursor]
			if r.IsDir {
				return m, m.do(func(ctx context.Context) error {
					_, err := m.src.ToggleFolder(ctx, r.Path)
					return err
				})
			}
			return m, m.do(func(ctx context.Context) error { return m.src.OpenFile(ctx, r.Path) })
		}
	case "esc":
		return m, m.do(m.src.CloseFile)
	case "R":
		return m, m.do(m.src.RefreshTree)
	case "r":
		return m, m.do(m.src.Reconnect)
	case "x":
		m.err = nil
		return m, m.do(m.src.DismissError)
	case "d":
		if path := m.file.Path; path != "" {
			return m, m.do(func(ctx context.Context) error { return m.src.DismissStream(ctx, path) })
		}
	}
	return m, nil
}

// do runs a session request off the UI goroutine.
func (m Model) do(fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		if err := fn(ctx); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Connecting..."
	}

	header := m.renderHeader()
	footer := m.theme.help.Render("↑/↓ move · enter open/toggle · esc close · R refresh · r reconnect · x dismiss error · d dismiss stream · q quit")

	bodyHeight := m.height - 4
	termHeight := 0
	if len(m.terminal) > 0 {
		termHeight = min(8, bodyHeight/3)
		bodyHeight -= termHeight + 2
	}
	if bodyHeight < 3 {
		bodyHeight = 3
	}

	treeW := m.width / 4
	statusW := m.width / 4
	contentW := m.width - treeW - statusW - 6
	if contentW < 10 {
		contentW = 10
	}

	panels := lipgloss.JoinHorizontal(lipgloss.Top,
		m.theme.panel.Width(treeW).Height(bodyHeight).Render(m.renderTree(treeW, bodyHeight)),
		m.theme.panel.Width(contentW).Height(bodyHeight).Render(m.renderContent(contentW, bodyHeight)),
		m.theme.panel.Width(statusW).Height(bodyHeight).Render(m.renderStatus(statusW, bodyHeight)),
	)

	parts := []string{header, panels}
	if termHeight > 0 {
		lines := tail(m.terminal, termHeight)
		parts = append(parts, m.theme.panel.Width(m.width-2).Render(strings.Join(lines, "\n")))
	}
	parts = append(parts, footer)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderHeader() string {
	st := m.status
	var state string
	switch {
	case st.AuthFailed:
		state = m.theme.danger.Render("authentication failed")
	case st.Supervisor == session.SupervisorFailed:
		state = m.theme.danger.Render("disconnected (press r to retry)")
	case st.Supervisor == session.SupervisorReconnecting:
		state = m.theme.warn.Render(fmt.Sprintf("reconnecting (attempt %d)", st.Attempt))
	case st.State == session.StateReady:
		state = m.theme.ok.Render("ready")
	default:
		state = m.theme.warn.Render(st.State.String())
	}

	line := m.theme.title.Render("projectsync") + "  " + state
	switch {
	case m.active:
		line += "  " + m.theme.info.Render("generating…")
	case m.failed:
		line += "  " + m.theme.danger.Render("generation failed")
	case len(m.entries) > 0:
		line += "  " + m.theme.ok.Render("generation complete")
	}
	if m.err != nil {
		line += "  " + m.theme.danger.Render(clip(m.err.Error(), m.width/2))
	}
	return line
}

func (m Model) renderTree(width, height int) string {
	if len(m.rows) == 0 {
		return m.theme.muted.Render("no files yet")
	}
	var b strings.Builder
	if m.cached {
		// Shown until the first live snapshot replaces the stored tree.
		b.WriteString(m.theme.muted.Render("(cached)"))
		b.WriteByte('\n')
		height--
	}
	start := 0
	if m.cursor >= height {
		start = m.cursor - height + 1
	}
	for i := start; i < len(m.rows) && i < start+height; i++ {
		r := m.rows[i]
		label := clip(r.label(), width)
		switch {
		case i == m.cursor:
			label = m.theme.highlight.Render(label)
		case r.Path == m.file.Path:
			label = m.theme.info.Render(label)
		case r.IsDir:
			label = m.theme.text.Render(label)
		default:
			label = m.theme.muted.Render(label)
		}
		b.WriteString(label)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderContent(width, height int) string {
	f := m.file
	if f.Path == "" {
		return m.theme.muted.Render("select a file")
	}

	title := m.theme.title.Render(clip(f.Path, width))
	var flags []string
	if buf, ok := m.src.Buffer(f.Path); ok && buf.Status == stream.StatusStreaming {
		if buf.ExpectedLines > 0 {
			flags = append(flags, fmt.Sprintf("streaming %d/%d", len(buf.Lines), buf.ExpectedLines))
		} else {
			flags = append(flags, fmt.Sprintf("streaming %d", len(buf.Lines)))
		}
	}
	if f.Loading {
		flags = append(flags, "loading")
	}
	if f.Saving {
		flags = append(flags, "saving")
	}
	if f.Dirty() {
		flags = append(flags, "modified")
	}
	if len(flags) > 0 {
		title += " " + m.theme.warn.Render("["+strings.Join(flags, ", ")+"]")
	}

	lines := []string{title}
	if f.Err != "" {
		lines = append(lines, m.theme.danger.Render(clip(f.Err, width)))
	}
	body := strings.Split(f.LocalContent, "\n")
	// Follow the end of a file while it streams in.
	if len(flags) > 0 && strings.HasPrefix(flags[0], "streaming") {
		body = tail(body, height-len(lines))
	}
	for _, l := range body {
		if len(lines) >= height {
			break
		}
		lines = append(lines, m.theme.text.Render(clip(l, width)))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderStatus(width, height int) string {
	lines := []string{m.theme.title.Render("Status")}
	entries := tail(entryLines(m.entries), height-1)
	for _, e := range entries {
		lines = append(lines, clip(e, width))
	}
	if len(m.entries) == 0 {
		lines = append(lines, m.theme.muted.Render("idle"))
	}
	return strings.Join(lines, "\n")
}

func entryLines(entries []status.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		var icon string
		switch {
		case e.Status == "failed":
			icon = "✗"
		case e.Phase == status.PhaseCompleted:
			icon = "✓"
		case e.Phase == status.PhasePending:
			icon = "○"
		default:
			icon = "◐"
		}
		out = append(out, icon+" "+e.Message)
	}
	return out
}
