package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"

	"crewmind/pkg/eventlog"
	"crewmind/pkg/protocol"
)

// dashWindow is how many recent events the dashboard keeps.
const dashWindow = 500

// tickMsg triggers a periodic refresh.
type tickMsg time.Time

// journalMsg carries a fresh read of the journal.
type journalMsg struct {
	events   []protocol.JournalEvent
	meetings []protocol.MeetingRow
	err      error
}

// fsChangeMsg is sent when the journal directory changes.
type fsChangeMsg struct{}

// journalSource is the read side the dashboard needs. *eventlog.Reader
// implements it.
type journalSource interface {
	Events(ctx context.Context, opts eventlog.QueryOpts) ([]protocol.JournalEvent, error)
	Meetings(ctx context.Context, limit int) ([]protocol.MeetingRow, error)
}

// dashModel is the Bubble Tea model for `crewmind dash`.
type dashModel struct {
	src     journalSource
	watcher *fsnotify.Watcher
	theme   Theme
	agent   string // filter; empty shows every agent

	events   []protocol.JournalEvent
	meetings []protocol.MeetingRow
	err      error

	view   viewport.Model
	follow bool // keep the viewport pinned to the newest event
	width  int
	height int
}

func newDashModel(src journalSource, watcher *fsnotify.Watcher, agentFilter string) dashModel {
	return dashModel{
		src:     src,
		watcher: watcher,
		theme:   DefaultTheme(),
		agent:   agentFilter,
		view:    viewport.New(0, 0),
		follow:  true,
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m dashModel) fetchCmd() tea.Cmd {
	src, agentFilter := m.src, m.agent
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		events, err := src.Events(ctx, eventlog.QueryOpts{Agent: agentFilter, Limit: dashWindow})
		if err != nil {
			return journalMsg{err: err}
		}
		meetings, err := src.Meetings(ctx, 5)
		return journalMsg{events: events, meetings: meetings, err: err}
	}
}

// watchCmd waits for the next journal write, debounced.
func watchCmd(w *fsnotify.Watcher) tea.Cmd {
	if w == nil {
		return nil
	}
	return func() tea.Msg {
		const debounce = 100 * time.Millisecond
		var fire <-chan time.Time
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return nil
				}
				fire = time.After(debounce)
			case err, ok := <-w.Errors:
				if !ok {
					return nil
				}
				log.Printf("fsnotify: watcher error: %v", err)
				return nil
			case <-fire:
				return fsChangeMsg{}
			}
		}
	}
}

// Init implements tea.Model.
func (m dashModel) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), tickCmd(), watchCmd(m.watcher))
}

// Update implements tea.Model.
func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		case "G", "end":
			m.follow = true
			m.view.GotoBottom()
			return m, nil
		}
		var cmd tea.Cmd
		m.view, cmd = m.view.Update(msg)
		m.follow = m.view.AtBottom()
		return m, cmd

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.refreshView()
		return m, nil

	case journalMsg:
		m.err = msg.err
		if msg.err == nil {
			m.events, m.meetings = msg.events, msg.meetings
			m.refreshView()
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetchCmd(), tickCmd())

	case fsChangeMsg:
		return m, tea.Batch(m.fetchCmd(), watchCmd(m.watcher))
	}
	return m, nil
}

// refreshView sizes the viewport below the header and reloads its content.
func (m *dashModel) refreshView() {
	if m.height > 0 {
		m.view.Width = m.width
		m.view.Height = max(3, m.height-lipgloss.Height(m.header())-1)
	}
	m.view.SetContent(m.renderEvents())
	if m.follow {
		m.view.GotoBottom()
	}
}

// View implements tea.Model.
func (m dashModel) View() string {
	return m.header() + "\n" + m.view.View() + "\n" + m.footer()
}

func (m dashModel) header() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(m.theme.Primary).Render("crewmind")
	if m.agent != "" {
		title += lipgloss.NewStyle().Foreground(m.theme.Muted).Render(" · " + m.agent)
	}

	counts := map[string]int{}
	for _, e := range m.events {
		counts[e.Type]++
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	var parts []string
	for _, t := range types {
		parts = append(parts, lipgloss.NewStyle().Foreground(m.theme.typeColor(t)).Render(fmt.Sprintf("%s %d", t, counts[t])))
	}

	lines := []string{title, strings.Join(parts, "  ")}
	if len(m.meetings) > 0 {
		last := m.meetings[0]
		lines = append(lines, fmt.Sprintf("last meeting: %s by %s, %s → %s", last.Status, last.Caller, last.Tally, last.Outcome))
	}
	if m.err != nil {
		lines = append(lines, lipgloss.NewStyle().Foreground(m.theme.Error).Render("journal: "+m.err.Error()))
	}
	return strings.Join(lines, "\n")
}

func (m dashModel) footer() string {
	return lipgloss.NewStyle().Foreground(m.theme.Muted).Render("↑/↓ scroll · G follow · r refresh · q quit")
}

func (m dashModel) renderEvents() string {
	if len(m.events) == 0 {
		return lipgloss.NewStyle().Foreground(m.theme.Muted).Render("no events yet")
	}
	var b strings.Builder
	for _, e := range m.events {
		kind := lipgloss.NewStyle().Foreground(m.theme.typeColor(e.Type)).Render(fmt.Sprintf("%-17s", e.Type))
		fmt.Fprintf(&b, "%s %-7s %s %s\n", e.CreatedAt, e.Agent, kind, e.Payload)
	}
	return strings.TrimRight(b.String(), "\n")
}

// watchJournalDir returns a watcher on the journal's directory, or nil when
// watching is unavailable and the dashboard should rely on ticks.
func watchJournalDir(journal string) *fsnotify.Watcher {
	dir := filepath.Dir(journal)
	if _, err := os.Stat(dir); err != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("fsnotify: failed to create watcher: %v (falling back to polling)", err)
		return nil
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		log.Printf("fsnotify: failed to watch %s: %v (falling back to polling)", dir, err)
		return nil
	}
	return w
}
