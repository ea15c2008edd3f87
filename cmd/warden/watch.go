package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/muesli/reflow/wordwrap"

	"github.com/wardenhq/warden/internal/events"
)

var (
	watchTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	watchInfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
)

func (c *WatchCmd) Run() error {
	wsURL := strings.Replace(c.Server, "http", "ws", 1) + "/ws/" + c.TaskID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", wsURL, err)
	}
	defer conn.Close()

	prog := tea.NewProgram(
		&watchModel{
			title:  "warden task " + c.TaskID,
			conn:   conn,
			follow: true,
		},
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err = prog.Run()
	return err
}

// eventMsg carries one streamed event into the Bubble Tea loop.
type eventMsg events.Event

// streamClosedMsg is sent when the server ends the stream.
type streamClosedMsg struct{}

// watchModel is the Bubble Tea model for the live event viewer.
type watchModel struct {
	viewport   viewport.Model
	title      string
	conn       *websocket.Conn
	lines      []string
	eventCount int
	ready      bool
	follow     bool
	closed     bool
}

func (m *watchModel) Init() tea.Cmd {
	return m.readEvent()
}

// readEvent returns a command that waits for the next websocket event.
func (m *watchModel) readEvent() tea.Cmd {
	return func() tea.Msg {
		var ev events.Event
		if err := m.conn.ReadJSON(&ev); err != nil {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case eventMsg:
		m.eventCount++
		m.lines = append(m.lines, formatEvent(events.Event(msg), false))
		m.refreshContent()
		if events.Event(msg).Kind == events.KindFinished {
			m.closed = true
		}
		cmds = append(cmds, m.readEvent())

	case streamClosedMsg:
		m.closed = true
		m.refreshContent()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "g":
			m.follow = false
			m.viewport.GotoTop()
		case "G", "f":
			m.follow = true
			m.viewport.GotoBottom()
		case "up", "k", "pgup":
			m.follow = false
		}

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.refreshContent()
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *watchModel) refreshContent() {
	if !m.ready {
		return
	}
	width := m.viewport.Width
	if width <= 0 {
		width = 80
	}
	m.viewport.SetContent(wordwrap.String(strings.Join(m.lines, "\n"), width))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m *watchModel) headerView() string {
	return watchTitleStyle.Render(m.title)
}

func (m *watchModel) footerView() string {
	status := "live"
	if m.closed {
		status = "finished"
	}
	return watchInfoStyle.Render(fmt.Sprintf(
		"%d events | %s | g/G scroll, f follow, q quit  %3.f%%",
		m.eventCount, status, m.viewport.ScrollPercent()*100))
}

func (m *watchModel) View() string {
	if !m.ready {
		return "connecting..."
	}
	return fmt.Sprintf("%s\n%s\n%s", m.headerView(), m.viewport.View(), m.footerView())
}
