package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ocxo/spilink/internal/poller"
	"github.com/ocxo/spilink/internal/protocol"
)

// MaxMonitorLines bounds the message history kept by the monitor.
const MaxMonitorLines = 500

// MessageMsg carries one decoded message into the monitor.
type MessageMsg struct {
	Message *protocol.Message
	At      time.Time
}

// StatsMsg carries poll loop counters into the monitor. Dropped is the
// ChannelSink drop count.
type StatsMsg struct {
	Stats   poller.Stats
	Dropped uint64
}

// DoneMsg reports that the poll loop ended. Err is nil on a clean stop.
type DoneMsg struct {
	Err error
}

type monitorKeyMap struct {
	Clear key.Binding
	Help  key.Binding
	Quit  key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k monitorKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Clear, k.Help, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k monitorKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Clear}, {k.Help, k.Quit}}
}

type monitorLine struct {
	at  time.Time
	msg *protocol.Message
}

// MonitorModel is the live view behind `spilink monitor`: the latest decoded
// messages above a panel of poll loop counters.
type MonitorModel struct {
	Source string

	messages <-chan *protocol.Message
	lines    []monitorLine
	total    uint64
	stats    StatsMsg
	lastAt   time.Time
	err      error
	done     bool
	quitting bool

	width  int
	height int
	now    func() time.Time

	Help help.Model
	Keys monitorKeyMap
}

// NewMonitorModel creates a monitor reading decoded messages from ch, which
// is normally the channel behind a protocol.ChannelSink.
func NewMonitorModel(source string, ch <-chan *protocol.Message) MonitorModel {
	width, height := GetTerminalSize()
	return MonitorModel{
		Source:   source,
		messages: ch,
		width:    width,
		height:   height,
		now:      time.Now,
		Help:     help.New(),
		Keys: monitorKeyMap{
			Clear: key.NewBinding(
				key.WithKeys("c"),
				key.WithHelp("c", "clear"),
			),
			Help: key.NewBinding(
				key.WithKeys("?"),
				key.WithHelp("?", "help"),
			),
			Quit: key.NewBinding(
				key.WithKeys("q", "ctrl+c"),
				key.WithHelp("q", "quit"),
			),
		},
	}
}

// waitForMessage blocks on the channel. A closed channel yields nil, which
// Bubble Tea ignores.
func waitForMessage(ch <-chan *protocol.Message, now func() time.Time) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return MessageMsg{Message: msg, At: now()}
	}
}

// Init implements tea.Model
func (m MonitorModel) Init() tea.Cmd {
	return waitForMessage(m.messages, m.now)
}

// Update implements tea.Model
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = clampWidth(msg.Width)
		m.height = msg.Height
		m.Help.Width = m.width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.Keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.Keys.Clear):
			m.lines = nil
			return m, nil
		case key.Matches(msg, m.Keys.Help):
			m.Help.ShowAll = !m.Help.ShowAll
			return m, nil
		}
		return m, nil

	case MessageMsg:
		m.lines = append(m.lines, monitorLine{at: msg.At, msg: msg.Message})
		if len(m.lines) > MaxMonitorLines {
			m.lines = m.lines[len(m.lines)-MaxMonitorLines:]
		}
		m.total++
		m.lastAt = msg.At
		return m, waitForMessage(m.messages, m.now)

	case StatsMsg:
		m.stats = msg
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, nil
	}

	return m, nil
}

// Quitting reports whether the user asked to leave.
func (m MonitorModel) Quitting() bool {
	return m.quitting
}

// Lines returns the number of messages currently shown.
func (m MonitorModel) Lines() int {
	return len(m.lines)
}

// View implements tea.Model
func (m MonitorModel) View() string {
	if m.quitting {
		return ""
	}

	header := lipgloss.JoinVertical(lipgloss.Left,
		TitleStyle.Render("SPILINK MONITOR"),
		SubtitleStyle.Render(m.Source),
	)
	counters := m.renderCounters()
	status := m.renderStatus()
	helpView := m.Help.View(m.Keys)

	// Whatever height is left goes to the message list
	used := lipgloss.Height(header) + lipgloss.Height(counters) + lipgloss.Height(status) + lipgloss.Height(helpView) + 4
	room := m.height - used
	if room < 3 {
		room = 3
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		RenderHorizontalDivider(m.width, "─"),
		m.renderLines(room),
		RenderHorizontalDivider(m.width, "─"),
		counters,
		status,
		helpView,
	)
}

func (m MonitorModel) renderLines(room int) string {
	if len(m.lines) == 0 {
		return lipgloss.NewStyle().Height(room).Render(FieldKeyStyle.Render("  waiting for messages..."))
	}
	start := max(0, len(m.lines)-room)
	out := make([]string, 0, room)
	for _, l := range m.lines[start:] {
		out = append(out, RenderMessage(l.at, l.msg))
	}
	return lipgloss.NewStyle().Height(room).Render(strings.Join(out, "\n"))
}

func (m MonitorModel) renderCounters() string {
	st := m.stats.Stats
	counter := func(name string, v uint64, warn bool) string {
		val := CounterValueStyle.Render(fmt.Sprint(v))
		if warn && v > 0 {
			val = CounterWarnStyle.Render(fmt.Sprint(v))
		}
		return CounterKeyStyle.Render(name) + val
	}

	left := lipgloss.JoinVertical(lipgloss.Left,
		counter("messages", m.total, false),
		counter("exchanges", st.Exchanges, false),
		counter("bytes sent", st.BytesSent, false),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		counter("resyncs", st.Decoder.Resyncs, true),
		counter("discarded", st.Decoder.DiscardedBytes, true),
		counter("dropped", m.stats.Dropped, true),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, "  ", left, "    ", right)
}

func (m MonitorModel) renderStatus() string {
	switch {
	case m.done && m.err != nil:
		return ErrorMessageStyle.Render("  " + FailureMarker + " poll loop stopped: " + m.err.Error())
	case m.done:
		return FieldKeyStyle.Render("  poll loop stopped")
	case !m.lastAt.IsZero():
		return FieldKeyStyle.Render("  last message " + m.lastAt.Format(TimeLayout))
	default:
		return FieldKeyStyle.Render("  polling")
	}
}
