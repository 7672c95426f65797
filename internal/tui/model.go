// Package tui is a terminal watcher for gateway events.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/obsgate/backend/internal/client"
	"github.com/obsgate/backend/internal/event"
)

const maxEntries = 200

type Subscriber interface {
	Subscribe(eventType string, params map[string]any, data any, h client.Handler) (int, error)
}

type TypeLister interface {
	EventTypes(ctx context.Context) ([]event.TypeInfo, error)
}

// StateMsg carries a connection change into the program.
type StateMsg client.State

// EventMsg carries one received event into the program.
type EventMsg client.Event

type typesMsg struct {
	types []event.TypeInfo
	err   error
}

type subscribedMsg struct {
	eventType string
	id        int
	err       error
}

type entry struct {
	at        time.Time
	eventType string
	text      string
	isErr     bool
}

// Model is the root Bubble Tea model.
type Model struct {
	subs   Subscriber
	api    TypeLister
	notify func(tea.Msg)

	keys   KeyMap
	width  int
	height int

	types      []event.TypeInfo
	selected   int
	subscribed map[string]int

	entries   []entry
	connected bool
	status    string
}

// New creates the model. notify must hand messages to the running program;
// it is called from the client's read goroutine.
func New(subs Subscriber, api TypeLister, notify func(tea.Msg)) Model {
	return Model{
		subs:       subs,
		api:        api,
		notify:     notify,
		keys:       DefaultKeyMap(),
		subscribed: make(map[string]int),
		status:     "connecting",
	}
}

// Handler returns a client handler feeding events into the program.
func (m Model) Handler() client.Handler {
	notify := m.notify
	return func(e client.Event) { notify(EventMsg(e)) }
}

func (m Model) Init() tea.Cmd {
	return m.loadTypes()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StateMsg:
		m.connected = msg.Connected
		switch {
		case msg.Connected:
			m.status = "connected"
		case msg.Retry > 0:
			m.status = fmt.Sprintf("reconnecting in %s", msg.Retry.Round(time.Second))
		default:
			m.status = "disconnected"
		}
		if msg.Err != nil {
			m.add(entry{at: time.Now(), text: msg.Err.Error(), isErr: true})
		}
		return m, nil

	case EventMsg:
		m.add(entry{at: msg.ReceivedAt, eventType: msg.EventType, text: describe(client.Event(msg))})
		return m, nil

	case typesMsg:
		if msg.err != nil {
			m.add(entry{at: time.Now(), text: "load types: " + msg.err.Error(), isErr: true})
			return m, nil
		}
		m.types = msg.types
		if m.selected >= len(m.types) {
			m.selected = 0
		}
		return m, nil

	case subscribedMsg:
		if msg.err != nil {
			m.add(entry{at: time.Now(), text: msg.err.Error(), isErr: true})
			return m, nil
		}
		m.subscribed[msg.eventType] = msg.id
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Down):
		if len(m.types) > 0 {
			m.selected = (m.selected + 1) % len(m.types)
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if len(m.types) > 0 {
			m.selected = (m.selected - 1 + len(m.types)) % len(m.types)
		}
		return m, nil

	case key.Matches(msg, m.keys.Subscribe):
		if len(m.types) == 0 {
			return m, nil
		}
		return m, m.subscribe(m.types[m.selected])

	case key.Matches(msg, m.keys.Clear):
		m.entries = nil
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m, m.loadTypes()
	}
	return m, nil
}

func (m Model) loadTypes() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		types, err := api.EventTypes(ctx)
		return typesMsg{types: types, err: err}
	}
}

// subscribe only works for types that can be built without parameters;
// parameterised subscriptions come from the command line.
func (m Model) subscribe(t event.TypeInfo) tea.Cmd {
	if _, ok := m.subscribed[t.ID]; ok {
		return nil
	}
	if !acceptsNoParams(t) {
		id := t.ID
		return func() tea.Msg {
			return subscribedMsg{eventType: id, err: fmt.Errorf("%s needs parameters, pass -subscribe", id)}
		}
	}
	subs, h, id := m.subs, m.Handler(), t.ID
	return func() tea.Msg {
		n, err := subs.Subscribe(id, nil, nil, h)
		return subscribedMsg{eventType: id, id: n, err: err}
	}
}

func (m *Model) add(e entry) {
	m.entries = append(m.entries, e)
	if len(m.entries) > maxEntries {
		m.entries = m.entries[len(m.entries)-maxEntries:]
	}
}

func acceptsNoParams(t event.TypeInfo) bool {
	for _, sig := range t.Signatures {
		if len(sig) == 0 {
			return true
		}
	}
	return false
}

func describe(e client.Event) string {
	var b strings.Builder
	b.Write(e.Event)
	if len(e.Source) > 0 {
		b.WriteString(" source=")
		b.Write(e.Source)
	}
	if len(e.Data) > 0 {
		b.WriteString(" data=")
		b.Write(e.Data)
	}
	return b.String()
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	status := styleError.Render("● " + m.status)
	if m.connected {
		status = lipgloss.NewStyle().Foreground(colorHealthy).Render("● " + m.status)
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		styleHeader.Render(" OBSWATCH "), " ", status,
		styleDimmed.Render(fmt.Sprintf("  %d subscriptions", len(m.subscribed))))

	typesW := 32
	if m.width < 80 {
		typesW = m.width / 3
	}
	logW := m.width - typesW - 4
	bodyH := m.height - 4
	if bodyH < 3 {
		bodyH = 3
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle(typesW).Height(bodyH).Render(m.renderTypes()),
		panelStyle(logW).Height(bodyH).Render(m.renderLog(logW-2, bodyH)),
	)
	help := styleDimmed.Render("  j/k:select  enter:subscribe  c:clear  r:reload  q:quit")
	return lipgloss.JoinVertical(lipgloss.Left, header, body, help)
}

func (m Model) renderTypes() string {
	if len(m.types) == 0 {
		return styleDimmed.Render("No event types.")
	}
	lines := make([]string, 0, len(m.types))
	for i, t := range m.types {
		mark := "  "
		if _, ok := m.subscribed[t.ID]; ok {
			mark = "✓ "
		}
		line := mark + t.ID
		if i == m.selected {
			line = styleSelected.Render("> " + t.ID)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderLog(width, height int) string {
	if len(m.entries) == 0 {
		return styleDimmed.Render("No events received yet.")
	}
	start := len(m.entries) - height
	if start < 0 {
		start = 0
	}
	lines := make([]string, 0, height)
	for _, e := range m.entries[start:] {
		ts := styleDimmed.Render(e.at.Format("15:04:05.000"))
		text := e.text
		if width > 40 && len(text) > width-30 {
			text = text[:width-33] + "..."
		}
		if e.isErr {
			lines = append(lines, fmt.Sprintf("%s %s", ts, styleError.Render(text)))
			continue
		}
		kind := lipgloss.NewStyle().Foreground(typeColor(e.eventType)).Render(e.eventType)
		lines = append(lines, fmt.Sprintf("%s %s %s", ts, kind, text))
	}
	return strings.Join(lines, "\n")
}
