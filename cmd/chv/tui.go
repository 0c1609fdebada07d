package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/element-hq/chaosview/internal/config"
	"github.com/element-hq/chaosview/internal/protocol"
	"github.com/element-hq/chaosview/internal/session"
	"github.com/element-hq/chaosview/internal/snapshot"
	"github.com/element-hq/chaosview/internal/state"
)

// maxEventLines bounds the event log kept by the UI.
const maxEventLines = 500

// parseViewFlag maps a --view flag string to a viewID.
func parseViewFlag(s string) (viewID, error) {
	switch strings.ToLower(s) {
	case "dashboard", "d":
		return viewDashboard, nil
	case "federation", "f":
		return viewFederation, nil
	case "workers", "w":
		return viewWorkers, nil
	case "events", "e":
		return viewEvents, nil
	case "topology", "t":
		return viewTopology, nil
	default:
		return 0, fmt.Errorf("unknown view %q (valid: dashboard, federation, workers, events, topology)", s)
	}
}

// controller is the part of the Session Controller the UI drives.
type controller interface {
	State() state.State
	Connect(ctx context.Context, addr string) error
	Begin(ctx context.Context) error
	CheckConvergence(ctx context.Context) error
	ToggleNetsplit(ctx context.Context) error
	Restart(ctx context.Context, domain string) error
}

// --- Messages ---

type updateMsg session.Update

type refreshMsg struct{}

type configChangedMsg struct{}

type connectDoneMsg struct {
	addr string
	err  error
}

type commandDoneMsg struct {
	name string
	err  error
}

// --- Key bindings ---

type keyMap struct {
	Quit        key.Binding
	Tab         key.Binding
	Up          key.Binding
	Down        key.Binding
	Help        key.Binding
	Connect     key.Binding
	Begin       key.Binding
	Convergence key.Binding
	Netsplit    key.Binding
	Restart     key.Binding
	Enter       key.Binding
	Esc         key.Binding
}

var keys = keyMap{
	Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Tab:         key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next view")),
	Up:          key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("k/up", "up")),
	Down:        key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("j/down", "down")),
	Help:        key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Connect:     key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "connect")),
	Begin:       key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "begin")),
	Convergence: key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "check convergence")),
	Netsplit:    key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "toggle netsplit")),
	Restart:     key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"), key.WithHelp("1-9", "restart server")),
	Enter:       key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "connect")),
	Esc:         key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
}

// viewKeys maps single keys to views for fast navigation.
var viewKeys = map[string]viewID{
	"d": viewDashboard,
	"f": viewFederation,
	"w": viewWorkers,
	"e": viewEvents,
	"t": viewTopology,
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Connect, k.Begin, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.Up, k.Down, k.Connect},
		{k.Begin, k.Convergence, k.Netsplit, k.Restart},
		{k.Help, k.Quit},
	}
}

// contextHelp returns help text appropriate for the current view.
func contextHelp(v viewID) string {
	switch v {
	case viewDashboard, viewTopology:
		return "b: begin | v: convergence | n: netsplit | 1-9: restart | c: connect | ?: help | q: quit"
	default:
		return "j/k: scroll | d/f/w/e/t: views | tab: next | c: connect | ?: help | q: quit"
	}
}

// --- Views ---

type viewID int

const (
	viewDashboard viewID = iota
	viewFederation
	viewWorkers
	viewEvents
	viewTopology
	viewCount
)

func (v viewID) String() string {
	switch v {
	case viewDashboard:
		return "Dashboard"
	case viewFederation:
		return "Federation"
	case viewWorkers:
		return "Workers"
	case viewEvents:
		return "Events"
	case viewTopology:
		return "Topology"
	}
	return "?"
}

// eventLine is one entry of the event log.
type eventLine struct {
	at   time.Time
	kind protocol.Kind
	text string
}

// --- Model ---

type uiModel struct {
	ctrl   controller
	cfg    config.Config
	reload func() (config.Config, error)
	now    func() time.Time

	st        state.State
	snap      *snapshot.DataSnapshot
	addr      string
	sessionID string
	events    []eventLine

	activeView viewID
	width      int
	height     int
	scrollPos  int

	help     help.Model
	showHelp bool

	input      textinput.Model
	editing    bool
	spinner    spinner.Model
	connecting bool
	status     string
	statusErr  bool

	lastUpdate time.Time
}

func newModel(ctrl controller, cfg config.Config, now func() time.Time) uiModel {
	in := textinput.New()
	in.Placeholder = "ws://localhost:7405"
	in.Prompt = "harness> "
	in.CharLimit = 256
	in.SetValue(cfg.Server.URL)

	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	st := ctrl.State()
	return uiModel{
		ctrl:       ctrl,
		cfg:        cfg,
		now:        now,
		st:         st,
		snap:       snapshot.Build(st, now()),
		addr:       cfg.Server.URL,
		help:       help.New(),
		input:      in,
		spinner:    sp,
		connecting: true,
		status:     "connecting to " + cfg.Server.URL,
		lastUpdate: now(),
	}
}

func (m uiModel) Init() tea.Cmd {
	return tea.Batch(
		m.refreshEvery(),
		m.spinner.Tick,
		connectCmd(m.ctrl, m.addr, m.cfg.Server.DialTimeout),
	)
}

func (m uiModel) refreshEvery() tea.Cmd {
	every := m.cfg.UI.Refresh
	if every <= 0 {
		every = 250 * time.Millisecond
	}
	return tea.Tick(every, func(time.Time) tea.Msg {
		return refreshMsg{}
	})
}

func (m *uiModel) connect(addr string) tea.Cmd {
	normalized, err := config.NormalizeURL(addr)
	if err != nil {
		m.setStatus(err.Error(), true)
		return nil
	}
	m.connecting = true
	m.addr = normalized
	m.setStatus("connecting to "+normalized, false)
	return connectCmd(m.ctrl, normalized, m.cfg.Server.DialTimeout)
}

func connectCmd(ctrl controller, addr string, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return connectDoneMsg{addr: addr, err: ctrl.Connect(ctx, addr)}
	}
}

func (m uiModel) command(name string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return commandDoneMsg{name: name, err: fn(context.Background())}
	}
}

func (m *uiModel) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.editing {
			return m.updateInput(msg)
		}

		// Check single-key view shortcuts first (always available).
		if v, ok := viewKeys[msg.String()]; ok {
			m.activeView = v
			m.scrollPos = 0
			return m, nil
		}

		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, keys.Tab):
			m.activeView = (m.activeView + 1) % viewCount
			m.scrollPos = 0

		case key.Matches(msg, keys.Up):
			if m.scrollPos > 0 {
				m.scrollPos--
			}

		case key.Matches(msg, keys.Down):
			// View() clamps if we overshoot.
			maxScroll := len(m.events) + len(m.snap.Requests) + len(m.snap.Workers) + 20
			if m.scrollPos < maxScroll {
				m.scrollPos++
			}

		case key.Matches(msg, keys.Connect):
			m.editing = true
			m.input.SetValue(m.addr)
			m.input.CursorEnd()
			cmd := m.input.Focus()
			return m, cmd

		case key.Matches(msg, keys.Begin):
			return m, m.command("begin", m.ctrl.Begin)

		case key.Matches(msg, keys.Convergence):
			return m, m.command("check convergence", m.ctrl.CheckConvergence)

		case key.Matches(msg, keys.Netsplit):
			return m, m.command("netsplit", m.ctrl.ToggleNetsplit)

		case key.Matches(msg, keys.Restart):
			idx := int(msg.String()[0] - '1')
			if idx >= len(m.snap.Homeservers) {
				m.setStatus(fmt.Sprintf("no homeserver #%d", idx+1), true)
				return m, nil
			}
			domain := m.snap.Homeservers[idx]
			return m, m.command("restart "+domain, func(ctx context.Context) error {
				return m.ctrl.Restart(ctx, domain)
			})

		case key.Matches(msg, keys.Help):
			m.showHelp = !m.showHelp
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.input.Width = max(10, msg.Width-len(m.input.Prompt)-2)

	case updateMsg:
		m.st = msg.State
		if msg.SessionID != "" && msg.SessionID != m.sessionID {
			// A new connection starts a new log. The reader can publish
			// before Connect returns, so this cannot wait for connectDoneMsg.
			m.events = nil
		}
		m.sessionID = msg.SessionID
		if msg.Addr != "" {
			m.addr = msg.Addr
		}
		m.lastUpdate = m.now()
		if msg.Event != nil {
			m.events = append(m.events, eventLine{at: m.lastUpdate, kind: msg.Event.Kind(), text: protocol.Describe(msg.Event)})
			if len(m.events) > maxEventLines {
				m.events = m.events[len(m.events)-maxEventLines:]
			}
		}
		m.snap = snapshot.Build(m.st, m.now())

	case refreshMsg:
		// Remaining times move even without new events.
		m.snap = snapshot.Build(m.st, m.now())
		return m, m.refreshEvery()

	case connectDoneMsg:
		m.connecting = false
		if msg.err != nil {
			m.setStatus(msg.err.Error(), true)
		} else {
			m.setStatus("connected to "+msg.addr, false)
		}

	case commandDoneMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("%s: %v", msg.name, msg.err), true)
		} else {
			m.setStatus("sent "+msg.name, false)
		}

	case configChangedMsg:
		cmd := m.reloadConfig()
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m uiModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Esc):
		m.editing = false
		m.input.Blur()
		return m, nil
	case key.Matches(msg, keys.Enter):
		m.editing = false
		m.input.Blur()
		cmd := m.connect(m.input.Value())
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// reloadConfig applies a changed config file. A new server address while
// connected reconnects, which resets the session.
func (m *uiModel) reloadConfig() tea.Cmd {
	if m.reload == nil {
		return nil
	}
	cfg, err := m.reload()
	if err != nil {
		m.setStatus("config reload: "+err.Error(), true)
		return nil
	}
	prev := m.cfg
	m.cfg = cfg
	if cfg.Server.URL != prev.Server.URL && (m.st.Connected || m.connecting) {
		return m.connect(cfg.Server.URL)
	}
	m.setStatus("config reloaded", false)
	return nil
}
