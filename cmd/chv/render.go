package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/element-hq/chaosview/internal/protocol"
	"github.com/element-hq/chaosview/internal/snapshot"
	"github.com/element-hq/chaosview/internal/state"
)

// --- Styles ---

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Background(lipgloss.Color("#1E1E2E")).
			Padding(0, 1)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#CDD6F4")).
			Background(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#6C7086")).
				Background(lipgloss.Color("#313244")).
				Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#89B4FA"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#A6E3A1"))

	badStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F38BA8")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAB387"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086"))

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#89B4FA")).
			Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CDD6F4")).
			Background(lipgloss.Color("#1E1E2E"))

	statusErrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F38BA8")).
			Background(lipgloss.Color("#1E1E2E"))
)

// --- View rendering ---

func (m uiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(m.renderTitleBar())
	b.WriteRune('\n')
	b.WriteString(m.renderTabBar())
	b.WriteRune('\n')
	b.WriteRune('\n')

	contentHeight := m.height - 5 // title + tabs + status + padding
	if m.showHelp {
		contentHeight -= 3
	}
	if m.editing {
		contentHeight -= 2
	}

	var content string
	if m.activeView == viewDashboard && m.width >= 120 {
		leftWidth := m.width/2 - 1
		rightWidth := m.width - leftWidth - 3 // 3 for separator
		content = renderSplitPane(m.renderDashboard(), m.renderTopology(), leftWidth, rightWidth, contentHeight)
	} else {
		switch m.activeView {
		case viewDashboard:
			content = m.renderDashboard()
		case viewFederation:
			content = m.renderFederation()
		case viewWorkers:
			content = m.renderWorkers()
		case viewEvents:
			content = m.renderEvents()
		case viewTopology:
			content = m.renderTopology()
		}

		// View() has a value receiver; clamp a local copy of the scroll.
		lines := strings.Split(content, "\n")
		scrollPos := m.scrollPos
		if scrollPos >= len(lines) {
			scrollPos = max(0, len(lines)-1)
		}
		if scrollPos > 0 {
			lines = lines[scrollPos:]
		}
		if contentHeight > 0 && len(lines) > contentHeight {
			lines = lines[:contentHeight]
		}
		content = strings.Join(lines, "\n")
	}

	b.WriteString(truncateLines(content, m.width))

	// Pad to fill screen.
	reserved := 2
	if m.editing {
		reserved += 2
	}
	rendered := strings.Count(b.String(), "\n")
	for rendered < m.height-reserved {
		b.WriteRune('\n')
		rendered++
	}

	if m.editing {
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
	}
	if m.showHelp {
		b.WriteString(m.help.View(keys))
	} else {
		b.WriteString(m.renderStatusBar())
	}
	return b.String()
}

func (m uiModel) renderTitleBar() string {
	title := titleStyle.Render("chaosview")
	var conn string
	switch {
	case m.connecting:
		conn = m.spinner.View() + " connecting " + m.addr
	case m.snap.Connected:
		conn = okStyle.Render("connected") + dimStyle.Render(" "+m.addr)
	default:
		conn = badStyle.Render("not connected")
	}
	stats := dimStyle.Render(fmt.Sprintf(" | tick %d | %d in flight | %d workers",
		m.snap.Tick.Number, m.snap.InFlightCount, len(m.snap.Workers)))
	right := conn + stats
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(title)-lipgloss.Width(right)-2))
	return ansi.Truncate(title+gap+right, m.width, "")
}

func (m uiModel) renderTabBar() string {
	var tabs []string
	for i := viewID(0); i < viewCount; i++ {
		if i == m.activeView {
			tabs = append(tabs, tabActiveStyle.Render(i.String()))
		} else {
			tabs = append(tabs, tabInactiveStyle.Render(i.String()))
		}
	}
	return strings.Join(tabs, " ")
}

func (m uiModel) renderStatusBar() string {
	left := fmt.Sprintf(" %s", contextHelp(m.activeView))
	right := fmt.Sprintf("updated %s ago ", shortDuration(m.now().Sub(m.lastUpdate)))
	style := statusBarStyle
	if m.status != "" {
		right = m.status + " | " + right
		if m.statusErr {
			style = statusErrStyle
		}
	}
	// The status and update age win over key hints on narrow terminals.
	right = ansi.Truncate(right, m.width, "…")
	left = ansi.Truncate(left, max(0, m.width-lipgloss.Width(right)), "…")
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)))
	return style.Render(left + gap + right)
}

// --- Dashboard view ---

func (m uiModel) renderDashboard() string {
	var b strings.Builder
	s := m.snap

	b.WriteString(headerStyle.Render("Session"))
	b.WriteRune('\n')
	if !s.Configured {
		b.WriteString(dimStyle.Render("  (waiting for harness config)"))
		b.WriteRune('\n')
	}
	b.WriteString(fmt.Sprintf("  %-14s %s\n", "Latency", s.Latency))
	b.WriteString(fmt.Sprintf("  %-14s %s\n", "Homeservers", m.renderHomeservers()))
	if m.sessionID != "" {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %-14s %s", "Session", m.sessionID)))
		b.WriteRune('\n')
	}
	b.WriteRune('\n')

	b.WriteString(headerStyle.Render("Test"))
	b.WriteRune('\n')
	b.WriteString(fmt.Sprintf("  %-14s %d (joins=%d sends=%d leaves=%d)\n", "Tick",
		s.Tick.Number, s.Tick.Joins, s.Tick.Sends, s.Tick.Leaves))
	conv := okStyle.Render(s.Convergence)
	if s.ConvergenceFailed {
		conv = badStyle.Render(s.Convergence)
	} else if s.Convergence == state.NoConvergence {
		conv = dimStyle.Render(s.Convergence)
	}
	b.WriteString(fmt.Sprintf("  %-14s %s\n", "Convergence", conv))
	split := okStyle.Render("healed")
	if s.Netsplit {
		split = badStyle.Render("NETSPLIT")
	}
	b.WriteString(fmt.Sprintf("  %-14s %s\n", "Network", split))
	b.WriteString(fmt.Sprintf("  %-14s %d (%d blocked)\n", "In flight", s.InFlightCount, s.BlockedCount))
	b.WriteRune('\n')

	b.WriteString(headerStyle.Render("Recent events"))
	b.WriteRune('\n')
	if len(m.events) == 0 {
		b.WriteString(dimStyle.Render("  (no events yet)"))
		b.WriteRune('\n')
	}
	for i := len(m.events) - 1; i >= 0 && i >= len(m.events)-8; i-- {
		b.WriteString("  ")
		b.WriteString(eventStyle(m.events[i].kind, m.events[i].text))
		b.WriteRune('\n')
	}
	return b.String()
}

func (m uiModel) renderHomeservers() string {
	if len(m.snap.Homeservers) == 0 {
		return dimStyle.Render("-")
	}
	parts := make([]string, len(m.snap.Homeservers))
	for i, d := range m.snap.Homeservers {
		label := fmt.Sprintf("[%d] %s", i+1, d)
		if m.snap.IsRestarting(d) {
			parts[i] = warnStyle.Render(label + " (restarting)")
		} else {
			parts[i] = okStyle.Render(label)
		}
	}
	return strings.Join(parts, "  ")
}

// --- Federation view ---

func (m uiModel) renderFederation() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("In-flight federation requests"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  latency %s", m.snap.Latency)))
	b.WriteRune('\n')

	if len(m.snap.Requests) == 0 {
		b.WriteString(dimStyle.Render("  (nothing in flight)"))
		b.WriteRune('\n')
		return b.String()
	}

	b.WriteString(dimStyle.Render(fmt.Sprintf("  %-12s %-7s %-16s %-10s %s",
		"ID", "Method", "Route", "Remaining", "URL")))
	b.WriteRune('\n')
	for _, r := range m.snap.Requests {
		route := routeLabel(r)
		line := fmt.Sprintf("  %-12s %-7s %-16s %s %-5s %s",
			truncate(r.ID, 12), r.Method, route, progressBar(r.Progress, 10), shortDuration(r.Remaining), r.URL)
		if r.Blocked {
			b.WriteString(badStyle.Render(line + "  BLOCKED"))
		} else {
			b.WriteString(line)
		}
		b.WriteRune('\n')
	}
	return b.String()
}

func routeLabel(r snapshot.Request) string {
	src, dst := r.Source, r.Target
	if src == "" {
		src = "?"
	}
	if dst == "" {
		dst = "?"
	}
	return src + " -> " + dst
}

// progressBar renders p in [0,1] as a bar of width cells.
func progressBar(p float64, width int) string {
	filled := int(p * float64(width))
	filled = min(width, max(0, filled))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// --- Workers view ---

func (m uiModel) renderWorkers() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Workers"))
	b.WriteRune('\n')
	if len(m.snap.Workers) == 0 {
		b.WriteString(dimStyle.Render("  (no workers configured)"))
		b.WriteRune('\n')
		return b.String()
	}

	b.WriteString(dimStyle.Render(fmt.Sprintf("  %-24s %-14s %-24s %s", "User", "Node", "Room", "Last action")))
	b.WriteRune('\n')
	for _, w := range m.snap.Workers {
		action := w.Action
		if action == state.NoAction {
			action = dimStyle.Render(action)
		}
		room := w.RoomID
		if room == "" {
			room = "-"
		}
		b.WriteString(fmt.Sprintf("  %s %-14s %-24s %s\n",
			userStyle.Render(fmt.Sprintf("%-24s", truncate(w.UserID, 24))),
			clientNode(w), truncate(room, 24), action))
	}
	return b.String()
}

func clientNode(w snapshot.Worker) string {
	return state.ClientNodeID(w.Domain, w.Ordinal)
}

// --- Events view ---

func (m uiModel) renderEvents() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Event log"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %d lines", len(m.events))))
	b.WriteRune('\n')
	if len(m.events) == 0 {
		b.WriteString(dimStyle.Render("  (no events yet)"))
		b.WriteRune('\n')
		return b.String()
	}
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		b.WriteString(dimStyle.Render(e.at.Format("15:04:05.000")))
		b.WriteString("  ")
		b.WriteString(eventStyle(e.kind, e.text))
		b.WriteRune('\n')
	}
	return b.String()
}

func eventStyle(k protocol.Kind, text string) string {
	switch k {
	case protocol.KindNetsplit:
		return badStyle.Render(text)
	case protocol.KindRestart:
		return warnStyle.Render(text)
	case protocol.KindConvergence:
		if strings.Contains(text, "err=") && !strings.HasSuffix(text, "err=") {
			return badStyle.Render(text)
		}
		return okStyle.Render(text)
	case protocol.KindFederationRequest:
		if strings.HasPrefix(text, "BLOCKED") {
			return badStyle.Render(text)
		}
		return dimStyle.Render(text)
	case protocol.KindWorkerAction:
		return userStyle.Render(text)
	}
	return text
}

// --- Topology view ---
//
// One block per homeserver with its client nodes, followed by the
// federation edges with their live traffic. A netsplit cuts every edge.

func (m uiModel) renderTopology() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Topology"))
	b.WriteRune('\n')

	topo := m.st.Topology
	if len(topo.Nodes) == 0 {
		b.WriteString(dimStyle.Render("  (waiting for harness config)"))
		b.WriteRune('\n')
		return b.String()
	}

	clients := map[string][]state.Node{}
	var servers []state.Node
	for _, n := range topo.Nodes {
		if n.Kind == state.NodeHomeserver {
			servers = append(servers, n)
		} else {
			clients[n.Domain] = append(clients[n.Domain], n)
		}
	}

	for _, hs := range servers {
		label := "[" + hs.ID + "]"
		if m.snap.IsRestarting(hs.ID) {
			b.WriteString(warnStyle.Render(label + " restarting"))
		} else {
			b.WriteString(okStyle.Render(label))
		}
		b.WriteRune('\n')
		for i, c := range clients[hs.ID] {
			branch := "├─"
			if i == len(clients[hs.ID])-1 {
				branch = "└─"
			}
			action := state.NoAction
			if w, ok := m.snap.Worker(c.UserID); ok {
				action = w.Action
			}
			b.WriteString(fmt.Sprintf("  %s %s %s %s\n", dimStyle.Render(branch), c.ID,
				userStyle.Render(c.UserID), dimStyle.Render(truncate(action, 30))))
		}
	}
	b.WriteRune('\n')

	links := map[string]snapshot.Link{}
	for _, l := range m.snap.Links {
		links[state.FederationEdgeID(l.Source, l.Target)] = l
	}
	for _, e := range topo.Edges {
		if e.Kind != state.EdgeFederation {
			continue
		}
		l := links[e.ID]
		wire := "───────▶"
		style := dimStyle
		switch {
		case m.snap.Netsplit:
			wire = "───╳───▶"
			style = badStyle
		case l.InFlight > 0:
			style = okStyle
		}
		traffic := fmt.Sprintf("%d in flight", l.InFlight)
		if l.Blocked > 0 {
			traffic += fmt.Sprintf(", %d blocked", l.Blocked)
		}
		b.WriteString(fmt.Sprintf("  %-8s %s %-8s %s\n", e.Source, style.Render(wire), e.Target, dimStyle.Render(traffic)))
	}
	return b.String()
}

// --- Split-pane rendering ---

// renderSplitPane renders two content panes side by side with a vertical separator.
func renderSplitPane(left, right string, leftWidth, rightWidth, maxHeight int) string {
	leftLines := strings.Split(left, "\n")
	rightLines := strings.Split(right, "\n")

	maxLines := max(len(leftLines), len(rightLines))
	if maxHeight > 0 && maxLines > maxHeight {
		maxLines = maxHeight
	}
	for len(leftLines) < maxLines {
		leftLines = append(leftLines, "")
	}
	for len(rightLines) < maxLines {
		rightLines = append(rightLines, "")
	}

	sep := dimStyle.Render("│")
	var b strings.Builder
	for i := 0; i < maxLines; i++ {
		b.WriteString(fitWidth(leftLines[i], leftWidth))
		b.WriteString(" ")
		b.WriteString(sep)
		b.WriteString(" ")
		b.WriteString(ansi.Truncate(rightLines[i], rightWidth, ""))
		b.WriteRune('\n')
	}
	return b.String()
}

// fitWidth pads or truncates a styled line to the target visible width.
func fitWidth(line string, width int) string {
	w := lipgloss.Width(line)
	if w > width {
		return ansi.Truncate(line, width, "")
	}
	return line + strings.Repeat(" ", width-w)
}

// --- Helpers ---

// truncateLines truncates each line in content to at most width visible
// characters, preserving ANSI escape codes.
func truncateLines(content string, width int) string {
	if width <= 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if lipgloss.Width(line) > width {
			lines[i] = ansi.Truncate(line, width, "")
		}
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func shortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < 10*time.Second {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
