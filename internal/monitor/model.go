package monitor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"fandomat/internal/status"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// RefreshInterval is how often the snapshot file is re-read.
const RefreshInterval = time.Second

type snapshotMsg struct {
	snap *status.Snapshot
	err  error
}

type clockMsg time.Time

type model struct {
	store  *status.Store
	snap   *status.Snapshot
	err    error
	width  int
	height int
	now    time.Time
}

// Run shows the dashboard on the terminal until Q, Ctrl+C or ctx ends.
func Run(ctx context.Context, store *status.Store) error {
	m := newModel(store)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func newModel(store *status.Store) model {
	return model{store: store, now: time.Now()}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(loadCmd(m.store), clockTickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		s := strings.ToLower(strings.TrimSpace(msg.String()))
		if s == "q" || s == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	case snapshotMsg:
		m.snap = msg.snap
		m.err = msg.err
		return m, nil
	case clockMsg:
		m.now = time.Time(msg)
		return m, tea.Batch(loadCmd(m.store), clockTickCmd())
	default:
		return m, nil
	}
}

func (m model) View() string {
	viewWidth, _ := viewSize(m.width, m.height)

	titleLine := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Render("YAXSHILINK FANDOMAT MONITOR")
	helpLine := lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("Q: quit  |  Ctrl+C: quit")
	header := renderPanel("Dashboard", []string{titleLine, helpLine}, viewWidth, "63", 2)

	if m.snap == nil {
		detail := noStatus
		if m.err != nil {
			detail = m.err.Error()
		}
		statusPanel := renderPanel("System", []string{
			"State: " + renderBadge("ERROR"),
			"Detail: " + elideMiddle(detail, viewWidth-14),
		}, viewWidth, "99", 2)
		layout := strings.Join([]string{header, "", statusPanel}, "\n")
		return lipgloss.NewStyle().Padding(0, 1).Render(layout)
	}

	snap := m.snap
	leftW, rightW := splitWidths(viewWidth)

	sessionLine := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")).Render(sessionText(snap.Session.Active))
	sessionPanel := renderPanel("Session", []string{
		sessionLine,
		"ID: " + elideMiddle(deref(snap.Session.SessionID), leftW-10),
		fmt.Sprintf("Bottles: %d", snap.Session.BottleCounter),
		"Last msg: " + lastMessage(snap),
	}, leftW, "45", 3)

	ws := snap.Websocket
	linkPanel := renderPanel("Connection", []string{
		"WebSocket: " + renderBadge(linkKind(ws.Connected)),
		"URL: " + elideMiddle(orDash(ws.URL), rightW-11),
		"Last event: " + deref(ws.LastEvent),
		"Uptime: " + FormatSeconds(snap.UptimeSeconds),
	}, rightW, "69", 2)

	top := lipgloss.JoinHorizontal(lipgloss.Top, sessionPanel, " ", linkPanel)

	sc, ar := snap.Devices.Scanner, snap.Devices.Arduino
	devicePanel := renderPanel("Devices", []string{
		fmt.Sprintf("Scanner: %s %s @ %d", renderBadge(linkKind(sc.Connected)), orDash(sc.Port), sc.Baud),
		"  Last: " + elideMiddle(deref(sc.LastLine), viewWidth-14),
		fmt.Sprintf("Arduino: %s %s @ %d", renderBadge(linkKind(ar.Connected)), orDash(ar.Port), ar.Baud),
		"  Last: " + elideMiddle(deref(ar.LastLine), viewWidth-14),
	}, viewWidth, "99", 2)

	kind := overallKind(snap, m.now)
	systemPanel := renderPanel("System", []string{
		"State: " + renderBadge(kind),
		fmt.Sprintf("Queues: outbox=%d  arduino_cmds=%d", snap.Queues.OutboxSize, snap.Queues.ArduinoCommandQueue),
		fmt.Sprintf("PID: %d  |  %s/%s  |  Host: %s", snap.Process.PID, snap.OS.System, snap.OS.Arch, orDash(snap.OS.Hostname)),
		"CWD: " + elideMiddle(orDash(snap.Process.CWD), viewWidth-11),
	}, viewWidth, "240", 1)

	layout := strings.Join([]string{header, "", top, "", devicePanel, "", systemPanel}, "\n")
	return lipgloss.NewStyle().Padding(0, 1).Render(layout)
}

func loadCmd(store *status.Store) tea.Cmd {
	return func() tea.Msg {
		snap, err := store.Read()
		if err != nil {
			return snapshotMsg{err: err}
		}
		return snapshotMsg{snap: &snap}
	}
}

func clockTickCmd() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return clockMsg(t)
	})
}

func linkKind(connected bool) string {
	if connected {
		return "OK"
	}
	return "ERROR"
}

// overallKind is OK when every link is up, WARN when some link is down or
// the snapshot is older than a few refreshes, ERROR when nothing is up.
func overallKind(snap *status.Snapshot, now time.Time) string {
	up := 0
	for _, v := range []bool{snap.Websocket.Connected, snap.Devices.Scanner.Connected, snap.Devices.Arduino.Connected} {
		if v {
			up++
		}
	}
	stale := false
	if !now.IsZero() && snap.Time > 0 {
		age := now.Sub(time.Unix(0, int64(snap.Time*float64(time.Second))))
		stale = age > 5*RefreshInterval
	}
	switch {
	case up == 0:
		return "ERROR"
	case up < 3 || stale:
		return "WARN"
	default:
		return "OK"
	}
}

func viewSize(w, h int) (int, int) {
	if w <= 0 {
		w = 100
	}
	if h <= 0 {
		h = 32
	}

	width := w - 4
	if width > 118 {
		width = 118
	}
	if width < 72 {
		width = 72
	}

	height := h - 2
	if height < 20 {
		height = 20
	}
	return width, height
}

func splitWidths(total int) (int, int) {
	left := int(math.Round(float64(total) * 0.5))
	if left < 34 {
		left = 34
	}
	right := total - left - 1
	if right < 34 {
		right = 34
		left = total - right - 1
	}
	return left, right
}

func renderPanel(title string, lines []string, width int, borderColor string, titleColor int) string {
	if width < 24 {
		width = 24
	}
	inner := width - 4

	normalized := make([]string, 0, len(lines)+2)
	for _, line := range lines {
		for _, part := range wrapByWidth(line, inner) {
			normalized = append(normalized, truncateText(part, inner))
		}
	}
	if len(normalized) == 0 {
		normalized = []string{""}
	}

	titleStyled := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(fmt.Sprintf("%d", titleColor))).Render(title)
	content := titleStyled + "\n" + strings.Join(normalized, "\n")

	style := lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(borderColor))
	return style.Render(content)
}

func renderBadge(kind string) string {
	kind = strings.ToUpper(strings.TrimSpace(kind))
	s := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	switch kind {
	case "OK":
		return s.Foreground(lipgloss.Color("46")).Background(lipgloss.Color("22")).Render("OK")
	case "WARN":
		return s.Foreground(lipgloss.Color("228")).Background(lipgloss.Color("94")).Render("WARN")
	default:
		return s.Foreground(lipgloss.Color("231")).Background(lipgloss.Color("160")).Render("DOWN")
	}
}

// wrapByWidth splits on rune count; styled (ANSI) segments are not measured
// specially.
func wrapByWidth(text string, width int) []string {
	if width <= 0 || text == "" {
		return []string{""}
	}
	if lipgloss.Width(text) <= width {
		return []string{text}
	}

	lines := make([]string, 0, 4)
	for _, row := range strings.Split(text, "\n") {
		runes := []rune(row)
		if len(runes) == 0 {
			lines = append(lines, "")
			continue
		}
		for len(runes) > width {
			lines = append(lines, string(runes[:width]))
			runes = runes[width:]
		}
		lines = append(lines, string(runes))
	}
	return lines
}

func truncateText(text string, max int) string {
	if lipgloss.Width(text) <= max {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func elideMiddle(text string, max int) string {
	runes := []rune(strings.TrimSpace(text))
	if max <= 0 {
		return ""
	}
	if len(runes) <= max {
		return string(runes)
	}
	if max <= 5 {
		return truncateText(string(runes), max)
	}
	keep := (max - 3) / 2
	return string(runes[:keep]) + "..." + string(runes[len(runes)-keep:])
}
