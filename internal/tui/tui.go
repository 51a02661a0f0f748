// Package tui renders the live log viewer.
package tui

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/scrapewatch/internal/feed"
	"github.com/ppiankov/scrapewatch/internal/live"
	"github.com/ppiankov/scrapewatch/internal/logtypes"
)

const (
	refreshInterval = 250 * time.Millisecond
	alertInterval   = time.Second
	maxToasts       = 3
)

// Source is the live data the viewer renders. *live.Client satisfies it.
type Source interface {
	Entries() []logtypes.LogEntry
	Version() int
	Capacity() int
	Backend() string
	Stats() live.Snapshot
	Clear()
	Reconnect()
}

type toast struct {
	n     live.Notification
	until time.Time
}

// Model is the bubbletea model for the live log viewer.
type Model struct {
	src     Source
	notes   *live.ChanNotifier
	alerts  *live.AlertEngine
	version string

	curr      live.Snapshot
	lastAlert time.Time
	toasts    []toast

	// log display
	lines       []logtypes.LogEntry
	scrollOff   int
	follow      bool
	ringVersion int

	// search
	searching   bool
	searchInput string
	searchRegex *regexp.Regexp
	searchIdx   int
	matches     []int

	lastGPress time.Time

	width  int
	height int

	quitting bool
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// NewModel creates a viewer over src. notes and alerts may be nil.
func NewModel(src Source, notes *live.ChanNotifier, alerts *live.AlertEngine, version string) Model {
	return Model{
		src:         src,
		notes:       notes,
		alerts:      alerts,
		version:     version,
		follow:      true,
		ringVersion: -1,
		width:       80,
		height:      24,
	}
}

// Init starts the refresh timer.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.scrollOff = clamp(m.scrollOff, 0, m.maxScroll())
		return m, nil

	case tickMsg:
		m.refresh(time.Time(msg))
		return m, tickCmd()

	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateNormal(msg)
	}

	return m, nil
}

func (m *Model) refresh(now time.Time) {
	m.curr = m.src.Stats()

	if m.alerts != nil && now.Sub(m.lastAlert) >= alertInterval {
		m.alerts.Evaluate(m.curr, now)
		m.lastAlert = now
	}

	if m.notes != nil {
		for _, n := range m.notes.Drain() {
			ttl := n.TTL
			if ttl <= 0 {
				ttl = live.RateLimitTTL
			}
			m.toasts = append(m.toasts, toast{n: n, until: now.Add(ttl)})
		}
	}
	kept := m.toasts[:0]
	for _, t := range m.toasts {
		if now.Before(t.until) {
			kept = append(kept, t)
		}
	}
	m.toasts = kept
	if len(m.toasts) > maxToasts {
		m.toasts = m.toasts[len(m.toasts)-maxToasts:]
	}

	if v := m.src.Version(); v != m.ringVersion {
		m.lines = m.src.Entries()
		m.ringVersion = v
		m.updateSearchMatches()
		if m.follow {
			m.scrollToBottom()
		} else {
			m.scrollOff = clamp(m.scrollOff, 0, m.maxScroll())
		}
	}
}

func (m Model) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "j", "down":
		m.follow = false
		m.scrollOff = clamp(m.scrollOff+1, 0, m.maxScroll())

	case "k", "up":
		m.follow = false
		m.scrollOff = clamp(m.scrollOff-1, 0, m.maxScroll())

	case "d", "pgdown":
		m.follow = false
		m.scrollOff = clamp(m.scrollOff+m.logPaneHeight()/2, 0, m.maxScroll())

	case "u", "pgup":
		m.follow = false
		m.scrollOff = clamp(m.scrollOff-m.logPaneHeight()/2, 0, m.maxScroll())

	case "G", "end":
		m.follow = true
		m.scrollToBottom()

	case "g":
		now := time.Now()
		if now.Sub(m.lastGPress) < 500*time.Millisecond {
			m.follow = false
			m.scrollOff = 0
			m.lastGPress = time.Time{}
		} else {
			m.lastGPress = now
		}

	case "f":
		m.follow = !m.follow
		if m.follow {
			m.scrollToBottom()
		}

	case "c":
		m.src.Clear()
		m.lines = nil
		m.matches = nil
		m.scrollOff = 0
		m.ringVersion = m.src.Version()

	case "r":
		m.src.Reconnect()

	case "/":
		m.searching = true
		m.searchInput = ""

	case "n":
		m.nextMatch(1)

	case "N":
		m.nextMatch(-1)
	}

	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searching = false
		re, err := regexp.Compile(m.searchInput)
		if err == nil {
			m.searchRegex = re
			m.updateSearchMatches()
			m.searchIdx = 0
			if len(m.matches) > 0 {
				m.follow = false
				m.scrollOff = clamp(m.matches[0]-m.logPaneHeight()/2, 0, m.maxScroll())
			}
		}

	case "esc":
		m.searching = false
		m.searchInput = ""
		m.searchRegex = nil
		m.matches = nil

	case "backspace":
		if r := []rune(m.searchInput); len(r) > 0 {
			m.searchInput = string(r[:len(r)-1])
		}

	default:
		if msg.Type == tea.KeyRunes {
			m.searchInput += string(msg.Runes)
		}
	}

	return m, nil
}

func (m *Model) updateSearchMatches() {
	m.matches = nil
	if m.searchRegex == nil {
		return
	}
	for i, entry := range m.lines {
		if m.searchRegex.MatchString(entry.Message) || m.searchRegex.MatchString(entry.Level) {
			m.matches = append(m.matches, i)
		}
	}
	if m.searchIdx >= len(m.matches) {
		m.searchIdx = 0
	}
}

func (m *Model) nextMatch(dir int) {
	if len(m.matches) == 0 {
		return
	}
	m.searchIdx = (m.searchIdx + dir + len(m.matches)) % len(m.matches)
	target := m.matches[m.searchIdx]
	m.follow = false
	m.scrollOff = clamp(target-m.logPaneHeight()/2, 0, m.maxScroll())
}

func (m *Model) scrollToBottom() {
	m.scrollOff = m.maxScroll()
}

func (m Model) logPaneHeight() int {
	// header(1) + stats(1) + separator(1) + toasts + status(1)
	h := m.height - 4 - len(m.toasts)
	if h < 1 {
		h = 1
	}
	return h
}

func (m Model) maxScroll() int {
	max := len(m.lines) - m.logPaneHeight()
	if max < 0 {
		return 0
	}
	return max
}

// View renders the viewer.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderStats())
	b.WriteString("\n")
	b.WriteString(sepStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")

	paneH := m.logPaneHeight()
	start := clamp(m.scrollOff, 0, len(m.lines))
	end := start + paneH
	if end > len(m.lines) {
		end = len(m.lines)
	}

	matchSet := make(map[int]bool, len(m.matches))
	for _, idx := range m.matches {
		matchSet[idx] = true
	}

	if len(m.lines) == 0 {
		b.WriteString(emptyStyle.Render(" Waiting for logs..."))
		b.WriteString("\n")
		end = start + 1
	}
	for i := start; i < end && i < len(m.lines); i++ {
		b.WriteString(m.renderLine(m.lines[i], matchSet[i]))
		b.WriteString("\n")
	}
	for i := end - start; i < paneH; i++ {
		b.WriteString("\n")
	}

	for _, t := range m.toasts {
		b.WriteString(renderToast(t.n, m.width))
		b.WriteString("\n")
	}

	var status strings.Builder
	if m.searching {
		status.WriteString(searchBadge.Render(fmt.Sprintf("/%s", m.searchInput)))
	} else if m.searchRegex != nil {
		cur := 0
		if len(m.matches) > 0 {
			cur = m.searchIdx + 1
		}
		status.WriteString(searchBadge.Render(fmt.Sprintf("[%d/%d] /%s", cur, len(m.matches), m.searchRegex.String())))
	}
	if m.follow {
		if status.Len() > 0 {
			status.WriteString(" ")
		}
		status.WriteString(followBadge.Render("FOLLOW"))
	}
	if status.Len() > 0 {
		b.WriteString(padLeft(status.String(), m.width))
	}

	return b.String()
}

func (m Model) renderHeader() string {
	title := headerStyle.Render("scrapewatch " + m.version)
	badge := stateBadge(m.curr.State)
	count := fmt.Sprintf("%d/%d entries", len(m.lines), m.src.Capacity())
	return fmt.Sprintf("%s | %s | %s | %s", title, m.src.Backend(), badge, count)
}

func (m Model) renderStats() string {
	var b strings.Builder
	b.WriteString(labelStyle.Render(" received "))
	b.WriteString(fmt.Sprintf("%d", m.curr.Received))
	b.WriteString(labelStyle.Render("  suppressed "))
	b.WriteString(fmt.Sprintf("%d", m.curr.Suppressed))
	b.WriteString(labelStyle.Render("  malformed "))
	if m.curr.Malformed > 0 {
		b.WriteString(errorStyle.Render(fmt.Sprintf("%d", m.curr.Malformed)))
	} else {
		b.WriteString("0")
	}
	b.WriteString(labelStyle.Render("  errors "))
	b.WriteString(fmt.Sprintf("%d", m.curr.Errors))
	b.WriteString(labelStyle.Render("  reconnects "))
	b.WriteString(fmt.Sprintf("%d", m.curr.Reconnects))
	return b.String()
}

func (m Model) renderLine(e logtypes.LogEntry, match bool) string {
	prefix := fmt.Sprintf("[%s] %-7s ", e.Time, e.Level)
	room := m.width - lipgloss.Width(prefix)
	msg := truncate(e.Message, room)

	if match {
		return matchStyle.Render(truncate(prefix+msg, m.width))
	}
	return timeStyle.Render(fmt.Sprintf("[%s] ", e.Time)) +
		levelStyle(e.Level).Render(fmt.Sprintf("%-7s", e.Level)) + " " +
		highlightMarks(msg)
}

// highlightMarks styles every 『…』 segment of msg.
func highlightMarks(msg string) string {
	var b strings.Builder
	rest := msg
	for {
		open := strings.Index(rest, "『")
		if open < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])
		rest = rest[open:]
		end := strings.Index(rest, "』")
		if end < 0 {
			b.WriteString(markStyle.Render(rest))
			break
		}
		end += len("』")
		b.WriteString(markStyle.Render(rest[:end]))
		rest = rest[end:]
	}
	return b.String()
}

func renderToast(n live.Notification, width int) string {
	text := n.Title
	if n.Detail != "" {
		text += ": " + n.Detail
	}
	style := toastWarnStyle
	if n.Kind == live.KindAlert {
		style = toastAlertStyle
	}
	return style.Render(truncate(" "+text+" ", width))
}

func stateBadge(s feed.State) string {
	switch s {
	case feed.Connected:
		return connectedBadge.Render("● connected")
	case feed.Connecting:
		return connectingBadge.Render("◌ connecting")
	case feed.Stopped:
		return stoppedBadge.Render("■ stopped")
	default:
		return disconnectedBadge.Render("○ disconnected")
	}
}

func levelStyle(level string) lipgloss.Style {
	switch strings.ToUpper(level) {
	case logtypes.LevelError, logtypes.LevelCritical:
		return errorStyle
	case logtypes.LevelWarning:
		return warnStyle
	default:
		return infoStyle
	}
}

// styles
var (
	headerStyle       = lipgloss.NewStyle().Bold(true)
	labelStyle        = lipgloss.NewStyle().Faint(true)
	sepStyle          = lipgloss.NewStyle().Faint(true)
	timeStyle         = lipgloss.NewStyle().Faint(true)
	emptyStyle        = lipgloss.NewStyle().Faint(true).Italic(true)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	infoStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	markStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	matchStyle        = lipgloss.NewStyle().Background(lipgloss.Color("226")).Foreground(lipgloss.Color("0"))
	searchBadge       = lipgloss.NewStyle().Background(lipgloss.Color("226")).Foreground(lipgloss.Color("0")).Padding(0, 1)
	followBadge       = lipgloss.NewStyle().Background(lipgloss.Color("34")).Foreground(lipgloss.Color("15")).Padding(0, 1)
	connectedBadge    = lipgloss.NewStyle().Foreground(lipgloss.Color("34")).Bold(true)
	connectingBadge   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	disconnectedBadge = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	stoppedBadge      = lipgloss.NewStyle().Faint(true)
	toastWarnStyle    = lipgloss.NewStyle().Background(lipgloss.Color("214")).Foreground(lipgloss.Color("0"))
	toastAlertStyle   = lipgloss.NewStyle().Background(lipgloss.Color("196")).Foreground(lipgloss.Color("15"))
)

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func padLeft(s string, w int) string {
	n := lipgloss.Width(s)
	if n >= w {
		return s
	}
	return strings.Repeat(" ", w-n) + s
}

func truncate(s string, w int) string {
	if w <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= w {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && lipgloss.Width(string(r)) > w {
		r = r[:len(r)-1]
	}
	return string(r)
}
