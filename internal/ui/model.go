// ABOUTME: Bubbletea model for the daemon status view
// ABOUTME: Shows music state, layer counts, pool stats and recent engine events
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/stagesound/pkg/stage"
)

const maxEvents = 8

// Controls lets the view act on the engine
type Controls interface {
	SetMusicVolume(v float64)
	StopAll()
}

// StatusMsg is a periodic snapshot of the daemon
type StatusMsg struct {
	Name    string
	Addr    string
	Clients int
	Stats   stage.Stats
}

// EventMsg carries one engine event
type EventMsg stage.Event

type tickMsg time.Time

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	eventStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle   = lipgloss.NewStyle().Faint(true)
)

// Model represents the TUI state
type Model struct {
	status    StatusMsg
	events    []stage.Event
	startTime time.Time
	now       time.Time

	controls Controls
	volume   float64
	showLog  bool
	quitting bool
	quitChan chan struct{}
}

// NewModel creates a model; controls may be nil
func NewModel(controls Controls, quitChan chan struct{}) Model {
	now := time.Now()
	return Model{
		startTime: now,
		now:       now,
		controls:  controls,
		volume:    1,
		showLog:   true,
		quitChan:  quitChan,
	}
}

// Init starts the clock
func (m Model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tickMsg:
		m.now = time.Time(msg)
		return m, tickEvery()
	case StatusMsg:
		m.status = msg
		if msg.Stats.Bgm.Status != stage.BgmIdle {
			m.volume = msg.Stats.Bgm.Target
		}
	case EventMsg:
		m.events = append(m.events, stage.Event(msg))
		if len(m.events) > maxEvents {
			m.events = m.events[len(m.events)-maxEvents:]
		}
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		select {
		case m.quitChan <- struct{}{}:
		default:
		}
		return m, tea.Quit
	case "up":
		m.setVolume(m.volume + 0.05)
	case "down":
		m.setVolume(m.volume - 0.05)
	case "s":
		if m.controls != nil {
			m.controls.StopAll()
		}
	case "l":
		m.showLog = !m.showLog
	}
	return m, nil
}

func (m *Model) setVolume(v float64) {
	m.volume = min(max(v, 0), 1)
	if m.controls != nil {
		m.controls.SetMusicVolume(m.volume)
	}
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("stagesound " + m.status.Name))
	b.WriteString("\n")

	field(&b, "Listening", m.status.Addr)
	field(&b, "Clients", fmt.Sprintf("%d", m.status.Clients))
	field(&b, "Uptime", m.now.Sub(m.startTime).Round(time.Second).String())
	b.WriteString("\n")

	bgm := m.status.Stats.Bgm
	music := string(bgm.Status)
	if bgm.Src != "" {
		music = fmt.Sprintf("%s (%s)", bgm.Src, bgm.Status)
	}
	field(&b, "Music", music)
	field(&b, "Volume", fmt.Sprintf("[%s] %d%%", renderBar(m.volume, 10), int(m.volume*100+0.5)))
	if bgm.Duration > 0 {
		field(&b, "Position", fmt.Sprintf("%s / %s", bgm.Position.Round(time.Second), bgm.Duration.Round(time.Second)))
	}
	field(&b, "Sfx", fmt.Sprintf("%d active", m.status.Stats.Sfx))
	field(&b, "Voice", fmt.Sprintf("%d active", m.status.Stats.Voice))
	b.WriteString("\n")

	p := m.status.Stats.Pool
	field(&b, "Pool", fmt.Sprintf("%d loaded, %d idle, %d instances", p.Resources, p.Idle, p.Instances))
	field(&b, "Cache", fmt.Sprintf("%d hits, %d misses, %d evictions, %d failed", p.Hits, p.Misses, p.Evictions, p.LoadFailures))

	if m.showLog {
		b.WriteString("\n")
		b.WriteString(headerStyle.Render("Recent events"))
		b.WriteString("\n")
		if len(m.events) == 0 {
			b.WriteString(eventStyle.Render("  none"))
			b.WriteString("\n")
		}
		for _, ev := range m.events {
			b.WriteString(renderEvent(ev))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓:Music volume  s:Stop all  l:Events  q:Quit"))
	return b.String()
}

func field(b *strings.Builder, name, value string) {
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-10s", name+":")))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

func renderEvent(ev stage.Event) string {
	line := fmt.Sprintf("  %s %-6s %-12s %s", ev.Time.Format("15:04:05"), ev.Layer, ev.Kind, truncate(ev.Src, 40))
	if ev.Err != nil {
		return errorStyle.Render(line + " " + ev.Err.Error())
	}
	return eventStyle.Render(line)
}

func renderBar(value float64, width int) string {
	filled := int(value*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
