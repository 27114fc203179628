// Package tui is the terminal host UI for a voice call.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/vango-go/vai-call/pkg/call"
	"github.com/vango-go/vai-call/pkg/call/health"
)

// Controller is the command surface of a session.
type Controller interface {
	Open() error
	ToggleRecording() error
	Close() error
}

// HealthMsg carries the result of the startup probe.
type HealthMsg struct{ Report health.Report }

// ErrorMsg reports a command that could not be delivered.
type ErrorMsg struct{ Err error }

type Model struct {
	ctrl        Controller
	bridge      *Bridge
	checkHealth func() health.Report
	serverURL   string

	status     call.Status
	connection call.ConnectionState
	entries    []call.TranscriptEntry
	health     string
	healthOK   bool
	errMessage string

	width    int
	height   int
	quitting bool
}

// New builds the model. checkHealth may be nil to skip the probe.
func New(ctrl Controller, bridge *Bridge, serverURL string, checkHealth func() health.Report) Model {
	return Model{
		ctrl:        ctrl,
		bridge:      bridge,
		checkHealth: checkHealth,
		serverURL:   serverURL,
		status:      call.StatusReady,
		connection:  call.ConnectionClosed,
		health:      "Checking server...",
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{waitForEvent(m.bridge), openCmd(m.ctrl)}
	if m.checkHealth != nil {
		cmds = append(cmds, healthCmd(m.checkHealth))
	}
	return tea.Batch(cmds...)
}

func openCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		if err := ctrl.Open(); err != nil {
			return ErrorMsg{Err: err}
		}
		return nil
	}
}

func healthCmd(check func() health.Report) tea.Cmd {
	return func() tea.Msg {
		return HealthMsg{Report: check()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case StatusMsg:
		m.status = msg.Status
		return m, waitForEvent(m.bridge)

	case ConnectionMsg:
		m.connection = msg.State
		return m, waitForEvent(m.bridge)

	case EntryMsg:
		m.entries = append(m.entries, msg.Entry)
		return m, waitForEvent(m.bridge)

	case HealthMsg:
		m.health = msg.Report.Summary()
		m.healthOK = msg.Report.Ready()
		return m, nil

	case ErrorMsg:
		m.errMessage = msg.Err.Error()
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		m.quitting = true
		if err := m.ctrl.Close(); err != nil {
			m.errMessage = err.Error()
		}
		m.bridge.Close()
		return m, tea.Quit

	case " ", "r":
		if err := m.ctrl.ToggleRecording(); err != nil {
			m.errMessage = err.Error()
		}
		return m, nil

	case "o":
		m.errMessage = ""
		if err := m.ctrl.Open(); err != nil {
			m.errMessage = err.Error()
		}
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return "Call ended.\n"
	}

	width := m.width
	if width <= 0 {
		width = 80
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, dividerStyle.Render(strings.Repeat("─", width)))
	sections = append(sections, m.renderTranscript(width))
	sections = append(sections, dividerStyle.Render(strings.Repeat("─", width)))
	if m.errMessage != "" {
		sections = append(sections, errorStyle.Render("Error: "+m.errMessage))
	}
	sections = append(sections, m.renderFooter())
	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	return titleStyle.Render("VAI CALL") + dimStyle.Render("  "+m.serverURL)
}

func (m Model) renderStatusBar() string {
	style, ok := statusStyles[string(m.status)]
	if !ok {
		style = dimStyle
	}
	healthText := dimStyle.Render(m.health)
	if m.healthOK {
		healthText = statusStyles["ready"].Render(m.health)
	}
	return fmt.Sprintf("%s  %s  %s",
		style.Render("● "+strings.ToUpper(string(m.status))),
		dimStyle.Render(string(m.connection)),
		healthText,
	)
}

func (m Model) renderTranscript(width int) string {
	var lines []string
	for _, e := range m.entries {
		label, style := speakerLabel(e.Speaker)
		prefix := style.Render(label) + " "
		for i, line := range wrapText(e.Text, width-len(label)-1) {
			if i == 0 {
				lines = append(lines, prefix+line)
				continue
			}
			lines = append(lines, strings.Repeat(" ", len(label)+1)+line)
		}
	}
	if len(lines) == 0 {
		return dimStyle.Render("Press space to talk.")
	}

	visible := m.transcriptHeight()
	if visible > 0 && len(lines) > visible {
		lines = lines[len(lines)-visible:]
	}
	return strings.Join(lines, "\n")
}

// transcriptHeight leaves room for the header, status bar, dividers, error
// line and footer.
func (m Model) transcriptHeight() int {
	if m.height <= 0 {
		return 0
	}
	h := m.height - 6
	if h < 1 {
		h = 1
	}
	return h
}

func (m Model) renderFooter() string {
	action := " Talk"
	if m.status == call.StatusListening {
		action = " Send"
	}
	parts := []string{
		footerKeyStyle.Render("Space") + footerStyle.Render(action),
		footerKeyStyle.Render("o") + footerStyle.Render(" Reconnect"),
		footerKeyStyle.Render("q") + footerStyle.Render(" Hang up"),
	}
	return strings.Join(parts, "  ")
}

func speakerLabel(s call.Speaker) (string, lipgloss.Style) {
	switch s {
	case call.SpeakerUser:
		return "You:", userStyle
	case call.SpeakerAssistant:
		return "Assistant:", assistantStyle
	default:
		return "*", systemStyle
	}
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}
	var lines []string
	var current string
	for _, word := range strings.Fields(text) {
		switch {
		case current == "":
			current = word
		case len(current)+1+len(word) <= width:
			current += " " + word
		default:
			lines = append(lines, current)
			current = word
		}
	}
	if current != "" || len(lines) == 0 {
		lines = append(lines, current)
	}
	return lines
}
