package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/parley/internal/conversation"
)

// TUI forwards turn progress into a running program.
type TUI struct {
	program *tea.Program
}

func NewTUI(p *tea.Program) *TUI {
	return &TUI{program: p}
}

func (t *TUI) UpdateStatus(status string) {
	t.program.Send(StatusMsg(status))
}

func (t *TUI) ToolCall(name string) {
	t.program.Send(ToolMsg(name))
}

func (t *TUI) Log(msg string) {
	t.program.Send(LogMsg(msg))
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000"))

	userStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	botStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#767676"))
)

// TurnFunc runs one chat turn and returns the assistant reply.
type TurnFunc func(ctx context.Context, text string) (string, error)

type keyMap struct {
	Send key.Binding
	Quit key.Binding
}

var keys = keyMap{
	Send: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
	Quit: key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("esc", "quit")),
}

type entry struct {
	kind string // user, assistant, tool, info, error
	text string
}

type (
	LogMsg    string
	StatusMsg string
	ToolMsg   string
	// ReplyMsg carries the result of a turn.
	ReplyMsg struct {
		Content string
		Err     error
	}
)

type Model struct {
	Title     string
	ThreadID  string
	Status    string
	WebSearch bool
	Quitting  bool
	Busy      bool

	entries   []entry
	input     textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	ready     bool
	width     int
	turn      TurnFunc
	toggleWeb func() bool
}

// NewModel builds a chat model showing history for threadID.
func NewModel(title, threadID string, history []conversation.Message, turn TurnFunc) Model {
	ti := textinput.New()
	ti.Placeholder = "Say something (/web toggles web search, /quit exits)"
	ti.Focus()
	ti.CharLimit = 4000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		Title:    title,
		ThreadID: threadID,
		Status:   "ready",
		input:    ti,
		spinner:  sp,
		turn:     turn,
	}
	for _, msg := range history {
		switch msg.Role {
		case conversation.RoleUser:
			m.entries = append(m.entries, entry{kind: "user", text: msg.Content})
		case conversation.RoleAssistant:
			m.entries = append(m.entries, entry{kind: "assistant", text: msg.Content})
		}
	}
	return m
}

// SetWebToggle installs the /web handler; fn returns the new setting.
func (m *Model) SetWebToggle(enabled bool, fn func() bool) {
	m.WebSearch = enabled
	m.toggleWeb = fn
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.Quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Send):
			return m.submit()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		height := msg.Height - 5
		if height < 1 {
			height = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.input.Width = msg.Width - 4
		m.refresh()

	case ReplyMsg:
		m.Busy = false
		m.Status = "ready"
		if msg.Err != nil {
			m.entries = append(m.entries, entry{kind: "error", text: msg.Err.Error()})
		} else {
			m.entries = append(m.entries, entry{kind: "assistant", text: msg.Content})
		}
		m.refresh()

	case StatusMsg:
		m.Status = string(msg)

	case ToolMsg:
		m.entries = append(m.entries, entry{kind: "tool", text: string(msg)})
		m.refresh()

	case LogMsg:
		m.entries = append(m.entries, entry{kind: "info", text: string(msg)})
		m.refresh()

	case spinner.TickMsg:
		if m.Busy {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if m.Busy || text == "" {
		return m, nil
	}
	m.input.Reset()

	switch text {
	case "/quit":
		m.Quitting = true
		return m, tea.Quit
	case "/web":
		if m.toggleWeb != nil {
			m.WebSearch = m.toggleWeb()
			m.entries = append(m.entries, entry{kind: "info", text: "web search " + onOff(m.WebSearch)})
			m.refresh()
		}
		return m, nil
	}

	m.entries = append(m.entries, entry{kind: "user", text: text})
	m.Busy = true
	m.Status = "thinking"
	m.refresh()

	turn := m.turn
	return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
		reply, err := turn(context.Background(), text)
		return ReplyMsg{Content: reply, Err: err}
	})
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.render())
	m.viewport.GotoBottom()
}

func (m Model) render() string {
	wrap := lipgloss.NewStyle().Width(max(m.width-2, 20))
	var b strings.Builder
	for _, e := range m.entries {
		switch e.kind {
		case "user":
			b.WriteString(userStyle.Render("You") + "\n" + wrap.Render(e.text) + "\n\n")
		case "assistant":
			b.WriteString(botStyle.Render("Assistant") + "\n" + wrap.Render(e.text) + "\n\n")
		case "tool":
			b.WriteString(dimStyle.Render("  ↳ "+e.text) + "\n")
		case "error":
			b.WriteString(errorStyle.Render("error: "+e.text) + "\n\n")
		default:
			b.WriteString(dimStyle.Render("  "+e.text) + "\n")
		}
	}
	return b.String()
}

func (m Model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	header := titleStyle.Render(" "+m.Title+" ") + dimStyle.Render(" "+m.ThreadID)
	status := m.Status
	if m.Busy {
		status = m.spinner.View() + " " + status
	}
	info := infoStyle.Render(fmt.Sprintf(" %s ", status)) + dimStyle.Render(" web search: "+onOff(m.WebSearch))

	view := fmt.Sprintf("%s%s\n%s\n%s\n%s",
		header, info,
		m.viewport.View(),
		m.input.View(),
		dimStyle.Render(keys.Send.Help().Key+" "+keys.Send.Help().Desc+" • "+keys.Quit.Help().Key+" "+keys.Quit.Help().Desc))

	if m.Quitting {
		return view + "\n  Quitting...\n"
	}
	return view
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
