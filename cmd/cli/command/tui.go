package command

// tui.go = terminal chat UI: a login form followed by the chat view.
// A recurring tick polls the client and re-renders the history when it changed.

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"chatrelay/cmd/cli/command/client"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	accentColor  = lipgloss.Color("#10B981")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	historyStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1)

	labelStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	errorStyle  = lipgloss.NewStyle().Foreground(errorColor)
	statusStyle = lipgloss.NewStyle().Foreground(mutedColor).Faint(true)
)

type chatView int

const (
	loginView chatView = iota
	conversationView
)

// pollMsg fires every poll interval
type pollMsg time.Time

// chatUIOptions carries what the chat command resolved from flags and config
type chatUIOptions struct {
	Host         string
	Port         string
	ServerAddr   string
	PollInterval time.Duration
	LoggedIn     bool // skip the login form, the command already logged in
}

// chatModel is the bubbletea model for the chat UI
type chatModel struct {
	ctx    context.Context
	client *client.UDPClient
	opts   chatUIOptions

	view        chatView
	portInput   textinput.Model
	serverInput textinput.Model
	focus       int
	compose     textinput.Model
	viewport    viewport.Model
	transcript  string
	lastErr     string
	ready       bool
	width       int
	height      int
}

func newChatModel(ctx context.Context, c *client.UDPClient, opts chatUIOptions) *chatModel {
	port := textinput.New()
	port.Placeholder = "0 picks a free port"
	port.CharLimit = 5
	port.SetValue(opts.Port)
	port.Focus()

	server := textinput.New()
	server.Placeholder = "127.0.0.1:9000"
	server.SetValue(opts.ServerAddr)

	compose := textinput.New()
	compose.Placeholder = "Type a message and press Enter..."
	compose.CharLimit = 1024

	m := &chatModel{
		ctx:         ctx,
		client:      c,
		opts:        opts,
		view:        loginView,
		portInput:   port,
		serverInput: server,
		compose:     compose,
		viewport:    viewport.New(80, 20),
	}
	if opts.LoggedIn {
		m.enterConversation()
	}
	return m
}

func (m *chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.pollCmd())
}

func (m *chatModel) pollCmd() tea.Cmd {
	return tea.Tick(m.opts.PollInterval, func(t time.Time) tea.Msg {
		return pollMsg(t)
	})
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.view == loginView {
				m.submitLogin()
			} else {
				m.submitMessage()
			}
			return m, nil
		case tea.KeyTab, tea.KeyShiftTab:
			if m.view == loginView {
				m.toggleLoginFocus()
				return m, nil
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

		headerHeight := 3
		footerHeight := 5
		statusHeight := 1
		m.viewport.Width = max(msg.Width-4, 10)
		m.viewport.Height = max(msg.Height-headerHeight-footerHeight-statusHeight-2, 3)
		m.compose.Width = max(msg.Width-8, 10)
		m.viewport.SetContent(m.transcript)

	case pollMsg:
		redraw, keepPolling := m.client.Poll()
		if !keepPolling {
			return m, tea.Quit
		}
		if redraw {
			m.refreshHistory()
		}
		return m, m.pollCmd()
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	if m.view == loginView {
		m.portInput, cmd = m.portInput.Update(msg)
		cmds = append(cmds, cmd)
		m.serverInput, cmd = m.serverInput.Update(msg)
		cmds = append(cmds, cmd)
	} else {
		m.compose, cmd = m.compose.Update(msg)
		cmds = append(cmds, cmd)
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *chatModel) toggleLoginFocus() {
	m.focus = (m.focus + 1) % 2
	if m.focus == 0 {
		m.portInput.Focus()
		m.serverInput.Blur()
	} else {
		m.serverInput.Focus()
		m.portInput.Blur()
	}
}

// submitLogin validates the form and logs the client in
func (m *chatModel) submitLogin() {
	port, err := strconv.Atoi(strings.TrimSpace(m.portInput.Value()))
	if err != nil || port < 0 || port > 65535 {
		m.lastErr = "port must be a number between 0 and 65535"
		return
	}
	server := strings.TrimSpace(m.serverInput.Value())
	if server == "" {
		m.lastErr = "server address is required"
		return
	}

	err = m.client.Login(m.ctx, client.LoginRequest{
		LocalAddr:  net.JoinHostPort(m.opts.Host, strconv.Itoa(port)),
		ServerAddr: server,
	})
	if err != nil && !errors.Is(err, client.ErrAlreadyLoggedIn) {
		m.lastErr = err.Error()
		return
	}
	m.enterConversation()
}

func (m *chatModel) enterConversation() {
	m.view = conversationView
	m.lastErr = ""
	m.portInput.Blur()
	m.serverInput.Blur()
	m.compose.Focus()
}

// submitMessage reads and clears the compose box, then sends its text
func (m *chatModel) submitMessage() {
	text := m.compose.Value()
	m.compose.Reset()
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := m.client.Send(text); err != nil {
		m.lastErr = err.Error()
		return
	}
	m.lastErr = ""
}

func (m *chatModel) refreshHistory() {
	m.transcript = strings.Join(m.client.History(), "\n")
	m.viewport.SetContent(m.transcript)
	m.viewport.GotoBottom()
}

func (m *chatModel) View() string {
	if !m.ready {
		return "\n  Starting chat...\n"
	}
	if m.view == loginView {
		return m.loginViewString()
	}
	return m.conversationViewString()
}

func (m *chatModel) loginViewString() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("UDP Relay Chat - Login"))
	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("Local port"))
	b.WriteString("\n")
	b.WriteString(m.portInput.View())
	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("Relay server"))
	b.WriteString("\n")
	b.WriteString(m.serverInput.View())
	b.WriteString("\n\n")
	if m.lastErr != "" {
		b.WriteString(errorStyle.Render(m.lastErr))
		b.WriteString("\n\n")
	}
	b.WriteString(statusStyle.Render("Tab to switch fields | Enter to log in | Esc to quit"))
	return b.String()
}

func (m *chatModel) conversationViewString() string {
	header := headerStyle.Render("UDP Relay Chat")
	history := historyStyle.Width(max(m.width-2, 10)).Render(m.viewport.View())

	status := "not logged in"
	if info, ok := m.client.Session(); ok {
		status = fmt.Sprintf("%s -> %s | %d messages", info.LocalAddr, info.ServerAddr, len(m.client.History()))
	}
	statusLine := statusStyle.Render(status)
	if m.lastErr != "" {
		statusLine = errorStyle.Render(m.lastErr)
	}

	input := inputStyle.Width(max(m.width-4, 10)).Render(m.compose.View())

	return lipgloss.JoinVertical(lipgloss.Left, header, history, statusLine, input)
}
