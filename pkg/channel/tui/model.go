package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"jepcobird/pkg/bus"
	"jepcobird/pkg/channel"
	"jepcobird/pkg/trigger"
)

const wheelStep = 3

type role int

const (
	roleUser role = iota
	roleBot
	roleError
)

type chatMessage struct {
	role        role
	content     string
	reaction    string
	attachments []bus.Attachment
}

// replyMsg carries a bot reply into the program.
type replyMsg struct {
	out bus.OutboundMessage
}

// handledMsg reports the outcome of handing one line to the bot.
type handledMsg struct {
	err error
}

type model struct {
	ctx     context.Context
	handler channel.Handler
	user    string
	botName string

	theme     theme
	input     textinput.Model
	viewport  viewport.Model
	messages  []chatMessage
	seq       int
	width     int
	height    int
	isReady   bool
	lastErr   string
	followLog bool
	quit      bool
}

func newModel(ctx context.Context, handler channel.Handler, user, botName string) *model {
	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "寿司, 東京の天気は？, call me ..."
	in.Focus()
	in.CharLimit = 0

	vp := viewport.New(80, 12)

	return &model{
		ctx:       ctx,
		handler:   handler,
		user:      user,
		botName:   botName,
		theme:     defaultTheme(),
		input:     in,
		viewport:  vp,
		width:     100,
		height:    28,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case replyMsg:
		m.messages = append(m.messages, chatMessage{
			role:        roleBot,
			content:     strings.TrimSpace(typed.out.Content),
			reaction:    typed.out.Reaction,
			attachments: typed.out.Attachments,
		})
		m.refreshViewport(false)
		return m, nil
	case handledMsg:
		if typed.err != nil {
			m.lastErr = typed.err.Error()
			m.messages = append(m.messages, chatMessage{role: roleError, content: typed.err.Error()})
			m.refreshViewport(false)
		}
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			m.quit = true
			return m, tea.Quit
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.String() == "enter" {
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			if isExitCommand(text) {
				m.quit = true
				return m, tea.Quit
			}

			m.lastErr = ""
			m.messages = append(m.messages, chatMessage{role: roleUser, content: text})
			m.input.SetValue("")
			m.followLog = true
			m.refreshViewport(true)
			return m, m.deliver(text)
		}
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// deliver hands text to the bot off the UI goroutine.
func (m *model) deliver(text string) tea.Cmd {
	m.seq++
	msg := bus.InboundMessage{
		Channel:   channelName,
		SenderID:  m.user,
		ChatID:    chatID,
		MessageID: fmt.Sprint(m.seq),
		Content:   text,
		Timestamp: time.Now().UTC(),
		Scope:     trigger.DirectMessage,
		RequestID: uuid.NewString(),
		Metadata:  map[string]string{"name": m.user},
	}

	ctx, handler := m.ctx, m.handler
	return func() tea.Msg {
		if handler == nil {
			return handledMsg{}
		}
		return handledMsg{err: handler(ctx, msg)}
	}
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	header := m.theme.header.Width(m.width - 2).Render("📟 " + m.botName)
	meta := m.theme.headerMeta.Render(fmt.Sprintf("you:%s · turns:%d", m.user, conversationTurns(m.messages)))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("💡 Enter send  ·  PgUp/PgDn scroll  ·  End jump latest  ·  🛑 Ctrl+C/Esc quit")
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("🚨 last message was not delivered - try again")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("👤 "+m.user)+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := max(m.width-6, 50)
	h := max(m.height-10, 8)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	sections := make([]string, 0, len(m.messages))
	for _, item := range m.messages {
		switch item.role {
		case roleUser:
			sections = append(sections, m.renderCard(
				m.theme.userTitle.Render("▛▚ [ "+m.user+" ] ▞▜"),
				m.theme.userBox.Width(m.viewport.Width).Render(item.content),
			))
		case roleBot:
			sections = append(sections, m.renderReply(item))
		case roleError:
			sections = append(sections, m.theme.statusErr.Render("▛▚ [ERROR] ▞▜ "+item.content))
		}
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(m.viewport.TotalLineCount()-m.viewport.Height, 0)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderReply(item chatMessage) string {
	if item.content == "" && len(item.attachments) == 0 {
		return m.theme.reaction.Render(fmt.Sprintf("%s reacted %s", m.botName, item.reaction))
	}

	body := []string{}
	if item.reaction != "" {
		body = append(body, m.theme.reaction.Render(item.reaction))
	}
	if item.content != "" {
		body = append(body, item.content)
	}
	for _, att := range item.attachments {
		body = append(body, m.renderAttachment(att))
	}

	return m.renderCard(
		m.theme.botTitle.Render("▛▚ [ 👾 "+m.botName+" ] ▞▜"),
		m.theme.botBox.Width(m.viewport.Width).Render(lipgloss.JoinVertical(lipgloss.Left, body...)),
	)
}

func (m *model) renderAttachment(att bus.Attachment) string {
	var lines []string
	if att.Title != "" {
		lines = append(lines, m.theme.cardTitle.Render(att.Title))
	}
	if att.Text != "" {
		lines = append(lines, att.Text)
	}
	for _, link := range []string{att.TitleLink, att.ImageURL} {
		if link != "" {
			lines = append(lines, m.theme.cardLink.Render(link))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, att.Fallback)
	}
	return m.theme.card(att.Color).Render(strings.Join(lines, "\n"))
}

func (m *model) renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.SetYOffset(m.viewport.YOffset - wheelStep)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.SetYOffset(m.viewport.YOffset + wheelStep)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func conversationTurns(messages []chatMessage) int {
	count := 0
	for _, message := range messages {
		if message.role == roleUser {
			count++
		}
	}

	return count
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
