package cli

import (
	"fmt"
	"strings"

	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/strand/internal/client"
	"github.com/raphaelgruber/strand/internal/gateway"
	"github.com/raphaelgruber/strand/internal/models"
)

// Theme holds the color scheme for the chat display.
type Theme struct {
	Header lipgloss.Color
	Me     lipgloss.Color
	Peer   lipgloss.Color
	Auto   lipgloss.Color
	Error  lipgloss.Color
	Hint   lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Header: lipgloss.Color("#5FAFD7"), // light blue
	Me:     lipgloss.Color("#00D787"), // green
	Peer:   lipgloss.Color("#D7AF5F"), // amber
	Auto:   lipgloss.Color("#AF87FF"), // violet
	Error:  lipgloss.Color("#FF005F"), // red
	Hint:   lipgloss.Color("#6C6C6C"), // dim gray
}

// Style functions for dynamic theming
func (t Theme) headerStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Header).Bold(true)
}

func (t Theme) meStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Me).Bold(true)
}

func (t Theme) peerStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Peer).Bold(true)
}

func (t Theme) autoStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Auto)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// streamEventMsg carries the next frame from the gateway socket.
// ok turns false once the socket closed.
type streamEventMsg struct {
	event gateway.Event
	ok    bool
}

// chatModel is the bubbletea model for an open conversation.
type chatModel struct {
	stream *client.ChatStream
	conv   models.Conversation
	userID string
	names  map[string]string // user id to display name

	messages []models.Message
	hasMore  bool
	seen     map[string]bool // incoming message ids currently reported visible

	input  textinput.Model
	theme  Theme
	width  int
	height int
	scroll int // messages scrolled up from the newest one

	status   string
	quitting bool
	err      error
}

// newChatModel creates a chat model over an open stream.
func newChatModel(stream *client.ChatStream, names map[string]string) chatModel {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Message"
	input.CharLimit = 2000
	input.Focus()

	return chatModel{
		stream:  stream,
		conv:    stream.Conversation(),
		userID:  stream.UserID(),
		names:   names,
		hasMore: stream.HasMore(),
		seen:    make(map[string]bool),
		input:   input,
		theme:   defaultTheme,
		width:   80,
		height:  24,
	}
}

// displayName maps a user id to their profile name when one is known.
func (m chatModel) displayName(userID string) string {
	if name, ok := m.names[userID]; ok {
		return name
	}
	return userID
}

// Init returns the initial commands (watch the socket, blink the cursor).
func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		m.waitForEvent(),
		m.input.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, m.reportVisible()

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			return m.submit()
		case "ctrl+r":
			return m.retryNewestFailed()
		case "pgup":
			return m.pageUp()
		case "pgdown":
			return m.pageDown()
		}

	case streamEventMsg:
		return m.applyEvent(msg)
	}

	// Everything else, typed characters included, goes to the input field.
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the typed text as a new message.
func (m chatModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}

	if err := m.stream.Send(text); err != nil {
		m.status = fmt.Sprintf("send: %v", err)
		return m, nil
	}

	m.input.Reset()
	m.scroll = 0
	return m, nil
}

// retryNewestFailed re-sends the newest failed message, if any.
func (m chatModel) retryNewestFailed() (tea.Model, tea.Cmd) {
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.Status == models.StatusFailed && msg.SenderID == m.userID {
			if err := m.stream.Retry(msg.ID); err != nil {
				m.status = fmt.Sprintf("retry: %v", err)
			} else {
				m.status = "retrying..."
			}
			return m, nil
		}
	}

	m.status = "nothing to retry"
	return m, nil
}

// pageUp scrolls a page towards older messages. Paging past the top
// asks the gateway for the next history page.
func (m chatModel) pageUp() (tea.Model, tea.Cmd) {
	rows := m.chatRows()
	maxScroll := len(m.messages) - rows
	if maxScroll < 0 {
		maxScroll = 0
	}

	if m.scroll < maxScroll {
		m.scroll += rows
		if m.scroll > maxScroll {
			m.scroll = maxScroll
		}
		return m, m.reportVisible()
	}

	if m.hasMore {
		m.status = "loading older messages..."
		if err := m.stream.LoadOlder(); err != nil {
			m.status = fmt.Sprintf("load older: %v", err)
		}
	}
	return m, nil
}

// pageDown scrolls a page towards the newest message.
func (m chatModel) pageDown() (tea.Model, tea.Cmd) {
	m.scroll -= m.chatRows()
	if m.scroll < 0 {
		m.scroll = 0
	}
	return m, m.reportVisible()
}

// applyEvent folds a socket frame into the model.
func (m chatModel) applyEvent(msg streamEventMsg) (tea.Model, tea.Cmd) {
	if !msg.ok {
		if !m.quitting {
			m.err = fmt.Errorf("connection to gateway lost")
		}
		return m, tea.Quit
	}

	switch msg.event.Type {
	case gateway.EventSnapshot:
		if m.scroll > 0 && len(msg.event.Messages) > len(m.messages) {
			// Keep the view anchored while history grows underneath.
			m.scroll += len(msg.event.Messages) - len(m.messages)
		}
		m.messages = msg.event.Messages
		m.hasMore = msg.event.HasMore

		maxScroll := len(m.messages) - m.chatRows()
		if maxScroll < 0 {
			maxScroll = 0
		}
		if m.scroll > maxScroll {
			m.scroll = maxScroll
		}

		m.status = ""
		return m, tea.Batch(m.reportVisible(), m.waitForEvent())

	case gateway.EventError:
		if msg.event.Op != "" {
			m.status = fmt.Sprintf("%s failed: %s", msg.event.Op, msg.event.Error)
		} else {
			m.status = msg.event.Error
		}
		return m, m.waitForEvent()
	}

	return m, m.waitForEvent()
}

// waitForEvent blocks on the next socket frame. Runs as a command so
// Update never blocks; re-armed after every received frame.
func (m chatModel) waitForEvent() tea.Cmd {
	events := m.stream.Events()
	return func() tea.Msg {
		ev, ok := <-events
		return streamEventMsg{event: ev, ok: ok}
	}
}

// reportVisible tells the gateway which incoming messages are on screen
// and which scrolled off. A read receipt only lands after the message
// stays visible, so repeating a report on a later snapshot is harmless.
func (m chatModel) reportVisible() tea.Cmd {
	type report struct {
		id       string
		fraction float64
	}
	var reports []report

	nowVisible := make(map[string]bool)
	for _, msg := range m.visibleWindow() {
		if msg.SenderID == m.userID || msg.Temporary() {
			continue
		}
		nowVisible[msg.ID] = true
		if !msg.ReadByUser(m.userID) {
			reports = append(reports, report{id: msg.ID, fraction: 1.0})
		}
	}
	for id := range m.seen {
		if !nowVisible[id] {
			reports = append(reports, report{id: id, fraction: 0})
			delete(m.seen, id)
		}
	}
	for id := range nowVisible {
		m.seen[id] = true
	}

	if len(reports) == 0 {
		return nil
	}

	stream := m.stream
	return func() tea.Msg {
		for _, r := range reports {
			if err := stream.Visible(r.id, r.fraction); err != nil {
				return nil
			}
		}
		return nil
	}
}

// chatRows is the number of message lines that fit above the input.
func (m chatModel) chatRows() int {
	rows := m.height - 6 // header, spacing, status, input, footer
	if rows < 3 {
		rows = 3
	}
	return rows
}

// visibleWindow returns the slice of messages currently on screen.
func (m chatModel) visibleWindow() []models.Message {
	rows := m.chatRows()

	end := len(m.messages) - m.scroll
	if end < 0 {
		end = 0
	}
	start := end - rows
	if start < 0 {
		start = 0
	}
	return m.messages[start:end]
}

// View renders the chat display.
func (m chatModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m chatModel) renderContent() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	title := m.conv.Title
	if title == "" {
		parts := make([]string, len(m.conv.ParticipantIDs))
		for i, id := range m.conv.ParticipantIDs {
			parts[i] = m.displayName(id)
		}
		title = strings.Join(parts, ", ")
	}
	b.WriteString(m.theme.headerStyle().Render(title))
	if m.hasMore {
		b.WriteString("  " + m.theme.hintStyle().Render("(older messages available)"))
	}
	b.WriteString("\n\n")

	window := m.visibleWindow()
	if len(window) == 0 {
		b.WriteString(m.theme.hintStyle().Render("No messages yet.") + "\n")
	}
	for _, msg := range window {
		b.WriteString(m.renderMessage(msg) + "\n")
	}

	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(m.theme.hintStyle().Render(m.status) + "\n")
	}
	b.WriteString(m.input.View() + "\n")
	b.WriteString(m.theme.hintStyle().Render("enter send · pgup/pgdn scroll · ctrl+r retry · esc quit"))

	return b.String()
}

// renderMessage builds one message line.
func (m chatModel) renderMessage(msg models.Message) string {
	ts := m.theme.hintStyle().Render(msg.SentAt.Format("15:04"))

	name := m.displayName(msg.SenderID)
	nameStyle := m.theme.peerStyle()
	if msg.SenderID == m.userID {
		nameStyle = m.theme.meStyle()
	}
	if msg.IsAutoReply() {
		name += " (auto)"
		nameStyle = m.theme.autoStyle()
	}

	line := fmt.Sprintf("%s %s  %s", ts, nameStyle.Render(name), msg.Text)
	if msg.SenderID == m.userID {
		line += " " + m.statusGlyph(msg)
	}
	return line
}

// statusGlyph marks the delivery state of one of the user's own messages.
func (m chatModel) statusGlyph(msg models.Message) string {
	switch msg.Status {
	case models.StatusRead:
		return m.theme.meStyle().Render("✓✓")
	case models.StatusDelivered:
		return "✓"
	case models.StatusFailed:
		return m.theme.errorStyle().Render("✗ (ctrl+r to retry)")
	default:
		return m.theme.hintStyle().Render("○")
	}
}

// runChatUI runs the interactive chat UI over an open stream. Blocks
// until the user leaves or the connection drops.
func runChatUI(stream *client.ChatStream, names map[string]string) error {
	model := newChatModel(stream, names)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	_ = stream.Close()
	if err != nil {
		return fmt.Errorf("chat UI error: %w", err)
	}

	if m, ok := finalModel.(chatModel); ok && m.err != nil {
		return m.err
	}
	return nil
}
