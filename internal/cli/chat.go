package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/copbot/copbot-go/internal/chat"
	"github.com/copbot/copbot-go/internal/models"
	"github.com/copbot/copbot-go/internal/voice"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat session",
	Long: `Open the interactive chat interface.

Sessions are listed in the sidebar and stay in sync with other clients.
Messages can be typed or, with voice enabled, spoken.

Key bindings:
  enter    send message
  ctrl+n   new chat
  ctrl+p   switch to next session
  ctrl+d   delete current session
  ctrl+r   start/stop voice capture
  ctrl+l   clear conversation context
  ctrl+c   quit`,
	RunE: runChat,
}

// starterPrompts are shown in an empty session to get the user going.
var starterPrompts = []string{
	"How do I file an FIR?",
	"What documents do I need for a police clearance certificate?",
	"How do I report a cybercrime?",
	"What are my rights during a police check?",
}

const sidebarWidth = 26

// chatTheme holds the color scheme for the chat display.
type chatTheme struct {
	User      lipgloss.Color
	Assistant lipgloss.Color
	Error     lipgloss.Color
	Hint      lipgloss.Color
	Accent    lipgloss.Color
}

var defaultChatTheme = chatTheme{
	User:      lipgloss.Color("#00D787"), // green
	Assistant: lipgloss.Color("#5FAFD7"), // light blue
	Error:     lipgloss.Color("#FF005F"), // red
	Hint:      lipgloss.Color("#6C6C6C"), // dim gray
	Accent:    lipgloss.Color("#AF87FF"), // violet
}

// Style functions for dynamic theming
func (t chatTheme) userStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.User).Bold(true)
}

func (t chatTheme) assistantStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Assistant).Bold(true)
}

func (t chatTheme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error)
}

func (t chatTheme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t chatTheme) accentStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Accent).Bold(true)
}

// Messages flowing into the Update loop. Pipeline and synchronizer events
// arrive through the shared events channel.
type (
	snapshotMsg        chat.Snapshot
	shownMsg           models.Message
	noticeMsg          string
	turnDoneMsg        struct{ err error }
	voiceTranscriptMsg string
	voiceErrorMsg      string
)

// teaSink forwards pipeline output into the program's event channel.
type teaSink struct {
	events chan<- tea.Msg
}

func (s teaSink) ShowMessage(msg models.Message) { s.events <- shownMsg(msg) }
func (s teaSink) Notify(text string)             { s.events <- noticeMsg(text) }

// chatModel is the bubbletea model for the chat interface.
type chatModel struct {
	pipeline *chat.Pipeline
	syncer   *chat.Synchronizer
	contexts *chat.ContextManager
	capture  *voice.Capture
	owner    string
	events   chan tea.Msg

	input   textinput.Model
	spinner spinner.Model
	theme   chatTheme

	sessions []models.ChatSession
	activeID string
	messages []models.Message
	seen     map[string]bool

	notice   string
	busy     bool
	quitting bool
	width    int
	height   int
}

func newChatModel(pipeline *chat.Pipeline, syncer *chat.Synchronizer, contexts *chat.ContextManager, capture *voice.Capture, owner string, events chan tea.Msg) chatModel {
	input := textinput.New()
	input.Placeholder = "Ask CopBot..."
	input.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	return chatModel{
		pipeline: pipeline,
		syncer:   syncer,
		contexts: contexts,
		capture:  capture,
		owner:    owner,
		events:   events,
		input:    input,
		spinner:  sp,
		theme:    defaultChatTheme,
		seen:     make(map[string]bool),
		width:    80,
		height:   24,
	}
}

// Init starts the spinner and the event pump.
func (m chatModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

// waitForEvent delivers the next pipeline or synchronizer event.
func (m chatModel) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		return <-events
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyPressMsg:
		return m.handleKey(msg)

	case snapshotMsg:
		m.applySnapshot(chat.Snapshot(msg))
		return m, m.waitForEvent()

	case shownMsg:
		m.appendMessage(models.Message(msg))
		return m, m.waitForEvent()

	case noticeMsg:
		m.notice = string(msg)
		return m, m.waitForEvent()

	case turnDoneMsg:
		m.busy = false
		// Failure text is already in the transcript; nothing extra to do.
		return m, nil

	case voiceTranscriptMsg:
		if m.busy {
			// A turn is running; park the transcript in the input instead.
			m.input.SetValue(string(msg))
			return m, m.waitForEvent()
		}
		m.busy = true
		m.notice = ""
		return m, tea.Batch(m.sendCmd(string(msg), true), m.waitForEvent())

	case voiceErrorMsg:
		m.notice = fmt.Sprintf("Voice capture failed: %s", string(msg))
		return m, m.waitForEvent()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "enter":
		content := strings.TrimSpace(m.input.Value())
		if content == "" || m.busy {
			return m, nil
		}
		m.input.SetValue("")
		m.busy = true
		m.notice = ""
		return m, m.sendCmd(content, false)

	case "ctrl+n":
		return m, m.newSessionCmd()

	case "ctrl+p":
		m.cycleSession()
		return m, nil

	case "ctrl+d":
		if m.activeID == "" {
			return m, nil
		}
		return m, m.deleteSessionCmd(m.activeID)

	case "ctrl+r":
		return m, m.toggleVoice()

	case "ctrl+l":
		if m.activeID != "" {
			m.contexts.Clear(m.owner, m.activeID)
			m.notice = "Conversation context cleared."
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// applySnapshot takes a synchronizer snapshot: new session list, possibly a
// new active session. Switching sessions replaces the visible transcript
// with the stored one.
func (m *chatModel) applySnapshot(snap chat.Snapshot) {
	m.sessions = snap.Sessions

	if snap.ActiveID != m.activeID {
		m.activeID = snap.ActiveID
		m.messages = nil
		m.seen = make(map[string]bool)
	}

	for _, session := range snap.Sessions {
		if models.MustRecordIDString(session.ID) != m.activeID {
			continue
		}
		for _, msg := range session.Messages {
			m.appendMessage(msg)
		}
	}
}

// appendMessage adds a message to the transcript unless it is already there.
// Optimistic display and store snapshots both feed this, so duplicates are
// expected and dropped by ID.
func (m *chatModel) appendMessage(msg models.Message) {
	if m.seen[msg.ID] {
		return
	}
	m.seen[msg.ID] = true
	m.messages = append(m.messages, msg)
}

func (m *chatModel) cycleSession() {
	if len(m.sessions) < 2 {
		return
	}
	for i, session := range m.sessions {
		if models.MustRecordIDString(session.ID) == m.activeID {
			next := m.sessions[(i+1)%len(m.sessions)]
			m.syncer.SetActive(models.MustRecordIDString(next.ID))
			return
		}
	}
}

func (m chatModel) sendCmd(content string, isVoice bool) tea.Cmd {
	pipeline := m.pipeline
	return func() tea.Msg {
		_, err := pipeline.Send(context.Background(), content, isVoice)
		return turnDoneMsg{err: err}
	}
}

func (m chatModel) newSessionCmd() tea.Cmd {
	syncer := m.syncer
	return func() tea.Msg {
		if _, err := syncer.CreateSession(context.Background()); err != nil {
			return noticeMsg(fmt.Sprintf("Could not create chat: %v", err))
		}
		return nil
	}
}

func (m chatModel) deleteSessionCmd(id string) tea.Cmd {
	syncer := m.syncer
	return func() tea.Msg {
		if err := syncer.DeleteSession(context.Background(), id); err != nil {
			return noticeMsg(err.Error())
		}
		return nil
	}
}

func (m chatModel) toggleVoice() tea.Cmd {
	if m.capture == nil || !m.capture.Available() {
		return func() tea.Msg {
			return noticeMsg("Voice capture is not enabled on this installation.")
		}
	}

	capture := m.capture
	if capture.State() != voice.StateIdle {
		capture.Stop()
		return nil
	}
	return func() tea.Msg {
		if err := capture.Start(context.Background()); err != nil {
			return noticeMsg(fmt.Sprintf("Could not start voice capture: %v", err))
		}
		return nil
	}
}

// View renders the sidebar, transcript and input line.
func (m chatModel) View() tea.View {
	if m.quitting {
		return tea.NewView("")
	}
	sidebar := m.renderSidebar()
	main := m.renderMain()
	v := tea.NewView(lipgloss.JoinHorizontal(lipgloss.Top, sidebar, main))
	v.AltScreen = true
	return v
}

func (m chatModel) renderSidebar() string {
	var b strings.Builder
	b.WriteString(m.theme.accentStyle().Render("CopBot"))
	b.WriteString("\n\n")

	for _, session := range m.sessions {
		id := models.MustRecordIDString(session.ID)
		title := session.Title
		if runes := []rune(title); len(runes) > sidebarWidth-4 {
			title = string(runes[:sidebarWidth-4])
		}
		if id == m.activeID {
			b.WriteString(m.theme.accentStyle().Render("> " + title))
		} else {
			b.WriteString("  " + title)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.theme.hintStyle().Render("ctrl+n new\nctrl+p switch\nctrl+d delete"))

	return lipgloss.NewStyle().
		Width(sidebarWidth).
		Height(m.height - 1).
		Render(b.String())
}

func (m chatModel) renderMain() string {
	mainWidth := m.width - sidebarWidth - 2
	if mainWidth < 20 {
		mainWidth = 20
	}

	transcript := m.renderTranscript(mainWidth)
	status := m.renderStatus()
	input := m.input.View()

	// Clip the transcript to what fits above the status and input lines.
	lines := strings.Split(transcript, "\n")
	available := m.height - 4
	if available < 1 {
		available = 1
	}
	if len(lines) > available {
		lines = lines[len(lines)-available:]
	}

	return lipgloss.NewStyle().Width(mainWidth).Render(
		strings.Join(lines, "\n") + "\n" + status + "\n" + input)
}

func (m chatModel) renderTranscript(width int) string {
	if len(m.messages) == 0 {
		var b strings.Builder
		b.WriteString(m.theme.hintStyle().Render("Start a conversation, for example:"))
		b.WriteString("\n")
		for _, prompt := range starterPrompts {
			b.WriteString(m.theme.hintStyle().Render("  • " + prompt))
			b.WriteString("\n")
		}
		return b.String()
	}

	body := lipgloss.NewStyle().Width(width)
	var b strings.Builder
	for _, msg := range m.messages {
		speaker := m.theme.userStyle().Render("You")
		if msg.Sender == models.SenderAssistant {
			speaker = m.theme.assistantStyle().Render("CopBot")
		}
		if msg.IsVoice {
			speaker += m.theme.hintStyle().Render(" (voice)")
		}
		b.WriteString(speaker)
		b.WriteString("\n")
		b.WriteString(body.Render(msg.Content))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m chatModel) renderStatus() string {
	if m.capture != nil {
		switch m.capture.State() {
		case voice.StateRecording:
			return m.theme.accentStyle().Render(m.spinner.View() + "listening...")
		case voice.StateProcessing:
			preview := m.capture.Transcript()
			if preview == "" {
				preview = "..."
			}
			return m.theme.accentStyle().Render(m.spinner.View() + "hearing: " + preview)
		}
	}
	if m.busy {
		return m.theme.hintStyle().Render(m.spinner.View() + "thinking...")
	}
	if m.notice != "" {
		return m.theme.errorStyle().Render(m.notice)
	}
	return m.theme.hintStyle().Render("enter send · ctrl+r voice · ctrl+l clear context · ctrl+c quit")
}

func runChat(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("chat requires an interactive terminal; use 'copbot ask' instead")
	}

	owner, err := userID()
	if err != nil {
		return err
	}
	llmModel, err := getModel()
	if err != nil {
		return err
	}

	events := make(chan tea.Msg, 32)

	syncer := chat.NewSynchronizer(dbClient, owner, logger)
	cancelSub, err := syncer.Subscribe(context.Background(), func(snap chat.Snapshot) {
		events <- snapshotMsg(snap)
	})
	if err != nil {
		return fmt.Errorf("subscribe to sessions: %w", err)
	}
	defer cancelSub()

	var capture *voice.Capture
	if cfg.VoiceEnabled {
		recognizer, err := voice.NewGoogleRecognizer(context.Background(), voice.GoogleRecognizerConfig{
			Language:   cfg.VoiceLanguage,
			CaptureCmd: cfg.VoiceCaptureCmd,
		}, logger)
		if err != nil {
			return fmt.Errorf("init voice recognition: %w", err)
		}
		defer recognizer.Close()

		capture = voice.NewCapture(recognizer,
			func(transcript string) { events <- voiceTranscriptMsg(transcript) },
			func(code string) { events <- voiceErrorMsg(code) },
			logger)
	}

	contexts := chat.NewContextManager(cfg.SystemPrompt, cfg.ContextMaxTurns)
	pipeline := chat.NewPipeline(dbClient, llmModel, teaSink{events: events}, contexts, syncer,
		chat.PipelineConfig{Owner: owner, CompletionTimeout: cfg.CompletionTimeout}, logger)

	model := newChatModel(pipeline, syncer, contexts, capture, owner, events)
	p := tea.NewProgram(model)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat UI error: %w", err)
	}

	pipeline.Wait()
	return nil
}
