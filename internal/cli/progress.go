package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/policy-debate/internal/client"
	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/raphaelgruber/policy-debate/internal/gateway"
)

// Theme holds the color scheme for the debate view.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	Speaker    lipgloss.Color
	Moderator  lipgloss.Color
	User       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	Speaker:    lipgloss.Color("#FFAF00"), // amber
	Moderator:  lipgloss.Color("#AF87FF"), // lavender
	User:       lipgloss.Color("#00AFAF"), // teal
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) senderStyle(sender string) lipgloss.Style {
	switch sender {
	case debate.SenderModerator:
		return lipgloss.NewStyle().Foreground(t.Moderator).Bold(true)
	case debate.SenderUser:
		return lipgloss.NewStyle().Foreground(t.User).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(t.Speaker).Bold(true)
	}
}

// formatFrame renders one stream frame as a line of the debate view.
// Results that arrived after end_debate render as the empty string.
func (t Theme) formatFrame(f gateway.Frame) string {
	switch f.Type {
	case string(debate.EventMessage):
		if f.Metadata != nil && f.Metadata.PostTermination {
			return ""
		}
		name := f.SenderName
		if name == "" {
			name = f.Sender
		}
		line := fmt.Sprintf("%3d %s %s %s", f.Sequence,
			t.senderStyle(f.Sender).Render(name),
			t.hintStyle().Render("("+string(f.MessageType)+")"),
			f.Content)
		if f.Metadata != nil && f.Metadata.Error {
			line += " " + t.errorStyle().Render("[generation failed]")
		}
		return line
	case string(debate.EventStatus):
		return t.statusStyle().Render(fmt.Sprintf("  * %s (%s)", f.Message, f.State))
	default:
		return t.errorStyle().Render(fmt.Sprintf("  ! %s: %s", f.Code, f.Message))
	}
}

// topicProgress is the share of the debate's topic rounds already held.
func topicProgress(s *debate.SessionSnapshot) float64 {
	if s == nil || len(s.Topics) == 0 {
		return 0
	}
	if s.State == debate.StateCompleted || s.State == debate.StateConcluding {
		return 1
	}
	rounds := s.Config.MaxRoundsPerTopic
	if rounds < 1 {
		rounds = 1
	}
	done := float64(s.CurrentTopicIndex) + float64(min(s.CurrentRound, rounds))/float64(rounds)
	return min(done/float64(len(s.Topics)), 1)
}

// frameMsg carries one frame read from the stream.
type frameMsg struct {
	frame gateway.Frame
}

// streamClosedMsg reports that the stream's frame channel closed.
type streamClosedMsg struct{}

// snapshotMsg carries a refreshed session snapshot.
type snapshotMsg struct {
	snap *debate.SessionSnapshot
	err  error
}

// sentMsg reports the result of sending a command.
type sentMsg struct {
	cmd debate.CommandType
	err error
}

// watchModel is the bubbletea model for a live debate.
type watchModel struct {
	client    *client.Client
	stream    *client.Stream
	sessionID string
	snap      *debate.SessionSnapshot
	lines     []string
	input     textinput.Model
	typing    bool
	progress  progress.Model
	theme     Theme
	height    int
	notice    string
	done      bool
	quitting  bool
	err       error
}

func newWatchModel(c *client.Client, stream *client.Stream, sessionID string) watchModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	input := textinput.New()
	input.Placeholder = "Ask the stakeholders a question"
	input.CharLimit = 2000

	return watchModel{
		client:    c,
		stream:    stream,
		sessionID: sessionID,
		input:     input,
		progress:  prog,
		theme:     defaultTheme,
		height:    24,
	}
}

// Init starts reading the stream and fetches the first snapshot.
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		waitFrame(m.stream),
		m.fetchSnapshot(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		if m.typing {
			return m.updateInput(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "p":
			return m, m.send(gateway.CommandFrame{Type: debate.CommandPause})
		case "r":
			return m, m.send(gateway.CommandFrame{Type: debate.CommandResume})
		case "e":
			return m, m.send(gateway.CommandFrame{Type: debate.CommandEnd})
		case "i":
			m.typing = true
			m.notice = ""
			return m, m.input.Focus()
		}

	case tea.WindowSizeMsg:
		m.height = msg.Height

	case frameMsg:
		if line := m.theme.formatFrame(msg.frame); line != "" {
			m.lines = append(m.lines, line)
		}
		return m, tea.Batch(waitFrame(m.stream), m.fetchSnapshot())

	case streamClosedMsg:
		m.done = true
		m.err = m.stream.Err()
		return m, tea.Quit

	case snapshotMsg:
		if msg.err == nil {
			m.snap = msg.snap
		}

	case sentMsg:
		if msg.err != nil {
			m.notice = m.theme.errorStyle().Render(fmt.Sprintf("%s failed: %v", msg.cmd, msg.err))
		} else {
			m.notice = m.theme.hintStyle().Render(fmt.Sprintf("sent %s", msg.cmd))
		}

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m watchModel) updateInput(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "esc":
		m.typing = false
		m.input.Blur()
		return m, nil
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		m.typing = false
		m.input.Reset()
		m.input.Blur()
		if text == "" {
			return m, nil
		}
		return m, m.send(gateway.CommandFrame{Type: debate.CommandUserInput, Message: text})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the debate display.
func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m watchModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n\n")

	// Header, blank line, notice and footer take five rows.
	visible := max(m.height-5, 1)
	lines := m.lines
	if len(lines) > visible {
		lines = lines[len(lines)-visible:]
	}
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}

	if m.notice != "" {
		b.WriteString(m.notice)
		b.WriteString("\n")
	}
	if m.typing {
		b.WriteString(m.input.View())
	} else {
		b.WriteString(m.theme.hintStyle().Render("p pause  r resume  e end  i interject  q quit"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m watchModel) header() string {
	if m.snap == nil {
		return m.theme.statusStyle().Render("Loading session " + m.sessionID + "...")
	}
	s := m.snap
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", s.State))
	line := fmt.Sprintf("%s %s %s", s.PolicyTitle, status, m.progress.ViewAs(topicProgress(s)))
	if s.CurrentTopicIndex < len(s.Topics) && !s.State.IsTerminal() {
		line += fmt.Sprintf("\nTopic %d/%d: %s, round %d",
			s.CurrentTopicIndex+1, len(s.Topics), s.Topics[s.CurrentTopicIndex].Title, s.CurrentRound)
	}
	return line
}

// finalView renders the transcript tail and how the debate ended.
func (m watchModel) finalView() string {
	var b strings.Builder
	for _, l := range m.lines {
		b.WriteString(l)
		b.WriteString("\n")
	}

	switch {
	case m.quitting:
		b.WriteString(m.theme.hintStyle().Render(fmt.Sprintf(
			"\nStopped watching. Session %s continues on the server.\nUse 'debate watch %s' to follow it again.\n",
			m.sessionID, m.sessionID)))
	case m.err != nil:
		b.WriteString(m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Stream failed: %s\n", m.err)))
	default:
		b.WriteString(m.theme.completedStyle().Render("\n✓ Debate ended") + "\n")
	}
	return b.String()
}

// fetchSnapshot refreshes the session state.
// Runs in a separate goroutine (command) to avoid blocking Update().
func (m watchModel) fetchSnapshot() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		snap, err := m.client.GetSession(ctx, m.sessionID)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m watchModel) send(cmd gateway.CommandFrame) tea.Cmd {
	stream := m.stream
	return func() tea.Msg {
		return sentMsg{cmd: cmd.Type, err: stream.Send(cmd)}
	}
}

// waitFrame blocks on the next stream frame.
func waitFrame(s *client.Stream) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-s.Frames
		if !ok {
			return streamClosedMsg{}
		}
		return frameMsg{frame: f}
	}
}

// RunWatch runs the interactive debate view until the session ends or the
// user quits. Quitting leaves the session running.
func RunWatch(c *client.Client, stream *client.Stream, sessionID string) error {
	model := newWatchModel(c, stream, sessionID)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("watch UI error: %w", err)
	}

	if m, ok := finalModel.(watchModel); ok && !m.quitting && m.err != nil {
		return m.err
	}
	return nil
}
