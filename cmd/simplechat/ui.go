package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/stoday/simplechat/pkg/chat"
	"github.com/stoday/simplechat/pkg/events"
	"github.com/stoday/simplechat/pkg/session"
)

type eventMsg struct {
	event events.Event
}

type opDoneMsg struct {
	err error
}

type errMsg error

type model struct {
	ctx          context.Context
	orchestrator *session.Orchestrator

	viewport viewport.Model
	textArea textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	keyMap KeyMap
	style  *Style

	width  int
	height int
	ready  bool

	sending       bool
	uploadPercent int
	statusNote    string
	err           error
}

func initialModel(ctx context.Context, orchestrator *session.Orchestrator) model {
	ret := model{
		ctx:           ctx,
		orchestrator:  orchestrator,
		style:         DefaultStyles(),
		keyMap:        DefaultKeyMap,
		uploadPercent: -1,
	}

	ret.textArea = textarea.New()
	ret.textArea.Placeholder = "Ask anything..."
	ret.textArea.SetHeight(3)
	ret.textArea.Focus()

	ret.spinner = spinner.New()
	ret.spinner.Spinner = spinner.Dot

	return ret
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.initSession())
}

func (m model) initSession() tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{err: m.orchestrator.Initialize(m.ctx)}
	}
}

func (m model) sendMessage(text string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.orchestrator.SendMessage(m.ctx, text, nil)
		return opDoneMsg{err: err}
	}
}

func (m model) stopGenerating() tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{err: m.orchestrator.StopGenerating(m.ctx)}
	}
}

// resync is the recovery action after a connectivity gap: it reloads the
// conversation list and the active history in one pass.
func (m model) resync() tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{err: m.orchestrator.Resync(m.ctx)}
	}
}

func (m model) newChat() tea.Cmd {
	return func() tea.Msg {
		_, err := m.orchestrator.NewChat(m.ctx)
		return opDoneMsg{err: err}
	}
}

func (m model) deleteActiveChat() tea.Cmd {
	active, ok := m.orchestrator.Registry().Active()
	if !ok {
		return nil
	}
	return func() tea.Msg {
		return opDoneMsg{err: m.orchestrator.DeleteConversation(m.ctx, active.ID)}
	}
}

// selectNeighbor moves the active conversation up or down the list.
func (m model) selectNeighbor(offset int) tea.Cmd {
	conversations := m.orchestrator.Registry().Conversations()
	if len(conversations) == 0 {
		return nil
	}
	idx := 0
	for i, c := range conversations {
		if c.Active {
			idx = i
			break
		}
	}
	idx += offset
	if idx < 0 || idx >= len(conversations) {
		return nil
	}
	target := conversations[idx].ID
	return func() tea.Msg {
		return opDoneMsg{err: m.orchestrator.SelectConversation(m.ctx, target)}
	}
}

func (m model) replyPending() bool {
	active, ok := m.orchestrator.Registry().Active()
	if !ok {
		return false
	}
	_, pending := m.orchestrator.Store().PendingAssistant(active.ID)
	return pending
}

func (m *model) refreshTranscript() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m *model) renderTranscript() string {
	active, ok := m.orchestrator.Registry().Active()
	if !ok {
		return "No conversation."
	}

	contentWidth := m.width - 4
	if contentWidth < 10 {
		contentWidth = 10
	}

	var blocks []string
	for _, msg := range m.orchestrator.Store().Messages(active.ID) {
		blocks = append(blocks, m.renderMessage(msg, contentWidth))
	}
	if len(blocks) == 0 {
		return m.style.StatusBar.Render("Start the conversation below.")
	}
	return strings.Join(blocks, "\n")
}

func (m *model) renderMessage(msg chat.Message, width int) string {
	text := msg.Content

	switch msg.Role {
	case chat.RoleUser:
		block := m.style.UserMessage.Width(width).Render(text)
		for _, att := range msg.Attachments {
			block += "\n" + m.style.StatusBar.Render(fmt.Sprintf("  📎 %s (%d bytes)", att.FileName, att.SizeBytes))
		}
		return block
	default:
		if msg.Pending() && text == "" {
			text = m.spinner.View() + " thinking..."
		} else if m.renderer != nil && !msg.Pending() {
			if rendered, err := m.renderer.Render(text); err == nil {
				text = strings.TrimRight(rendered, "\n")
			}
		}
		block := m.style.AssistantMessage.Width(width).Render(text)
		switch msg.Status {
		case chat.StatusCancelled:
			block += "\n" + m.style.CancelledNote.Render("  (stopped)")
		case chat.StatusFailed:
			block += "\n" + m.style.CancelledNote.Render("  (failed)")
		}
		return block
	}
}

func (m *model) statusLine() string {
	active, _ := m.orchestrator.Registry().Active()

	left := m.style.Title.Render(active.Title)
	if active.Offline {
		left += m.style.ErrorBar.Render("  [offline]")
	}

	var right string
	switch {
	case m.err != nil:
		right = m.style.ErrorBar.Render(m.err.Error())
	case m.uploadPercent >= 0:
		right = m.style.StatusBar.Render(fmt.Sprintf("uploading %d%%", m.uploadPercent))
	case m.replyPending():
		right = m.style.StatusBar.Render(m.spinner.View() + " generating (esc to stop)")
	case m.statusNote != "":
		right = m.style.StatusBar.Render(m.statusNote)
	default:
		right = m.style.StatusBar.Render("tab send · ctrl+n new · ctrl+j/k switch · ctrl+c quit")
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keyMap.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keyMap.SubmitMessage):
			text := m.textArea.Value()
			if strings.TrimSpace(text) == "" || m.sending {
				break
			}
			m.sending = true
			m.err = nil
			m.textArea.Reset()
			cmds = append(cmds, m.sendMessage(text), m.spinner.Tick)

		case key.Matches(msg, m.keyMap.StopGenerating):
			if m.replyPending() {
				cmds = append(cmds, m.stopGenerating())
			}

		case key.Matches(msg, m.keyMap.NewChat):
			m.err = nil
			cmds = append(cmds, m.newChat())

		case key.Matches(msg, m.keyMap.DeleteChat):
			m.err = nil
			cmds = append(cmds, m.deleteActiveChat())

		case key.Matches(msg, m.keyMap.Resync):
			m.err = nil
			cmds = append(cmds, m.resync())

		case key.Matches(msg, m.keyMap.NextConversation):
			cmds = append(cmds, m.selectNeighbor(1))

		case key.Matches(msg, m.keyMap.PrevConversation):
			cmds = append(cmds, m.selectNeighbor(-1))

		case key.Matches(msg, m.keyMap.ScrollUp):
			m.viewport.LineUp(3)

		case key.Matches(msg, m.keyMap.ScrollDown):
			m.viewport.LineDown(3)

		default:
			m.textArea, cmd = m.textArea.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		textAreaHeight := m.textArea.Height() + 1
		viewportHeight := msg.Height - textAreaHeight - 2
		if viewportHeight < 1 {
			viewportHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, viewportHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = viewportHeight
		}
		m.textArea.SetWidth(msg.Width)

		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(msg.Width-8),
		)
		if err == nil {
			m.renderer = renderer
		}
		m.refreshTranscript()

	case eventMsg:
		switch msg.event.Type() {
		case events.EventTypeUploadProgress:
			if e, ok := msg.event.(*events.EventUploadProgress); ok {
				m.uploadPercent = e.Percent
				if e.Percent >= 100 {
					m.uploadPercent = -1
				}
			}
		case events.EventTypeStillGenerating:
			m.statusNote = "the reply is taking longer than usual"
			m.refreshTranscript()
		case events.EventTypeStart:
			m.statusNote = ""
			cmds = append(cmds, m.spinner.Tick)
		case events.EventTypeFinal, events.EventTypeInterrupt:
			m.statusNote = ""
			m.refreshTranscript()
		default:
			m.refreshTranscript()
		}

	case opDoneMsg:
		m.sending = false
		m.uploadPercent = -1
		if msg.err != nil {
			m.err = msg.err
		}
		m.refreshTranscript()
		if m.replyPending() {
			cmds = append(cmds, m.spinner.Tick)
		}

	case spinner.TickMsg:
		if m.replyPending() {
			m.spinner, cmd = m.spinner.Update(msg)
			m.refreshTranscript()
			cmds = append(cmds, cmd)
		}

	case errMsg:
		m.err = msg
		return m, nil

	default:
	}

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if !m.ready {
		return "Loading..."
	}
	return fmt.Sprintf("%s\n%s\n%s",
		m.statusLine(),
		m.viewport.View(),
		m.textArea.View(),
	)
}

// runUI wires the event router into the bubbletea program and blocks until
// the user quits or the context is cancelled.
func runUI(ctx context.Context, orchestrator *session.Orchestrator, router *events.EventRouter) error {
	p := tea.NewProgram(
		initialModel(ctx, orchestrator),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(), // turn on mouse support so we can track the mouse wheel
	)

	router.AddHandler("ui-forward", "ui", func(msg *message.Message) error {
		e, err := events.NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}
		p.Send(eventMsg{event: e})
		return nil
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return router.Run(ctx)
	})
	g.Go(func() error {
		<-router.Running()
		defer cancel()
		_, err := p.Run()
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		p.Quit()
		return nil
	})

	return g.Wait()
}
