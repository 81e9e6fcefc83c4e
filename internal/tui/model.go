// Package tui is the terminal chat screen: a scrollback of the room with
// the newest message at the bottom and an input line below it. Scrolling
// to the top of the scrollback loads the next older page.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pagechat/internal/feed"
	"github.com/eldtechnologies/pagechat/internal/models"
)

// Identity is a feed.Identity that can also sign out.
type Identity interface {
	feed.Identity
	SignOut() error
}

// Controller is the part of feed.Controller the screen drives.
type Controller interface {
	Changes() <-chan struct{}
	RequestOlderPage() bool
	SubmitDraft(ctx context.Context) error
	SetDraft(text string)
	Draft() (string, bool)
	Messages() []models.Message
	Pending() bool
	Exhausted() bool
	Err() error
}

// Options configures the chat screen.
type Options struct {
	Controller Controller
	Identity   Identity // may be nil for a read-only screen
	RoomName   string
	Logger     zerolog.Logger
}

type (
	changedMsg struct{}
	submitMsg  struct{ err error }
	signOutMsg struct{ err error }
)

const (
	headerHeight = 1
	statusHeight = 1
	inputHeight  = 3 // input line plus its border
	wheelLines   = 3
)

// Model is the bubbletea model of the chat screen.
type Model struct {
	ctx      context.Context
	ctrl     Controller
	identity Identity
	room     string
	logger   zerolog.Logger

	viewport viewport.Model
	input    textinput.Model
	ready    bool
	sending  bool
	status   string
	width    int
	now      func() time.Time
}

// New creates the chat screen. ctx bounds the submits it starts.
func New(ctx context.Context, opts Options) Model {
	in := textinput.New()
	in.Placeholder = "Type a message, Enter to send"
	in.Prompt = "> "
	in.CharLimit = feed.MaxMessageBytes
	in.Focus()

	room := opts.RoomName
	if room == "" {
		room = "global"
	}

	return Model{
		ctx:      ctx,
		ctrl:     opts.Controller,
		identity: opts.Identity,
		room:     room,
		logger:   opts.Logger,
		input:    in,
		now:      time.Now,
	}
}

// Run starts the screen on the terminal and blocks until the user quits.
func Run(ctx context.Context, opts Options) error {
	p := tea.NewProgram(New(ctx, opts), tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForChange(m.ctrl.Changes()))
}

// waitForChange turns one controller change signal into a message.
func waitForChange(changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-changes
		return changedMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		vpHeight := msg.Height - headerHeight - statusHeight - inputHeight
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.input.Width = msg.Width - 6
		m.refresh()
		m.checkEdge()

	case changedMsg:
		m.refresh()
		m.checkEdge()
		cmds = append(cmds, waitForChange(m.ctrl.Changes()))

	case submitMsg:
		m.sending = false
		if msg.err != nil {
			m.logger.Debug().Err(msg.err).Msg("submit failed")
		}
		// The controller clears the draft once the send went through.
		if draft, _ := m.ctrl.Draft(); draft != m.input.Value() {
			m.input.SetValue(draft)
		}
		m.status = ""

	case signOutMsg:
		if msg.err != nil {
			m.status = "sign out failed: " + msg.err.Error()
		} else {
			m.status = "signed out"
		}

	case tea.MouseMsg:
		switch msg.Button {
		case tea.MouseButtonWheelUp:
			m.scroll(-wheelLines)
		case tea.MouseButtonWheelDown:
			m.scroll(wheelLines)
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "enter", "ctrl+s":
			if m.sending {
				return m, nil
			}
			m.ctrl.SetDraft(m.input.Value())
			m.sending = true
			m.status = "sending..."
			return m, m.submit()

		case "ctrl+l":
			if m.identity == nil || m.identity.Current() == nil {
				return m, nil
			}
			return m, signOut(m.identity)

		case "up":
			m.scroll(-1)
			return m, nil
		case "down":
			m.scroll(1)
			return m, nil
		case "pgup":
			m.scroll(-m.viewport.Height)
			return m, nil
		case "pgdown":
			m.scroll(m.viewport.Height)
			return m, nil
		case "home":
			m.viewport.GotoTop()
			m.checkEdge()
			return m, nil
		case "end":
			m.viewport.GotoBottom()
			return m, nil
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		m.ctrl.SetDraft(m.input.Value())
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) submit() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return submitMsg{err: ctrl.SubmitDraft(ctx)}
	}
}

func signOut(identity Identity) tea.Cmd {
	return func() tea.Msg {
		return signOutMsg{err: identity.SignOut()}
	}
}

func (m *Model) scroll(lines int) {
	if !m.ready {
		return
	}
	m.viewport.SetYOffset(m.viewport.YOffset + lines)
	m.checkEdge()
}

// refresh re-renders the scrollback keeping the distance to the newest
// end, so a page prepended above does not move what is on screen.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	fromBottom := -ScrollOffset(m.viewport)

	self := ""
	if m.identity != nil {
		if a := m.identity.Current(); a != nil {
			self = a.ID
		}
	}
	m.viewport.SetContent(renderMessages(m.ctrl.Messages(), self, m.viewport.Width, m.now()))

	m.viewport.GotoBottom()
	m.viewport.SetYOffset(m.viewport.YOffset - fromBottom)
}

// checkEdge asks for the next older page once the oldest end is visible.
func (m *Model) checkEdge() {
	if !m.ready {
		return
	}
	if feed.AtTrailingEdge(ScrollOffset(m.viewport), m.viewport.Height, m.viewport.TotalLineCount()) {
		if m.ctrl.RequestOlderPage() {
			m.logger.Debug().Msg("requested older page")
		}
	}
}

// ScrollOffset is the viewport position measured from the newest end:
// zero at the bottom, negative while scrolled up towards older messages.
func ScrollOffset(vp viewport.Model) int {
	maxOffset := vp.TotalLineCount() - vp.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	return vp.YOffset - maxOffset
}

func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}

	header := lipgloss.JoinHorizontal(lipgloss.Top,
		headerStyle.Render("pagechat #"+m.room),
		identityStyle.Render(m.whoami()),
	)

	box := inputStyle
	if _, invalid := m.ctrl.Draft(); invalid {
		box = invalidStyle
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		m.statusLine(),
		box.Width(m.width-2).Render(m.input.View()),
	)
}

func (m Model) whoami() string {
	if m.identity == nil {
		return "read only"
	}
	a := m.identity.Current()
	if a == nil {
		return "anonymous, sends sign you in"
	}
	name := a.Name
	if name == "" {
		name = shortID(a.ID)
	}
	return "signed in as " + name + " (ctrl+l to sign out)"
}

func (m Model) statusLine() string {
	if err := m.ctrl.Err(); err != nil {
		var aerr *feed.AuthenticationError
		if errors.As(err, &aerr) {
			return errorStyle.Render(fmt.Sprintf("sign in failed: %s", aerr.Message))
		}
		return errorStyle.Render(err.Error())
	}
	if _, invalid := m.ctrl.Draft(); invalid {
		return errorStyle.Render("message is empty")
	}

	switch {
	case m.status != "":
		return statusStyle.Render(m.status)
	case m.ctrl.Pending():
		return statusStyle.Render("loading older messages...")
	case m.ctrl.Exhausted() && m.viewport.AtTop():
		return statusStyle.Render("beginning of history")
	}
	return ""
}
