package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/codedrop/internal/utils"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// RoomBoxView shows the room code the other side has to type.
func RoomBoxView(code string, remaining time.Duration) string {
	content := fmt.Sprintf("%s Room created\n\n%s Code:        %s\n%s Expires in:  %s",
		IconRoom,
		IconCopy, BoldStyle.Foreground(Primary).Render(spaced(code)),
		IconTime, MutedStyle.Render(utils.FormatTimeDuration(remaining)),
	)
	return SuccessBoxStyle.Render(content)
}

func RenderRoomInfo(code string, remaining time.Duration) {
	fmt.Println(RoomBoxView(code, remaining))
}

func spaced(code string) string {
	return strings.Join(strings.Split(code, ""), " ")
}

type peerReadyMsg struct{}

type countdownMsg time.Time

func countdown() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return countdownMsg(t)
	})
}

// waitModel keeps the room box on screen with a live countdown while the
// other peer joins.
type waitModel struct {
	code      string
	message   string
	remaining func() time.Duration
	done      <-chan struct{}
	cancel    func()
	spinner   spinner.Model
	finished  bool
}

func (m *waitModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, countdown(), func() tea.Msg {
		<-m.done
		return peerReadyMsg{}
	})
}

func (m *waitModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.finished = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case peerReadyMsg:
		m.finished = true
		return m, tea.Quit

	case countdownMsg:
		if m.remaining() <= 0 {
			m.finished = true
			return m, tea.Quit
		}
		return m, countdown()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *waitModel) View() string {
	box := RoomBoxView(m.code, m.remaining())
	if m.finished {
		return box + "\n"
	}
	return fmt.Sprintf("%s\n\n%s %s\n%s\n", box, m.spinner.View(), m.message, MutedStyle.Render("Press q to cancel"))
}

// WaitForPeer renders the room box and blocks until done is closed, the
// room runs out of time, the user quits (which calls cancel) or ctx ends.
func WaitForPeer(ctx context.Context, code, message string, remaining func() time.Duration, done <-chan struct{}, cancel func()) {
	if !IsTerminal() {
		RenderRoomInfo(code, remaining())
		fmt.Println(message)
		return
	}

	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = SpinnerStyle

	model := &waitModel{
		code:      code,
		message:   message,
		remaining: remaining,
		done:      done,
		cancel:    cancel,
		spinner:   s,
	}
	if _, err := tea.NewProgram(model, tea.WithContext(ctx)).Run(); err != nil && ctx.Err() == nil {
		PrintWarningf("display error: %v", err)
	}
}
