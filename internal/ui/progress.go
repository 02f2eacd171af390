package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/codedrop/internal/transfer"
	"github.com/BioHazard786/codedrop/internal/utils"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// TransferMode represents send or receive
type TransferMode int

const (
	ModeSend TransferMode = iota
	ModeReceive
)

const refreshInterval = 100 * time.Millisecond

// TickMsg is sent periodically to refresh the progress display
type TickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// latest holds the most recent snapshot. Observers write it from the
// transfer goroutine and the view reads it on every tick.
type latest struct {
	mu   sync.Mutex
	snap transfer.Snapshot
	seen bool
}

func (l *latest) set(s transfer.Snapshot) {
	l.mu.Lock()
	l.snap, l.seen = s, true
	l.mu.Unlock()
}

func (l *latest) get() (transfer.Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap, l.seen
}

type progressModel struct {
	mode     TransferMode
	src      *latest
	snap     transfer.Snapshot
	seen     bool
	bar      progress.Model
	spinner  spinner.Model
	cancel   func()
	quitting bool
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(40, msg.Width-40))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		m.snap, m.seen = m.src.get()
		if m.snap.Done {
			return m, tea.Quit
		}
		return m, tick()
	}
	return m, nil
}

func (m *progressModel) View() string {
	if m.quitting {
		return ""
	}

	icon, verb := IconSend, "Sending"
	if m.mode == ModeReceive {
		icon, verb = IconReceive, "Receiving"
	}

	var b strings.Builder
	if !m.seen {
		fmt.Fprintf(&b, "%s %s %s\n", icon, m.spinner.View(), "Waiting for the first file...")
		return b.String()
	}

	s := m.snap
	fileIcon := m.spinner.View()
	if s.FileProgress >= 100 {
		fileIcon = IconSuccess
	}
	fmt.Fprintf(&b, "%s %s %s\n\n", icon, BoldStyle.Render(verb), MutedStyle.Render(fmt.Sprintf("file %d of %d", s.FileIndex, s.TotalFiles)))
	fmt.Fprintf(&b, "  %s %s %3d%%\n", fileIcon, utils.TruncateString(s.FileName, 40), s.FileProgress)
	fmt.Fprintf(&b, "  %s %3d%%", m.bar.ViewAs(float64(s.Progress)/100), s.Progress)
	b.WriteString(MutedStyle.Render(rateLine(s)))
	b.WriteString("\n\n" + MutedStyle.Render("Press q to cancel"))
	return b.String()
}

func rateLine(s transfer.Snapshot) string {
	line := fmt.Sprintf("  %s", utils.FormatSize(s.BytesTransferred))
	if s.TotalBytes > 0 {
		line += "/" + utils.FormatSize(s.TotalBytes)
	}
	if s.Throughput > 0 {
		line += "  " + utils.FormatSpeed(s.Throughput)
	}
	if s.HasETA && !s.Done {
		line += "  ETA " + utils.FormatTimeDuration(s.ETA)
	}
	return line
}

// Progress shows a running batch. On a terminal it is a live view,
// otherwise a line per file and per ten percent.
type Progress struct {
	mode   TransferMode
	src    *latest
	cancel func()

	program *tea.Program
	wg      sync.WaitGroup

	plainMu    sync.Mutex
	lastFile   int
	lastDecile int
}

// NewProgress prepares the view. cancel is called when the user quits.
func NewProgress(mode TransferMode, cancel func()) *Progress {
	return &Progress{mode: mode, src: &latest{}, cancel: cancel, lastDecile: -1}
}

// Start runs the live view until the batch is done or Stop is called.
func (p *Progress) Start(ctx context.Context) {
	if !IsTerminal() {
		return
	}

	bar := progress.New(
		progress.WithGradient(ProgressStart, ProgressEnd),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	p.program = tea.NewProgram(&progressModel{
		mode:    p.mode,
		src:     p.src,
		bar:     bar,
		spinner: s,
		cancel:  p.cancel,
	}, tea.WithContext(ctx))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.program.Run(); err != nil && ctx.Err() == nil {
			PrintWarningf("display error: %v", err)
		}
	}()
}

// Observe is the transfer observer. It never blocks.
func (p *Progress) Observe(s transfer.Snapshot) {
	p.src.set(s)
	if p.program == nil {
		p.plain(s)
	}
}

// Stop waits for the live view to draw its last frame.
func (p *Progress) Stop() {
	if p.program == nil {
		return
	}
	if s, _ := p.src.get(); !s.Done {
		p.program.Quit()
	}
	p.wg.Wait()
}

func (p *Progress) plain(s transfer.Snapshot) {
	p.plainMu.Lock()
	defer p.plainMu.Unlock()

	if s.FileIndex != p.lastFile {
		p.lastFile = s.FileIndex
		fmt.Printf("%s [%d/%d] %s (%s)\n", IconFile, s.FileIndex, s.TotalFiles, s.FileName, utils.FormatSize(s.FileSize))
	}
	if decile := s.Progress / 10; decile != p.lastDecile {
		p.lastDecile = decile
		fmt.Printf("  %3d%%%s\n", s.Progress, rateLine(s))
	}
}
