package tui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

const maxBarWidth = 50

// ProgressMsg carries a byte-count update from the running operation.
type ProgressMsg struct {
	Done  int64
	Total int64
}

// FinishedMsg ends the progress display.
type FinishedMsg struct {
	Err error
}

// ProgressModel shows a spinner and a progress bar for one operation.
type ProgressModel struct {
	title     string
	spinner   spinner.Model
	bar       progress.Model
	done      int64
	total     int64
	startTime time.Time
	finished  bool
	err       error
}

// NewProgressModel creates a progress display titled title.
func NewProgressModel(title string) ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return ProgressModel{
		title:     title,
		spinner:   s,
		bar:       progress.New(progress.WithGradient(string(primaryColor), string(accentColor)), progress.WithWidth(maxBarWidth)),
		startTime: time.Now(),
	}
}

// Init starts the spinner.
func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages for the progress model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(msg.Width-20, maxBarWidth)
		if m.bar.Width < 10 {
			m.bar.Width = 10
		}
		return m, nil

	case ProgressMsg:
		m.done, m.total = msg.Done, msg.Total
		return m, nil

	case FinishedMsg:
		m.finished = true
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// Percent returns the completed fraction, or 0 when the total is unknown.
func (m ProgressModel) Percent() float64 {
	if m.total <= 0 {
		return 0
	}
	p := float64(m.done) / float64(m.total)
	if p > 1 {
		p = 1
	}
	return p
}

// View renders the progress model.
func (m ProgressModel) View() string {
	elapsed := time.Since(m.startTime).Round(time.Second)

	if m.finished {
		if m.err != nil {
			return errorTextStyle.Render(fmt.Sprintf("✗ %s failed: %v", m.title, m.err)) + "\n"
		}
		return successTextStyle.Render(fmt.Sprintf("✓ %s done (%s, %s)", m.title, humanize.IBytes(uint64(m.done)), elapsed)) + "\n"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), titleStyle.Render(m.title)))
	if m.total > 0 {
		b.WriteString("  ")
		b.WriteString(m.bar.ViewAs(m.Percent()))
		b.WriteString("\n")
	}
	b.WriteString(mutedTextStyle.Render(fmt.Sprintf("  %s of %s  %s",
		humanize.IBytes(uint64(m.done)), humanize.IBytes(uint64(m.total)), elapsed)))
	b.WriteString("\n")
	return b.String()
}

// Reporter drives a ProgressModel from a progress callback. The display
// starts on the first update, so a Reporter that never receives one
// prints nothing.
type Reporter struct {
	title string
	opts  []tea.ProgramOption

	mu      sync.Mutex
	program *tea.Program
	exited  chan struct{}
}

// NewReporter creates a reporter for an operation titled title.
func NewReporter(title string, opts ...tea.ProgramOption) *Reporter {
	return &Reporter{title: title, opts: opts}
}

// Update records progress. Its signature matches types.ProgressFunc.
func (r *Reporter) Update(done, total int64) {
	r.mu.Lock()
	if r.program == nil {
		r.program = tea.NewProgram(NewProgressModel(r.title), r.opts...)
		r.exited = make(chan struct{})
		go func(p *tea.Program, exited chan struct{}) {
			defer close(exited)
			_, _ = p.Run()
		}(r.program, r.exited)
	}
	p := r.program
	r.mu.Unlock()

	p.Send(ProgressMsg{Done: done, Total: total})
}

// Finish stops the display, showing err if the operation failed, and
// waits for the terminal to be released.
func (r *Reporter) Finish(err error) {
	r.mu.Lock()
	p, exited := r.program, r.exited
	r.mu.Unlock()
	if p == nil {
		return
	}
	p.Send(FinishedMsg{Err: err})
	<-exited
}
