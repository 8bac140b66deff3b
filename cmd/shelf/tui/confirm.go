package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// ConfirmModel asks a yes/no question about a list of pending actions.
// Anything other than an explicit yes counts as no.
type ConfirmModel struct {
	title    string
	lines    []string
	warning  string
	answered bool
	accepted bool
}

// NewConfirmModel creates a prompt showing title above lines.
func NewConfirmModel(title string, lines []string) ConfirmModel {
	return ConfirmModel{title: title, lines: lines}
}

// WithWarning returns a copy of the model that shows warning under the lines.
func (m ConfirmModel) WithWarning(warning string) ConfirmModel {
	m.warning = warning
	return m
}

// Accepted reports whether the user answered yes.
func (m ConfirmModel) Accepted() bool {
	return m.accepted
}

// Answered reports whether the prompt has finished.
func (m ConfirmModel) Answered() bool {
	return m.answered
}

// Init initializes the model.
func (m ConfirmModel) Init() tea.Cmd {
	return nil
}

// Update handles key presses.
func (m ConfirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "y", "Y":
		m.answered, m.accepted = true, true
		return m, tea.Quit
	case "n", "N", "q", "esc", "enter", "ctrl+c":
		m.answered = true
		return m, tea.Quit
	}
	return m, nil
}

// View renders the prompt.
func (m ConfirmModel) View() string {
	if m.answered {
		if m.accepted {
			return successTextStyle.Render("Confirmed.") + "\n"
		}
		return mutedTextStyle.Render("Cancelled.") + "\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	for _, line := range m.lines {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.warning != "" {
		b.WriteString("\n")
		b.WriteString(warningTextStyle.Render(m.warning))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Proceed? %s yes  %s no",
		keyStyle.Render("[y]"), keyStyle.Render("[N]")))

	return promptBoxStyle.Render(b.String()) + "\n"
}

// Confirm runs the prompt on the terminal and returns the answer.
func Confirm(title string, lines []string, warning string) (bool, error) {
	final, err := tea.NewProgram(NewConfirmModel(title, lines).WithWarning(warning)).Run()
	if err != nil {
		return false, fmt.Errorf("running confirmation prompt: %w", err)
	}
	return final.(ConfirmModel).Accepted(), nil
}
