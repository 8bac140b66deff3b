package tui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func press(m tea.Model, key string) (ConfirmModel, tea.Cmd) {
	var msg tea.KeyMsg
	switch key {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, cmd := m.Update(msg)
	return next.(ConfirmModel), cmd
}

func TestConfirmModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key      string
		answered bool
		accepted bool
	}{
		{"y", true, true},
		{"Y", true, true},
		{"n", true, false},
		{"enter", true, false},
		{"esc", true, false},
		{"x", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Parallel()
			m, cmd := press(NewConfirmModel("Uninstall", []string{"copy ~/.zshrc"}), tt.key)
			assert.Equal(t, tt.answered, m.Answered())
			assert.Equal(t, tt.accepted, m.Accepted())
			assert.Equal(t, tt.answered, cmd != nil, "answer quits the program")
		})
	}
}

func TestConfirmModel_View(t *testing.T) {
	t.Parallel()

	m := NewConfirmModel("Restoration plan", []string{"copy ~/.zshrc", "remove ~/.zshenv"}).
		WithWarning("no snapshot will be taken")
	view := m.View()
	assert.Contains(t, view, "Restoration plan")
	assert.Contains(t, view, "remove ~/.zshenv")
	assert.Contains(t, view, "no snapshot will be taken")
	assert.Contains(t, view, "Proceed?")

	m, _ = press(m, "y")
	assert.Contains(t, m.View(), "Confirmed.")
}

func TestProgressModel(t *testing.T) {
	t.Parallel()

	m := NewProgressModel("Creating snapshot")
	assert.Zero(t, m.Percent())

	next, _ := m.Update(ProgressMsg{Done: 512, Total: 1024})
	m = next.(ProgressModel)
	assert.InDelta(t, 0.5, m.Percent(), 0.001)
	assert.Contains(t, m.View(), "Creating snapshot")
	assert.Contains(t, m.View(), "512 B of 1.0 KiB")

	next, _ = m.Update(ProgressMsg{Done: 4096, Total: 1024})
	assert.Equal(t, 1.0, next.(ProgressModel).Percent())

	next, cmd := m.Update(FinishedMsg{})
	assert.NotNil(t, cmd)
	assert.Contains(t, next.View(), "Creating snapshot done")

	next, _ = m.Update(FinishedMsg{Err: errors.New("disk full")})
	assert.Contains(t, next.View(), "disk full")
}

func TestReporter_FinishWithoutUpdate(t *testing.T) {
	t.Parallel()

	r := NewReporter("idle")
	r.Finish(nil)
}
