package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// PrettyFormatter renders documents with colors and boxes for a terminal.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, d *Document) error {
	w.WriteString(f.formatHeader(d))
	w.WriteString("\n")

	for i, s := range d.Sections {
		if i > 0 {
			w.WriteString("\n")
		}
		w.WriteString(f.formatSection(s))
	}

	if len(d.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatWarnings(d.Warnings))
	}

	if d.Status != "" {
		box, style := StatusBox, SuccessStyle
		if d.Failed {
			box, style = ErrorBox, ErrorStyle
		}
		w.WriteString(box.Render(style.Render(d.Status)))
		w.WriteString("\n")
	}
	return nil
}

func (f *PrettyFormatter) formatHeader(d *Document) string {
	lines := []string{TitleStyle.Render(d.Title)}

	width := 0
	for _, fl := range d.Fields {
		width = max(width, lipgloss.Width(fl.Label)+1)
	}
	for _, fl := range d.Fields {
		label := LabelStyle.Render(padRight(fl.Label+":", width))
		lines = append(lines, fmt.Sprintf("%s %s", label, ValueStyle.Render(fl.Value)))
	}
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatSection(s Section) string {
	var sb strings.Builder
	if s.Title != "" {
		sb.WriteString(SectionStyle.Render(s.Title))
		sb.WriteString("\n")
	}
	if len(s.Rows) == 0 {
		empty := s.Empty
		if empty == "" {
			empty = "none"
		}
		sb.WriteString(MutedStyle.Render("  " + empty))
		sb.WriteString("\n")
		return sb.String()
	}

	widths := columnWidths(s)
	cells := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cells[i] = TableHeaderStyle.Render(padRight(strings.ToUpper(c), widths[i]))
	}
	sb.WriteString("  " + strings.Join(cells, "  ") + "\n")

	for _, row := range s.Rows {
		cells = cells[:0]
		for i := range s.Columns {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			cells = append(cells, ValueStyle.Render(padRight(v, widths[i])))
		}
		sb.WriteString("  " + strings.TrimRight(strings.Join(cells, "  "), " ") + "\n")
	}
	return sb.String()
}

func (f *PrettyFormatter) formatWarnings(warnings []string) string {
	var sb strings.Builder
	sb.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
	sb.WriteString("\n")
	for _, warning := range warnings {
		sb.WriteString(WarningStyle.Render("  " + warning))
		sb.WriteString("\n")
	}
	return sb.String()
}

func columnWidths(s Section) []int {
	widths := make([]int, len(s.Columns))
	for i, c := range s.Columns {
		widths[i] = lipgloss.Width(c)
	}
	for _, row := range s.Rows {
		for i := range widths {
			if i < len(row) {
				widths[i] = max(widths[i], lipgloss.Width(row[i]))
			}
		}
	}
	return widths
}

// padRight pads s with spaces on the right to width display columns.
func padRight(s string, width int) string {
	n := lipgloss.Width(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)
