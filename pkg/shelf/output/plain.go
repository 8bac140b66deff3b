package output

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
)

// PlainFormatter renders documents as unstyled text with tab-aligned
// columns, suitable for scripting and piping.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, d *Document) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if d.Title != "" {
		fmt.Fprintln(tw, d.Title)
	}
	for _, fl := range d.Fields {
		fmt.Fprintf(tw, "%s:\t%s\n", fl.Label, fl.Value)
	}

	for _, s := range d.Sections {
		fmt.Fprintln(tw)
		if s.Title != "" {
			fmt.Fprintln(tw, s.Title)
		}
		if len(s.Rows) == 0 {
			continue
		}
		fmt.Fprintln(tw, strings.ToUpper(strings.Join(s.Columns, "\t")))
		for _, row := range s.Rows {
			fmt.Fprintln(tw, strings.Join(row, "\t"))
		}
	}

	for _, warning := range d.Warnings {
		fmt.Fprintf(tw, "warning: %s\n", warning)
	}
	if d.Status != "" {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, d.Status)
	}
	return tw.Flush()
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)
