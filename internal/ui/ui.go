// Package ui renders command output for the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"

	"github.com/xtreamgames/xsync/internal/engine"
	"github.com/xtreamgames/xsync/internal/record"
)

// Printer writes styled output. Colors are dropped when the writer is not a
// terminal, when NO_COLOR is set, or when the caller disables them.
type Printer struct {
	out io.Writer
	now func() time.Time

	ok    lipgloss.Style
	fail  lipgloss.Style
	warn  lipgloss.Style
	label lipgloss.Style
	dim   lipgloss.Style
	id    lipgloss.Style
}

// NewPrinter creates a Printer for w.
func NewPrinter(w io.Writer, noColor bool) *Printer {
	r := lipgloss.NewRenderer(w)
	if noColor || termenv.EnvNoColor() {
		r.SetColorProfile(termenv.Ascii)
	}

	return &Printer{
		out:   w,
		now:   time.Now,
		ok:    r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		fail:  r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		warn:  r.NewStyle().Foreground(lipgloss.Color("11")),
		label: r.NewStyle().Bold(true).Width(12),
		dim:   r.NewStyle().Faint(true),
		id:    r.NewStyle().Foreground(lipgloss.Color("12")),
	}
}

// Stdout returns a Printer for os.Stdout.
func Stdout(noColor bool) *Printer {
	return NewPrinter(os.Stdout, noColor)
}

// Success prints a confirmation line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.out, p.ok.Render("✓")+" "+fmt.Sprintf(format, args...))
}

// Failure prints an error line.
func (p *Printer) Failure(format string, args ...any) {
	fmt.Fprintln(p.out, p.fail.Render("✗")+" "+fmt.Sprintf(format, args...))
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.out, p.warn.Render("!")+" "+fmt.Sprintf(format, args...))
}

// Field prints an aligned "label value" line.
func (p *Printer) Field(label, value string) {
	fmt.Fprintln(p.out, p.label.Render(label)+value)
}

// Outcome prints the user-facing message of an engine operation followed by
// its details.
func (p *Printer) Outcome(o engine.Outcome) {
	switch o.Status {
	case engine.StatusSucceeded:
		p.Success("%s", o.Message())
	case engine.StatusNothingFound, engine.StatusDegraded, engine.StatusBusy:
		p.Warn("%s", o.Message())
	default:
		p.Failure("%s", o.Message())
	}

	if o.ShareURL != "" {
		p.Field("Link", p.id.Render(o.ShareURL))
	} else if o.BlobID != "" {
		p.Field("Blob", p.id.Render(o.BlobID))
	}
	if o.Merge.Changed() {
		p.Field("Merged", fmt.Sprintf("%d added, %d replaced, %d kept", o.Merge.Added, o.Merge.Replaced, o.Merge.Kept))
	}
	if o.Records > 0 {
		p.Field("Records", fmt.Sprintf("%d", o.Records))
	}
	if o.Err != nil && o.Status != engine.StatusOffline {
		p.Field("Error", p.dim.Render(o.Err.Error()))
	}
}

// Status prints the engine status report.
func (p *Printer) Status(s engine.StatusReport) {
	online := p.ok.Render("online")
	if !s.Online {
		online = p.warn.Render("offline")
	}
	p.Field("State", s.State.String())
	p.Field("Network", online)
	p.Field("Last sync", p.When(s.LastSyncAt))
	cloud := s.CloudID
	if cloud == "" {
		cloud = p.dim.Render("not created yet")
	} else {
		cloud = p.id.Render(cloud)
	}
	p.Field("Cloud ID", cloud)
}

// When renders t relative to now, or "never" for the zero time.
func (p *Printer) When(t time.Time) string {
	if t.IsZero() {
		return p.dim.Render("never")
	}
	return fmt.Sprintf("%s %s", humanize.RelTime(t, p.now(), "ago", "from now"), p.dim.Render("("+t.Local().Format(time.DateTime)+")"))
}

// titleFields are checked in order for a human-readable record label.
var titleFields = []string{"title", "name", "label"}

// Records prints one line per record, newest first.
func (p *Printer) Records(c record.Collection) {
	if len(c) == 0 {
		fmt.Fprintln(p.out, p.dim.Render("No records."))
		return
	}

	sorted := make(record.Collection, len(c))
	copy(sorted, c)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt().After(sorted[j].UpdatedAt())
	})

	for _, r := range sorted {
		line := p.id.Render(r.ID)
		if title := recordTitle(r); title != "" {
			line += "  " + title
		}
		if r.HasUpdatedAt() {
			line += "  " + p.dim.Render(humanize.RelTime(r.UpdatedAt(), p.now(), "ago", "from now"))
		}
		fmt.Fprintln(p.out, line)
	}
	fmt.Fprintln(p.out, p.dim.Render(fmt.Sprintf("%d %s", len(c), plural(len(c), "record", "records"))))
}

func recordTitle(r record.Record) string {
	for _, name := range titleFields {
		raw, ok := r.Field(name)
		if !ok {
			continue
		}
		s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
		if s != "" && s != "null" {
			return s
		}
	}
	return ""
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
