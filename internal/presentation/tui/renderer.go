package tui

import (
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/store"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// NewRenderer returns a function that renders markdown using glamour.
func NewRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// SnapshotMarkdown renders the execution state as markdown tables.
func SnapshotMarkdown(project string, state domain.ConnectionState, snap store.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", project)
	fmt.Fprintf(&b, "Connection: **%s**\n\n", state)

	b.WriteString("## Workflow\n\n")
	b.WriteString("| Status | Until | Error |\n|---|---|---|\n")
	fmt.Fprintf(&b, "| %s | %s | %s |\n\n", snap.Workflow.Status, cell(snap.Workflow.UntilNodeID), cell(snap.Workflow.Error))

	if ids := snap.ComponentIDs(); len(ids) > 0 {
		b.WriteString("## Components\n\n")
		b.WriteString("| Component | Status | Error |\n|---|---|---|\n")
		for _, id := range ids {
			st := snap.Components[id]
			fmt.Fprintf(&b, "| %s | %s | %s |\n", id, st.Status, cell(st.Error))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Runs\n\n")
	b.WriteString("| Run | Id | Status | Progress | Error |\n|---|---|---|---|---|\n")
	for _, r := range []struct {
		name string
		st   domain.RunState
	}{
		{"Evaluation", snap.Evaluation},
		{"Optimization", snap.Optimization},
	} {
		fmt.Fprintf(&b, "| %s | %s | %s | %d/%d | %s |\n", r.name, cell(r.st.RunID), r.st.Status, r.st.Progress, r.st.Total, cell(r.st.Error))
	}
	return b.String()
}

// cell escapes a value for a table cell. Empty values render as a dash.
func cell(s string) string {
	if s == "" {
		return "-"
	}
	s = strings.ReplaceAll(Sanitize(s), "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
