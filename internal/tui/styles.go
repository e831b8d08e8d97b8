package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dmeworks/schemashift/internal/audit"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).BorderStyle(lipgloss.DoubleBorder()).BorderBottom(true).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	readyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

// Badge renders a status in its color.
func Badge(s audit.Status) string {
	label := fmt.Sprintf("%-7s", s)
	switch s {
	case audit.StatusError:
		return errStyle.Render(label)
	case audit.StatusWarning:
		return warnStyle.Render(label)
	case audit.StatusSuccess:
		return successStyle.Render(label)
	case audit.StatusReady:
		return readyStyle.Render(label)
	}
	return label
}

// Summary renders status counts and the ERROR and WARNING entries, the
// block every command prints when it finishes.
func Summary(title string, entries []audit.Entry) string {
	var b strings.Builder
	s := audit.Summarize(entries)

	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "  %s %d   %s %d   %s %d   %s %d\n",
		Badge(audit.StatusReady), s.Ready,
		Badge(audit.StatusSuccess), s.Success,
		Badge(audit.StatusWarning), s.Warning,
		Badge(audit.StatusError), s.Error)

	for _, e := range audit.SortForDisplay(entries) {
		if e.Status != audit.StatusError && e.Status != audit.StatusWarning {
			continue
		}
		name := e.SchemaName + "." + e.OldName
		if e.NewName != "" {
			name += " -> " + e.NewName
		}
		fmt.Fprintf(&b, "  %s %s %s\n", Badge(e.Status), name, dimStyle.Render(e.Message))
	}
	return b.String()
}
