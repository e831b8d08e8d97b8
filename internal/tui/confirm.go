package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// ConfirmModel asks the operator to type a phrase before a destructive
// operation proceeds.
type ConfirmModel struct {
	title      string
	items      []string
	statements []string
	phrase     string

	input         textinput.Model
	showStatement bool
	mismatch      bool
	confirmed     bool
	cancelled     bool
	height        int
}

// NewConfirmModel lists items, optionally shows the statements that will
// run, and accepts only when the typed text equals phrase.
func NewConfirmModel(title string, items, statements []string, phrase string) ConfirmModel {
	ti := textinput.New()
	ti.Placeholder = phrase
	ti.CharLimit = 128
	ti.Width = 40
	ti.Focus()

	return ConfirmModel{
		title:      title,
		items:      items,
		statements: statements,
		phrase:     phrase,
		input:      ti,
		height:     24,
	}
}

func (m ConfirmModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m ConfirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			return m, tea.Quit
		case tea.KeyTab:
			m.showStatement = !m.showStatement
			return m, nil
		case tea.KeyEnter:
			if strings.TrimSpace(m.input.Value()) == m.phrase {
				m.confirmed = true
				return m, tea.Quit
			}
			m.mismatch = true
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.mismatch = false
	return m, cmd
}

func (m ConfirmModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	for _, it := range m.items {
		b.WriteString("  " + highlightStyle.Render(it) + "\n")
	}

	b.WriteString("\n")
	if m.showStatement {
		maxLines := m.height - len(m.items) - 12
		if maxLines < 5 {
			maxLines = 5
		}
		for i, s := range m.statements {
			if i >= maxLines {
				b.WriteString(dimStyle.Render(fmt.Sprintf("  ... (%d more statements)", len(m.statements)-maxLines)))
				b.WriteString("\n")
				break
			}
			b.WriteString(dimStyle.Render("  "+s) + "\n")
		}
	} else if len(m.statements) > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  Press tab to view the %d statements", len(m.statements))))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(errStyle.Render("  WARNING: the tables above will be dropped after their backup is verified."))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "  Type %s to continue:\n  %s\n", highlightStyle.Render(m.phrase), m.input.View())
	if m.mismatch {
		b.WriteString(errStyle.Render("  That does not match."))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("  tab: toggle statements  enter: confirm  esc: cancel"))
	return b.String()
}

// Confirmed returns true if the operator typed the phrase and pressed enter.
func (m ConfirmModel) Confirmed() bool {
	return m.confirmed
}

// Cancelled returns true if the operator cancelled.
func (m ConfirmModel) Cancelled() bool {
	return m.cancelled
}

// Confirm runs the prompt on the terminal and reports whether the operator
// confirmed.
func Confirm(title string, items, statements []string, phrase string) (bool, error) {
	final, err := tea.NewProgram(NewConfirmModel(title, items, statements, phrase)).Run()
	if err != nil {
		return false, fmt.Errorf("running confirmation prompt: %w", err)
	}
	return final.(ConfirmModel).Confirmed(), nil
}
