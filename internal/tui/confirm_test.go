package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dmeworks/schemashift/internal/audit"
)

func typeText(m ConfirmModel, s string) ConfirmModel {
	for _, r := range s {
		result, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = result.(ConfirmModel)
	}
	return m
}

func newTestModel() ConfirmModel {
	return NewConfirmModel("Backup and drop",
		[]string{"dmeworks.tbl_customer", "dmeworks.tbl_invoice"},
		[]string{`DROP TABLE "dmeworks"."tbl_customer" CASCADE`},
		"dmeworks")
}

func TestConfirmModel_TypedPhraseConfirms(t *testing.T) {
	m := typeText(newTestModel(), "dmeworks")
	result, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	cm := result.(ConfirmModel)
	if !cm.Confirmed() || cm.Cancelled() {
		t.Errorf("confirmed=%v cancelled=%v", cm.Confirmed(), cm.Cancelled())
	}
	if cmd == nil {
		t.Error("confirming should quit")
	}
}

func TestConfirmModel_WrongPhrase(t *testing.T) {
	m := typeText(newTestModel(), "public")
	result, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	cm := result.(ConfirmModel)
	if cm.Confirmed() {
		t.Error("wrong phrase must not confirm")
	}
	if !strings.Contains(cm.View(), "does not match") {
		t.Error("view should report the mismatch")
	}
}

func TestConfirmModel_EscCancels(t *testing.T) {
	result, _ := newTestModel().Update(tea.KeyMsg{Type: tea.KeyEsc})
	cm := result.(ConfirmModel)
	if !cm.Cancelled() || cm.Confirmed() {
		t.Errorf("confirmed=%v cancelled=%v", cm.Confirmed(), cm.Cancelled())
	}
}

func TestConfirmModel_TabTogglesStatements(t *testing.T) {
	m := newTestModel()
	if strings.Contains(m.View(), "DROP TABLE") {
		t.Error("statements should be hidden initially")
	}
	result, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	cm := result.(ConfirmModel)
	if !strings.Contains(cm.View(), `DROP TABLE "dmeworks"."tbl_customer" CASCADE`) {
		t.Error("tab should show statements")
	}
	if !strings.Contains(cm.View(), "dmeworks.tbl_invoice") {
		t.Error("view should list the tables")
	}
}

func TestSummary(t *testing.T) {
	out := Summary("execute-rename", []audit.Entry{
		{SchemaName: "dmeworks", OldName: "tbl_doctor", NewName: "doctors", Status: audit.StatusSuccess},
		{SchemaName: "dmeworks", OldName: "tbl_region", NewName: "regions", Status: audit.StatusError, Message: "lock timeout"},
	})
	if !strings.Contains(out, "dmeworks.tbl_region -> regions") || !strings.Contains(out, "lock timeout") {
		t.Errorf("summary:\n%s", out)
	}
	if strings.Contains(out, "tbl_doctor") {
		t.Error("SUCCESS entries should not be listed")
	}
}
