package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dmeworks/schemashift/internal/audit"
	"github.com/dmeworks/schemashift/internal/config"
	"github.com/dmeworks/schemashift/internal/database"
	"github.com/dmeworks/schemashift/internal/ddl"
	"github.com/dmeworks/schemashift/internal/schema"
	"github.com/dmeworks/schemashift/internal/state"
)

const legacySQL = `
CREATE TABLE dmeworks.tbl_doctortype (
	id integer PRIMARY KEY,
	name varchar(50) NOT NULL
);
CREATE TABLE dmeworks.tbl_doctor (
	id integer PRIMARY KEY,
	type_id integer NOT NULL REFERENCES dmeworks.tbl_doctortype(id),
	name text
);
CREATE TABLE dmeworks.tbl_patient (
	id integer PRIMARY KEY,
	doctor_id integer REFERENCES dmeworks.tbl_doctor(id)
);
CREATE TABLE dmeworks.patients (
	id integer PRIMARY KEY
);
`

func testEngine(t *testing.T) *Engine {
	t.Helper()
	tmpDir := t.TempDir()
	cfg := config.Default()
	cfg.Migration.TargetSchema = "dmeworks"
	e := New(cfg, slog.Default())
	e.statePath = filepath.Join(tmpDir, "state.yaml")
	return e
}

func legacyCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	cat, err := ddl.ParseScript(legacySQL, "public")
	if err != nil {
		t.Fatalf("ParseScript: %v", err)
	}
	for i := range cat.Tables {
		cat.Tables[i].RowCount = 10
	}
	return cat
}

func memoryEngine(t *testing.T) (*Engine, *database.Memory, *audit.MemoryRepository) {
	t.Helper()
	e := testEngine(t)
	db := database.NewMemory(legacyCatalog(t))
	repo := audit.NewMemoryRepository()
	e.Use(db, repo)
	return e, db, repo
}

func TestNew(t *testing.T) {
	cfg := config.Default()
	cfg.Migration.PrefixToRemove = "old_"
	e := New(cfg, nil)
	if e.Config != cfg {
		t.Error("Config not set")
	}
	if e.Logger == nil {
		t.Error("Logger not set")
	}
	if e.Naming.Prefix() != "old_" {
		t.Errorf("naming prefix = %q", e.Naming.Prefix())
	}
}

func TestLoadState_Fresh(t *testing.T) {
	e := testEngine(t)
	st, err := e.LoadState()
	if err != nil {
		t.Fatalf("LoadState error: %v", err)
	}
	if st.Next() != state.StepPlan {
		t.Errorf("Next = %q, want %q", st.Next(), state.StepPlan)
	}
	if e.State != st {
		t.Error("engine.State not set after LoadState")
	}
}

func TestSaveState_NoState(t *testing.T) {
	e := testEngine(t)
	if err := e.SaveState(); err == nil {
		t.Error("expected error saving nil state")
	}
}

func TestRecordStep(t *testing.T) {
	e := testEngine(t)
	e.RecordStep(state.StepRename, "run-1", nil)

	st, err := state.Load(e.statePath)
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsStepComplete(state.StepRename) || st.LastRunID != "run-1" {
		t.Errorf("state = %+v", st)
	}
}

func TestRecordStep_DryRunLeavesStateAlone(t *testing.T) {
	e := testEngine(t)
	e.DryRun(legacyCatalog(t))
	e.RecordStep(state.StepRename, "run-1", nil)
	if _, err := os.Stat(e.statePath); !os.IsNotExist(err) {
		t.Errorf("state file written during dry run: %v", err)
	}
}

func TestPlanRename(t *testing.T) {
	e, _, repo := memoryEngine(t)
	ctx := context.Background()

	batch, err := e.PlanRename(ctx)
	if err != nil {
		t.Fatalf("PlanRename: %v", err)
	}

	var ready []string
	for _, p := range batch.Ready() {
		ready = append(ready, p.SourceName+"->"+p.TargetName)
	}
	want := []string{"tbl_doctortype->doctortypes", "tbl_doctor->doctors"}
	if diff := cmp.Diff(want, ready); diff != "" {
		t.Errorf("ready plans mismatch (-want +got):\n%s", diff)
	}
	if len(batch.Superseded) != 1 || batch.Superseded[0].Table != "tbl_patient" {
		t.Errorf("superseded = %+v", batch.Superseded)
	}

	logged, _ := repo.Entries(ctx, batch.RunID)
	if len(logged) != len(batch.Entries) {
		t.Errorf("logged %d entries, batch has %d", len(logged), len(batch.Entries))
	}
}

func TestExecuteRename_ViewHoldsTargetName(t *testing.T) {
	e := testEngine(t)
	cat := legacyCatalog(t)
	cat.Relations = []schema.Relation{{Schema: "dmeworks", Name: "doctors", Kind: schema.KindView}}
	db := database.NewMemory(cat)
	e.Use(db, audit.NewMemoryRepository())
	ctx := context.Background()

	batch, entries, err := e.ExecuteRename(ctx)
	if err != nil {
		t.Fatalf("ExecuteRename: %v", err)
	}
	for _, p := range batch.Plans {
		if p.SourceName == "tbl_doctor" && p.Status != audit.StatusError {
			t.Errorf("tbl_doctor plan = %+v", p)
		}
	}
	for _, s := range batch.Superseded {
		if s.Table == "tbl_doctor" {
			t.Error("tbl_doctor must not be treated as a duplicate of a view")
		}
	}
	for _, en := range entries {
		if en.ValidationType == audit.TypeRename && en.OldName == "tbl_doctor" && en.Status == audit.StatusSuccess {
			t.Error("tbl_doctor was renamed onto a view")
		}
	}
	if ok, _ := db.TableExists(ctx, "dmeworks", "tbl_doctor"); !ok {
		t.Error("tbl_doctor should be left in place")
	}
}

func TestExecuteRename(t *testing.T) {
	e, db, _ := memoryEngine(t)
	ctx := context.Background()

	batch, entries, err := e.ExecuteRename(ctx)
	if err != nil {
		t.Fatalf("ExecuteRename: %v", err)
	}
	sum := audit.Summarize(entries)
	if sum.Success != 2 || sum.Ready != 2 || sum.Error != 1 {
		t.Errorf("summary = %+v", sum)
	}

	cat, _ := db.Inspect(ctx)
	for _, name := range []string{"doctortypes", "doctors", "tbl_patient", "patients"} {
		if !cat.Has("dmeworks", name) {
			t.Errorf("missing %s after rename", name)
		}
	}
	doc := cat.Lookup("dmeworks", "doctors")
	if doc.ForeignKeys[0].ReferencedTable != "doctortypes" {
		t.Errorf("doctors FK follows rename: %+v", doc.ForeignKeys[0])
	}

	rep := e.Report(batch.RunID, "execute-rename", entries, nil, nil)
	if rep.Status != audit.StatusError {
		t.Errorf("report status = %s", rep.Status)
	}
	if rep.Target.Schema != "dmeworks" {
		t.Errorf("report target = %+v", rep.Target)
	}
}

func TestBackupAndDropSuperseded(t *testing.T) {
	e, db, repo := memoryEngine(t)
	ctx := context.Background()

	targets, runID, err := e.SupersededTargets(ctx)
	if err != nil {
		t.Fatalf("SupersededTargets: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("targets = %+v", targets)
	}

	results, err := e.BackupAndDrop(ctx, runID, targets)
	if err != nil {
		t.Fatalf("BackupAndDrop: %v", err)
	}
	if len(results) != 1 || results[0].Status() != audit.StatusSuccess {
		t.Fatalf("results = %+v", results)
	}

	if ok, _ := db.TableExists(ctx, "dmeworks", "tbl_patient"); ok {
		t.Error("tbl_patient should be dropped")
	}
	bk := results[0].Backup
	if n, err := db.RowCount(ctx, bk.BackupSchema, bk.BackupTable); err != nil || n != 10 {
		t.Errorf("backup rows = %d, %v", n, err)
	}

	backups, _ := repo.Backups(ctx, runID)
	if len(backups) != 1 || backups[0].Status != audit.StatusSuccess {
		t.Errorf("backup log = %+v", backups)
	}
}

func TestRollbackPlan(t *testing.T) {
	e, db, _ := memoryEngine(t)
	ctx := context.Background()

	batch, _, err := e.ExecuteRename(ctx)
	if err != nil {
		t.Fatal(err)
	}
	p, err := e.RollbackPlan(ctx, batch.RunID)
	if err != nil {
		t.Fatalf("RollbackPlan: %v", err)
	}
	if len(p.Renames) != 2 {
		t.Fatalf("renames = %+v", p.Renames)
	}
	// newest first
	if p.Renames[0].From != "doctors" || p.Renames[0].To != "tbl_doctor" {
		t.Errorf("first revert = %+v", p.Renames[0])
	}
	for _, r := range p.Renames {
		if err := db.Rename(ctx, r); err != nil {
			t.Fatalf("revert %s: %v", r.From, err)
		}
	}
	if ok, _ := db.TableExists(ctx, "dmeworks", "tbl_doctortype"); !ok {
		t.Error("tbl_doctortype not restored")
	}
}

func TestRollbackPlan_UnknownRun(t *testing.T) {
	e, _, _ := memoryEngine(t)
	if _, err := e.RollbackPlan(context.Background(), "nope"); err == nil {
		t.Error("expected error for run without entries")
	}
	if _, err := e.RollbackPlan(context.Background(), ""); err == nil {
		t.Error("expected error for empty run id")
	}
}

func TestLevelPlan(t *testing.T) {
	e := testEngine(t)
	cat := legacyCatalog(t)
	cat.Tables = cat.Tables[:3] // without patients

	lp, err := e.LevelPlan(cat, BuildOptions{Rename: true, Schema: "dmeworks"})
	if err != nil {
		t.Fatalf("LevelPlan: %v", err)
	}
	if lp.LevelOf("dmeworks.doctortypes") != 0 || lp.LevelOf("dmeworks.doctors") != 1 {
		t.Errorf("levels: doctortypes=%d doctors=%d",
			lp.LevelOf("dmeworks.doctortypes"), lp.LevelOf("dmeworks.doctors"))
	}
}

func TestLevelPlan_RenameCollision(t *testing.T) {
	e := testEngine(t)
	// tbl_patient and patients both map to patients
	if _, err := e.LevelPlan(legacyCatalog(t), BuildOptions{Rename: true}); err == nil {
		t.Error("expected collision error")
	}
}

func TestBuildLevels(t *testing.T) {
	e := testEngine(t)
	target := database.NewMemory(nil)
	e.Use(target, audit.NewMemoryRepository())

	lp, err := e.LevelPlan(legacyCatalog(t), BuildOptions{Schema: "dmeworks"})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.BuildLevels(context.Background(), lp); err != nil {
		t.Fatalf("BuildLevels: %v", err)
	}
	cat, _ := target.Inspect(context.Background())
	if len(cat.Tables) != 4 {
		t.Errorf("built %d tables", len(cat.Tables))
	}
}

func TestVerify_Offline(t *testing.T) {
	e, _, _ := memoryEngine(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "source.yaml")
	if err := legacyCatalog(t).WriteYAML(path); err != nil {
		t.Fatal(err)
	}

	rep, err := e.Verify(ctx, CatalogSource{File: path}, false, true)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rep.Status != "PASS" || rep.Matched != 4 {
		t.Errorf("report = %s", rep.Summary())
	}

	// after renames the unmapped comparison finds the old names missing
	if _, _, err := e.ExecuteRename(ctx); err != nil {
		t.Fatal(err)
	}
	rep, err = e.Verify(ctx, CatalogSource{File: path}, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Status != "FAIL" || len(rep.Missing) != 2 {
		t.Errorf("report = %s", rep.Summary())
	}

	// mapping through the naming rules matches them again
	rep, err = e.Verify(ctx, CatalogSource{File: path}, true, false)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range rep.Missing {
		if strings.HasPrefix(m.Table, "doctor") {
			t.Errorf("unexpected missing %s", m.FullName)
		}
	}
}

func TestPruneLog(t *testing.T) {
	e, _, repo := memoryEngine(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	e.Config.Migration.LogRetentionDays = 30

	_ = repo.Append(ctx, audit.Entry{RunID: "old", Status: audit.StatusSuccess, CreatedAt: now.AddDate(0, 0, -31)})
	_ = repo.Append(ctx, audit.Entry{RunID: "new", Status: audit.StatusSuccess, CreatedAt: now.AddDate(0, 0, -1)})

	n, err := e.PruneLog(ctx, now)
	if err != nil {
		t.Fatalf("PruneLog: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
}

func TestConnectTarget_Unconfigured(t *testing.T) {
	e := testEngine(t)
	if err := e.ConnectTarget(context.Background()); err == nil {
		t.Error("expected error without target host")
	}
}

func TestLoadCatalog(t *testing.T) {
	e := testEngine(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_tables.sql"), []byte(legacySQL), 0o644); err != nil {
		t.Fatal(err)
	}
	cat, err := e.LoadCatalog(CatalogSource{SQLDir: dir})
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(cat.InSchema("dmeworks")) != 4 {
		t.Errorf("tables = %d", len(cat.Tables))
	}
	if _, err := e.LoadCatalog(CatalogSource{}); err == nil {
		t.Error("expected error with no source")
	}
}

func TestExecuteRollback_LogsUnderNewRun(t *testing.T) {
	e, db, repo := memoryEngine(t)
	ctx := context.Background()

	batch, _, err := e.ExecuteRename(ctx)
	if err != nil {
		t.Fatal(err)
	}
	p, err := e.RollbackPlan(ctx, batch.RunID)
	if err != nil {
		t.Fatal(err)
	}
	res, runID, err := e.ExecuteRollback(ctx, p)
	if err != nil {
		t.Fatalf("ExecuteRollback: %v", err)
	}
	if runID == "" || runID == batch.RunID {
		t.Fatalf("rollback run id = %q", runID)
	}
	if len(res.Reverted) != 2 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if ok, _ := db.TableExists(ctx, "dmeworks", "tbl_doctor"); !ok {
		t.Error("tbl_doctor not reverted")
	}

	logged, _ := repo.Entries(ctx, runID)
	if len(logged) != 2 {
		t.Fatalf("rollback entries = %+v", logged)
	}
	for _, en := range logged {
		if en.ValidationType != audit.TypeRename || en.Status != audit.StatusSuccess {
			t.Errorf("entry = %+v", en)
		}
	}
}
