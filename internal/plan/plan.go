package plan

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dmeworks/schemashift/internal/audit"
	"github.com/dmeworks/schemashift/internal/ddl"
	"github.com/dmeworks/schemashift/internal/levels"
	"github.com/dmeworks/schemashift/internal/naming"
	"github.com/dmeworks/schemashift/internal/schema"
)

// RenamePlan is one proposed rename. A plan with Status ERROR is never
// executed.
type RenamePlan struct {
	Schema     string       `json:"schema" yaml:"schema"`
	SourceName string       `json:"source_name" yaml:"source_name"`
	TargetName string       `json:"target_name" yaml:"target_name"`
	Level      int          `json:"level" yaml:"level"`
	Status     audit.Status `json:"status" yaml:"status"`
	Reason     string       `json:"reason,omitempty" yaml:"reason,omitempty"`
	Rule       string       `json:"rule,omitempty" yaml:"rule,omitempty"`
}

// Command returns the rename statement for the plan.
func (p RenamePlan) Command() ddl.RenameCommand {
	return ddl.RenameCommand{Schema: p.Schema, From: p.SourceName, To: p.TargetName}
}

// Superseded is a table whose target name is already taken by its
// new-convention twin. It is a candidate for backup and drop.
type Superseded struct {
	Schema string `json:"schema" yaml:"schema"`
	Table  string `json:"table" yaml:"table"`
	Twin   string `json:"twin" yaml:"twin"`
}

// Batch is the result of planning one run.
type Batch struct {
	RunID      string        `json:"run_id" yaml:"run_id"`
	Plans      []RenamePlan  `json:"plans" yaml:"plans"`
	Superseded []Superseded  `json:"superseded,omitempty" yaml:"superseded,omitempty"`
	Skipped    []string      `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Entries    []audit.Entry `json:"entries" yaml:"entries"`
}

// Ready returns the plans that may be executed.
func (b *Batch) Ready() []RenamePlan {
	var out []RenamePlan
	for _, p := range b.Plans {
		if p.Status == audit.StatusReady {
			out = append(out, p)
		}
	}
	return out
}

// Planner turns a catalog into a rename batch.
type Planner struct {
	Naming *naming.Transformer
	Logger *slog.Logger

	// Now and NewRunID are overridable for tests.
	Now      func() time.Time
	NewRunID func() string
}

// NewPlanner creates a Planner with the given naming rules.
func NewPlanner(n *naming.Transformer, logger *slog.Logger) *Planner {
	if n == nil {
		n = naming.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{Naming: n, Logger: logger, Now: time.Now, NewRunID: uuid.NewString}
}

// Plan computes a rename plan for every non-compliant table in the given
// schemas (all user schemas when none are given). Plans are ordered by
// schema, then dependency level, then name. A NOT NULL foreign key cycle
// returns *levels.CycleError.
func (p *Planner) Plan(cat *schema.Catalog, schemas ...string) (*Batch, error) {
	if len(schemas) == 0 {
		schemas = cat.Schemas()
	}
	batch := &Batch{RunID: p.NewRunID()}
	now := p.Now().UTC()

	for _, s := range schemas {
		if schema.IsSystemSchema(s) {
			continue
		}
		tables := cat.InSchema(s)
		if len(tables) == 0 {
			continue
		}
		lv, err := levels.Compute(tables)
		if err != nil {
			var cycle *levels.CycleError
			if errors.As(err, &cycle) {
				p.Logger.Error("dependency cycle", "schema", s, "tables", cycle.Tables)
			}
			return nil, fmt.Errorf("ordering schema %s: %w", s, err)
		}

		plans := p.schemaPlans(cat, s, tables, lv, batch)
		claimed := make(map[string]string)
		for i := range plans {
			pl := &plans[i]
			if pl.Status == audit.StatusReady {
				if first, dup := claimed[pl.TargetName]; dup {
					err := &NameCollisionError{Schema: s, OldName: pl.SourceName, NewName: pl.TargetName}
					pl.Status = audit.StatusError
					pl.Reason = fmt.Sprintf("%v (first claimed by %s)", err, first)
				} else {
					claimed[pl.TargetName] = pl.SourceName
				}
			}
			batch.Entries = append(batch.Entries, preValidationEntry(batch.RunID, *pl, now))
			if pl.Rule == naming.RuleIrregular {
				batch.Entries = append(batch.Entries, audit.Entry{
					RunID:          batch.RunID,
					SchemaName:     s,
					OldName:        pl.SourceName,
					NewName:        pl.TargetName,
					ValidationType: audit.TypePluralizationCheck,
					Message:        fmt.Sprintf("irregular plural %s -> %s, confirm before executing", pl.SourceName, pl.TargetName),
					Status:         audit.StatusWarning,
					CreatedAt:      now,
				})
			}
		}
		batch.Plans = append(batch.Plans, plans...)
	}

	sum := audit.Summarize(batch.Entries)
	p.Logger.Info("rename plan computed",
		"run_id", batch.RunID,
		"plans", len(batch.Plans),
		"ready", sum.Ready,
		"errors", sum.Error,
		"warnings", sum.Warning,
		"skipped", len(batch.Skipped),
		"superseded", len(batch.Superseded))
	return batch, nil
}

func (p *Planner) schemaPlans(cat *schema.Catalog, s string, tables []schema.Table, lv *levels.Plan, batch *Batch) []RenamePlan {
	var plans []RenamePlan
	for _, t := range tables {
		pl := RenamePlan{Schema: s, SourceName: t.Name, Level: lv.LevelOf(t.QualifiedName())}

		target, err := p.Naming.Transform(t.Name)
		if err != nil {
			pl.Status = audit.StatusError
			pl.Reason = err.Error()
			plans = append(plans, pl)
			continue
		}
		if target == t.Name {
			batch.Skipped = append(batch.Skipped, t.QualifiedName())
			continue
		}
		pl.TargetName = target
		pl.Rule, _ = p.Naming.Rule(t.Name)

		v := Check(s, t.Name, target, cat)
		pl.Status = v.Status
		pl.Reason = v.Reason()
		var collision *NameCollisionError
		if errors.As(v.Err, &collision) && collision.TableTwin() {
			batch.Superseded = append(batch.Superseded, Superseded{Schema: s, Table: t.Name, Twin: target})
		}
		plans = append(plans, pl)
	}

	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].Level != plans[j].Level {
			return plans[i].Level < plans[j].Level
		}
		return plans[i].SourceName < plans[j].SourceName
	})
	return plans
}

func preValidationEntry(runID string, pl RenamePlan, now time.Time) audit.Entry {
	msg := pl.Reason
	if pl.Status == audit.StatusReady {
		msg = fmt.Sprintf("ready to rename %s to %s", pl.SourceName, pl.TargetName)
	}
	return audit.Entry{
		RunID:          runID,
		SchemaName:     pl.Schema,
		OldName:        pl.SourceName,
		NewName:        pl.TargetName,
		ValidationType: audit.TypePreValidation,
		Message:        msg,
		Status:         pl.Status,
		CreatedAt:      now,
	}
}
