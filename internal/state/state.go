package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmeworks/schemashift/internal/config"
)

const DefaultPath = "~/.schemashift/state.yaml"

// Step is one stage of a migration run.
type Step string

const (
	StepPlan    Step = "plan"
	StepBuild   Step = "build"
	StepRename  Step = "rename"
	StepBackup  Step = "backup"
	StepVerify  Step = "verify"
	StepCleanup Step = "cleanup"
)

// Order is the sequence in which steps normally run.
var Order = []Step{StepPlan, StepBuild, StepRename, StepBackup, StepVerify, StepCleanup}

// State holds the progress of the most recent run.
type State struct {
	LastRunID   string             `yaml:"last_run_id,omitempty"`
	LastUpdated time.Time          `yaml:"last_updated"`
	Steps       map[Step]StepState `yaml:"steps,omitempty"`

	PlanPath    string `yaml:"plan_path,omitempty"`
	ScriptDir   string `yaml:"script_dir,omitempty"`
	ReportPath  string `yaml:"report_path,omitempty"`
	VerifyPath  string `yaml:"verify_path,omitempty"`
	RollbackDir string `yaml:"rollback_dir,omitempty"`
}

// StepState tracks the state of a single step.
type StepState struct {
	Status      string    `yaml:"status"` // complete, failed
	RunID       string    `yaml:"run_id,omitempty"`
	Message     string    `yaml:"message,omitempty"`
	CompletedAt time.Time `yaml:"completed_at,omitempty"`
}

// Load reads the state from disk. A missing file yields a fresh state.
func Load(path string) (*State, error) {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	s := &State{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	if s.Steps == nil {
		s.Steps = make(map[Step]StepState)
	}
	return s, nil
}

// Save writes the state to disk.
func (s *State) Save(path string) error {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	s.LastUpdated = time.Now()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// New creates a fresh state.
func New() *State {
	return &State{
		LastUpdated: time.Now(),
		Steps:       make(map[Step]StepState),
	}
}

// CompleteStep records a successful step for runID. An empty runID keeps
// the last run id.
func (s *State) CompleteStep(step Step, runID string) {
	if runID != "" {
		s.LastRunID = runID
	}
	s.Steps[step] = StepState{Status: "complete", RunID: runID, CompletedAt: time.Now()}
}

// FailStep records a failed step for runID.
func (s *State) FailStep(step Step, runID, message string) {
	if runID != "" {
		s.LastRunID = runID
	}
	s.Steps[step] = StepState{Status: "failed", RunID: runID, Message: message, CompletedAt: time.Now()}
}

// IsStepComplete returns true if the given step has been completed.
func (s *State) IsStepComplete(step Step) bool {
	ss, ok := s.Steps[step]
	return ok && ss.Status == "complete"
}

// Next returns the first step in Order that has not completed, or "" when
// every step is done.
func (s *State) Next() Step {
	for _, st := range Order {
		if !s.IsStepComplete(st) {
			return st
		}
	}
	return ""
}
