// Package lock keeps two schemashift processes from changing the same
// database at once.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmeworks/schemashift/internal/config"
)

const DefaultPath = "~/.schemashift/schemashift.lock"

// Holder is the content of the lock file.
type Holder struct {
	PID        int       `yaml:"pid"`
	Command    string    `yaml:"command"`
	Target     string    `yaml:"target,omitempty"`
	AcquiredAt time.Time `yaml:"acquired_at"`
}

func (h Holder) String() string {
	s := fmt.Sprintf("PID %d", h.PID)
	if h.Command != "" {
		s += ", " + h.Command
	}
	if h.Target != "" {
		s += " on " + h.Target
	}
	if !h.AcquiredAt.IsZero() {
		s += " since " + h.AcquiredAt.Format(time.RFC3339)
	}
	return s
}

// HeldError reports a lock owned by another live process.
type HeldError struct {
	Holder Holder
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("another schemashift run holds the lock (%s); only one run may change the database at a time", e.Holder)
}

// Acquire writes the lock file for the current process, recording command
// and target. The owning process may acquire again. A lock left by a
// process that is no longer running, or one that cannot be read, is taken
// over.
func Acquire(path, command, target string) error {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	me := Holder{PID: os.Getpid(), Command: command, Target: target, AcquiredAt: time.Now().UTC()}
	data, err := yaml.Marshal(me)
	if err != nil {
		return fmt.Errorf("encoding lock: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.Write(data)
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			return werr
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("creating lock file: %w", err)
		}

		h, alive, err := Read(path)
		if err != nil {
			return err
		}
		if alive && h.PID != me.PID {
			return &HeldError{Holder: *h}
		}
		// stale, unreadable or our own: replace it
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing stale lock: %w", err)
		}
	}
	return fmt.Errorf("lock %s keeps reappearing", path)
}

// Release removes the lock file.
func Release(path string) error {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Read returns the recorded holder and whether that process is still
// running. A missing file returns nil, false. An unparsable file returns an
// empty holder that is not alive.
func Read(path string) (*Holder, bool, error) {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading lock: %w", err)
	}
	var h Holder
	if err := yaml.Unmarshal(data, &h); err != nil {
		return &Holder{}, false, nil
	}
	return &h, isProcessRunning(h.PID), nil
}

func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
