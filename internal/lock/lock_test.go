package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "schemashift.lock")

	if err := Acquire(path, "execute-rename", "dmeworks@db1:5432"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h, alive, err := Read(path)
	if err != nil || !alive || h == nil {
		t.Fatalf("Read = %+v, %v, %v", h, alive, err)
	}
	if h.PID != os.Getpid() || h.Command != "execute-rename" || h.Target != "dmeworks@db1:5432" || h.AcquiredAt.IsZero() {
		t.Errorf("holder = %+v", h)
	}
	// re-entrant for the owning process
	if err := Acquire(path, "backup-and-drop", "dmeworks@db1:5432"); err != nil {
		t.Errorf("second Acquire by owner: %v", err)
	}
	if h, _, _ := Read(path); h.Command != "backup-and-drop" {
		t.Errorf("holder after re-acquire = %+v", h)
	}

	if err := Release(path); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := Release(path); err != nil {
		t.Errorf("Release of a missing lock: %v", err)
	}
	if h, alive, err := Read(path); h != nil || alive || err != nil {
		t.Errorf("Read after release = %+v, %v, %v", h, alive, err)
	}
}

func TestAcquire_HeldByOtherProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schemashift.lock")
	// the parent of the test binary is alive for the duration of the test
	content := fmt.Sprintf("pid: %d\ncommand: build-levels\ntarget: dmeworks@db1:5432\n", os.Getppid())
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	err := Acquire(path, "execute-rename", "dmeworks@db1:5432")
	var held *HeldError
	if !errors.As(err, &held) || held.Holder.PID != os.Getppid() {
		t.Fatalf("expected HeldError, got %v", err)
	}
	if !strings.Contains(err.Error(), "build-levels on dmeworks@db1:5432") {
		t.Errorf("error should name the holder: %v", err)
	}
}

func TestAcquire_StaleLock(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unparsable", "not: [valid"},
		{"dead process", "pid: -1\ncommand: prune-log\n"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "schemashift.lock")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if err := Acquire(path, "execute-rename", ""); err != nil {
				t.Fatalf("stale lock should be taken over: %v", err)
			}
			if h, _, _ := Read(path); h == nil || h.PID != os.Getpid() {
				t.Errorf("holder = %+v", h)
			}
		})
	}
}

func TestHolderString(t *testing.T) {
	h := Holder{PID: 42, Command: "verify"}
	if got := h.String(); got != "PID 42, verify" {
		t.Errorf("String = %q", got)
	}
}
