package lockfile

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireLockWritesHolder(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %s", lock.Path())
	}
	holder, err := ReadHolder(lock.Path())
	if err != nil {
		t.Fatalf("ReadHolder failed: %v", err)
	}
	if holder.PID != os.Getpid() || !holder.Running() || holder.Started.IsZero() {
		t.Errorf("unexpected holder: %+v", holder)
	}
}

func TestLockConflict(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer first.Release()

	second, err := AcquireLock(dir)
	if err == nil {
		second.Release()
		t.Fatal("Second lock acquisition should have failed")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Expected LockError, got: %T", err)
	}
	if lockErr.Holder.PID != os.Getpid() {
		t.Errorf("expected holder pid %d, got %d", os.Getpid(), lockErr.Holder.PID)
	}
	msg := err.Error()
	if !strings.Contains(msg, "another CarPulse bot") || !strings.Contains(msg, dir) {
		t.Errorf("unhelpful error message: %s", msg)
	}

	// The failed attempt must not wipe the holder record.
	if h, _ := ReadHolder(first.Path()); h.PID != os.Getpid() {
		t.Errorf("holder record lost after failed acquisition: %+v", h)
	}
}

func TestReleaseAndReacquire(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Error("lock file should be removed on release")
	}

	again, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Failed to reacquire lock: %v", err)
	}
	again.Release()
}

func TestAcquireLockCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "nested")
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Should be able to create directory and acquire lock: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Directory should have been created: %v", err)
	}
}

func TestParseHolder(t *testing.T) {
	tests := []struct {
		name    string
		content string
		pid     int
		command string
	}{
		{"full record", "pid=12345\ncommand=carpulse\nstarted=2025-03-01T10:00:00Z\n", 12345, "carpulse"},
		{"legacy pid only", "pid=67890\n", 67890, ""},
		{"no pid", "other=info", 0, ""},
		{"empty content", "", 0, ""},
		{"invalid pid", "pid=abc", 0, ""},
		{"no equals", "pid12345", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := parseHolder(bufio.NewScanner(strings.NewReader(tt.content)))
			if h.PID != tt.pid || h.Command != tt.command {
				t.Errorf("parseHolder(%q) = %+v", tt.content, h)
			}
		})
	}
}

func TestHolderString(t *testing.T) {
	if got := (Holder{}).String(); got != "unknown process" {
		t.Errorf("unexpected string for empty holder: %q", got)
	}
	self := Holder{PID: os.Getpid(), Command: "carpulse"}
	if got := self.String(); !strings.Contains(got, "running") || !strings.Contains(got, "carpulse") {
		t.Errorf("unexpected holder string: %q", got)
	}
}
