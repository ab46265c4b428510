package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireTaskLockWritesPID(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "locks")
	l, err := AcquireTaskLock(dir, 28)
	if err != nil {
		t.Fatalf("AcquireTaskLock: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	if got, want := l.Path(), filepath.Join(dir, "task-28.lock"); got != want {
		t.Fatalf("Path() = %q, want %q", got, want)
	}
	b, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		t.Fatalf("expected PID in lock file, got empty")
	}
}

func TestAcquireTaskLockContention(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := AcquireTaskLock(dir, 7)
	if err != nil {
		t.Fatalf("AcquireTaskLock: %v", err)
	}

	// flock locks belong to the open file description, so a second open in
	// the same process conflicts.
	if _, err := AcquireTaskLock(dir, 7); !errors.Is(err, ErrLocked) {
		t.Fatalf("second AcquireTaskLock error = %v, want ErrLocked", err)
	}

	other, err := AcquireTaskLock(dir, 8)
	if err != nil {
		t.Fatalf("lock for a different task: %v", err)
	}
	_ = other.Release()

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := AcquireTaskLock(dir, 7)
	if err != nil {
		t.Fatalf("AcquireTaskLock after release: %v", err)
	}
	_ = again.Release()
}

func TestAcquireTaskLockRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := AcquireTaskLock("", 1); err == nil {
		t.Fatal("expected error for empty dir")
	}
	if _, err := AcquireTaskLock(t.TempDir(), 0); err == nil {
		t.Fatal("expected error for task id 0")
	}
}
