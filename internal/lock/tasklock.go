// Package lock provides an advisory per-task lock so that separate CLI
// invocations do not operate on the same workspace at once.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// ErrLocked is returned when another process holds the task lock.
var ErrLocked = errors.New("task is locked by another process")

// TaskLock is a lock file held with flock(2).
// Keep the lock alive by keeping the file descriptor open.
type TaskLock struct {
	path string
	f    *os.File
}

// AcquireTaskLock takes an exclusive non-blocking lock on <dir>/task-<id>.lock,
// writes the current PID into the file and returns a handle that must be
// released.
func AcquireTaskLock(dir string, taskID int64) (*TaskLock, error) {
	if dir == "" {
		return nil, fmt.Errorf("lock directory is empty")
	}
	if taskID <= 0 {
		return nil, fmt.Errorf("invalid task id %d", taskID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lockPath := filepath.Join(dir, "task-"+strconv.FormatInt(taskID, 10)+".lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: task %d (%s)", ErrLocked, taskID, lockPath)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	fail := func(step string, err error) (*TaskLock, error) {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	if err := f.Truncate(0); err != nil {
		return fail("truncate lock file", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fail("seek lock file", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fail("write pid", err)
	}

	return &TaskLock{path: lockPath, f: f}, nil
}

func (l *TaskLock) Path() string { return l.path }

// Release drops the lock. The lock file is left in place.
func (l *TaskLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
