package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CLIDiffer computes workspace diffs with `git diff`.
type CLIDiffer struct {
	binary string
	pool   *Pool
}

// NewCLIDiffer returns a differ that runs binary (default "git") through pool.
// pool may be nil.
func NewCLIDiffer(binary string, pool *Pool) *CLIDiffer {
	if strings.TrimSpace(binary) == "" {
		binary = "git"
	}
	return &CLIDiffer{binary: binary, pool: pool}
}

// Diff returns the unified diff of unstaged changes to tracked files in dir,
// exactly as `git diff` prints it. A clean tree yields "".
func (d *CLIDiffer) Diff(ctx context.Context, dir string) (string, error) {
	var out string
	err := d.pool.Run(ctx, func() error {
		var err error
		out, err = runGit(ctx, d.binary, dir, "diff", "--no-color", "--no-ext-diff")
		if err != nil {
			return fmt.Errorf("git diff in %s: %w", dir, err)
		}
		return nil
	})
	return out, err
}

// runGit executes a git command and returns its stdout. stderr is folded into
// the error.
func runGit(ctx context.Context, binary, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w", msg, err)
		}
		return "", err
	}
	return stdout.String(), nil
}
