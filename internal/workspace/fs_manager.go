package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrInvalidTaskID is returned for task ids that cannot name a workspace.
var ErrInvalidTaskID = errors.New("task id must be positive")

// fsWorkspaceManager manages per-task workspace directories on local disk.
type fsWorkspaceManager struct {
	baseDir   string
	extractor Extractor
}

var _ Manager = (*fsWorkspaceManager)(nil)

// Option configures a filesystem manager.
type Option func(*fsWorkspaceManager)

// WithExtractor replaces the default tar extractor.
func WithExtractor(e Extractor) Option {
	return func(m *fsWorkspaceManager) { m.extractor = e }
}

// NewFSManager creates a filesystem-backed workspace manager rooted at baseDir.
// An empty baseDir selects DefaultBaseDir.
func NewFSManager(baseDir string, opts ...Option) (*fsWorkspaceManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		trimmed = DefaultBaseDir
	}

	m := &fsWorkspaceManager{
		baseDir:   filepath.Clean(trimmed),
		extractor: NewTarExtractor(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.extractor == nil {
		return nil, fmt.Errorf("workspace extractor is nil")
	}
	return m, nil
}

// BaseDir returns the directory holding all task workspaces.
func (m *fsWorkspaceManager) BaseDir() string {
	return m.baseDir
}

// Path returns <baseDir>/<taskID>.
func (m *fsWorkspaceManager) Path(taskID int64) string {
	return filepath.Join(m.baseDir, strconv.FormatInt(taskID, 10))
}

// Cleanup recursively removes the workspace for taskID.
func (m *fsWorkspaceManager) Cleanup(ctx context.Context, taskID int64, opts ...CleanupOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateTaskID(taskID); err != nil {
		return err
	}

	var o cleanupOptions
	for _, opt := range opts {
		opt(&o)
	}

	path := m.Path(taskID)
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) && o.missingOK {
			return nil
		}
		return fmt.Errorf("cleanup workspace for task %d: %w", taskID, err)
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove workspace for task %d: %w", taskID, err)
	}
	return nil
}

// Extract clears any previous workspace for taskID, recreates it and unpacks
// r into it. The directory may be left partially populated on error.
func (m *fsWorkspaceManager) Extract(ctx context.Context, taskID int64, r io.Reader) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	if err := validateTaskID(taskID); err != nil {
		return Workspace{}, err
	}

	path := m.Path(taskID)

	if err := m.Cleanup(ctx, taskID, MissingOK()); err != nil {
		return Workspace{}, err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace for task %d: %w", taskID, err)
	}

	info, err := m.extractor.Extract(ctx, r, path)
	if err != nil {
		return Workspace{}, fmt.Errorf("extract workspace for task %d: %w", taskID, err)
	}

	return Workspace{TaskID: taskID, Dir: path, Archive: info}, nil
}

// StoreToken writes token to .git/automa_proposal_token inside the workspace.
// The .git directory is expected to come from the archive; it is not created.
func (m *fsWorkspaceManager) StoreToken(ctx context.Context, taskID int64, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateTaskID(taskID); err != nil {
		return err
	}

	if err := os.WriteFile(m.tokenPath(taskID), []byte(token), 0o600); err != nil {
		return fmt.Errorf("store proposal token for task %d: %w", taskID, err)
	}
	return nil
}

// ReadToken returns the stored proposal token. Missing, unreadable and empty
// token files all yield ErrTokenNotFound.
func (m *fsWorkspaceManager) ReadToken(ctx context.Context, taskID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateTaskID(taskID); err != nil {
		return "", err
	}

	data, err := os.ReadFile(m.tokenPath(taskID))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenNotFound, err)
	}
	if len(data) == 0 {
		return "", ErrTokenNotFound
	}
	return string(data), nil
}

func (m *fsWorkspaceManager) tokenPath(taskID int64) string {
	return filepath.Join(m.Path(taskID), ".git", TokenFile)
}

func validateTaskID(taskID int64) error {
	if taskID <= 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidTaskID, taskID)
	}
	return nil
}
