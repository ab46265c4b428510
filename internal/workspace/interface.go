package workspace

import (
	"context"
	"errors"
	"io"
)

// DefaultBaseDir is where task workspaces live unless configured otherwise.
const DefaultBaseDir = "/tmp/automa/tasks"

// TokenFile is the proposal token file name inside the workspace's .git
// directory. git ignores unknown files there, so the token never shows up in
// a diff.
const TokenFile = "automa_proposal_token"

// ErrTokenNotFound is returned by ReadToken when no usable token is stored.
var ErrTokenNotFound = errors.New("proposal token not found")

// Workspace describes the extracted code of one task.
type Workspace struct {
	TaskID  int64
	Dir     string
	Archive ArchiveInfo
}

// ArchiveInfo summarizes an extracted archive stream.
type ArchiveInfo struct {
	// Digest is the hex BLAKE3-256 of the raw (possibly compressed) stream.
	Digest  string
	Bytes   int64
	Entries int
}

// Extractor unpacks an archive stream into dest.
//
// Implementations must drain r completely and report truncated or corrupt
// input as an error. dest may be partially populated when an error is
// returned.
type Extractor interface {
	Extract(ctx context.Context, r io.Reader, dest string) (ArchiveInfo, error)
}

// Manager owns the lifecycle of task workspaces.
//
// Managers do no locking: concurrent calls for the same task id race on the
// same directory. Calls for different task ids are independent.
type Manager interface {
	// Path returns the workspace directory for taskID. It touches nothing.
	Path(taskID int64) string

	// Cleanup removes the workspace. A missing workspace is an error unless
	// MissingOK is passed.
	Cleanup(ctx context.Context, taskID int64, opts ...CleanupOption) error

	// Extract replaces the workspace with the contents of the archive r.
	Extract(ctx context.Context, taskID int64, r io.Reader) (Workspace, error)

	// StoreToken persists the proposal token, overwriting any previous one.
	StoreToken(ctx context.Context, taskID int64, token string) error

	// ReadToken returns the stored proposal token or ErrTokenNotFound.
	ReadToken(ctx context.Context, taskID int64) (string, error)
}

type cleanupOptions struct {
	missingOK bool
}

// CleanupOption tunes Cleanup.
type CleanupOption func(*cleanupOptions)

// MissingOK makes Cleanup succeed when the workspace does not exist.
func MissingOK() CleanupOption {
	return func(o *cleanupOptions) { o.missingOK = true }
}
