package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestEnsureLocalFilesystem(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "nested", "dir", "journal.db")

	var checked string
	err := ensureLocalFilesystem(dbPath, func(path string) (string, error) {
		checked = path
		return "ext4", nil
	})
	if err != nil {
		t.Fatalf("local filesystem rejected: %v", err)
	}
	if checked != root {
		t.Fatalf("checked %q, want nearest existing parent %q", checked, root)
	}
}

func TestEnsureLocalFilesystemRejectsNetworkMounts(t *testing.T) {
	t.Parallel()

	err := ensureLocalFilesystem(filepath.Join(t.TempDir(), "journal.db"), func(string) (string, error) {
		return "NFS", nil
	})
	if !errors.Is(err, ErrNetworkFilesystem) {
		t.Fatalf("error = %v, want ErrNetworkFilesystem", err)
	}
}

func TestEnsureLocalFilesystemUnknownPlatform(t *testing.T) {
	t.Parallel()

	err := ensureLocalFilesystem(t.TempDir(), func(string) (string, error) {
		return "", errors.New("unsupported")
	})
	if err != nil {
		t.Fatalf("detection failure should not block opening: %v", err)
	}
}

func TestOpenSQLiteChecksFilesystem(t *testing.T) {
	orig := detectFS
	detectFS = func(string) (string, error) { return "smb2", nil }
	t.Cleanup(func() { detectFS = orig })

	_, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if !errors.Is(err, ErrNetworkFilesystem) {
		t.Fatalf("OpenSQLite error = %v, want ErrNetworkFilesystem", err)
	}
}
