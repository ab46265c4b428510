package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned when the journal would live on a network
// mount, where SQLite locking is unreliable.
var ErrNetworkFilesystem = errors.New("sqlite journal must be on a local filesystem")

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// fsTypeDetector reports the filesystem type name of an existing path.
type fsTypeDetector func(path string) (string, error)

func ensureLocalFilesystem(path string, detect fsTypeDetector) error {
	existing, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve journal path %q: %w", path, err)
	}

	fsType, err := detect(existing)
	if err != nil {
		// Unknown platforms cannot tell; let SQLite try.
		return nil
	}
	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("%w: %q is on %s; set journal.path (or AUTOMA_JOURNAL_PATH) to a local file",
			ErrNetworkFilesystem, path, fsType)
	}
	return nil
}

// nearestExistingPath walks up from path until it finds something that exists.
func nearestExistingPath(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, ok := networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return ok
}
