package workspace

import (
	"archive/tar"
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/blake3"
)

// ErrEmptyArchive is returned when the archive stream has no bytes at all.
var ErrEmptyArchive = errors.New("archive stream is empty")

// TarExtractor unpacks tar streams, gzip-compressed or not.
//
// Compression is detected from the stream's magic bytes rather than from
// the response content type. A plain tar that ends exactly on an entry
// boundary cannot be told apart from a complete one; gzip streams are
// verified by their trailer.
type TarExtractor struct{}

var _ Extractor = TarExtractor{}

// NewTarExtractor returns the default archive extractor.
func NewTarExtractor() TarExtractor {
	return TarExtractor{}
}

// Extract writes the archive entries under dest and drains r.
func (TarExtractor) Extract(ctx context.Context, r io.Reader, dest string) (ArchiveInfo, error) {
	hasher := blake3.New()
	counted := &countingReader{r: io.TeeReader(r, hasher)}
	br := bufio.NewReader(counted)

	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return ArchiveInfo{}, fmt.Errorf("read archive: %w", err)
	}
	if len(magic) == 0 {
		return ArchiveInfo{}, ErrEmptyArchive
	}

	var src io.Reader = br
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return ArchiveInfo{}, fmt.Errorf("open gzip stream: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	root, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return ArchiveInfo{}, fmt.Errorf("resolve workspace %q: %w", dest, err)
	}

	tr := tar.NewReader(src)
	entries := 0
	for {
		if err := ctx.Err(); err != nil {
			return ArchiveInfo{}, err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ArchiveInfo{}, fmt.Errorf("read archive entry: %w", err)
		}

		if err := writeEntry(root, hdr, tr); err != nil {
			return ArchiveInfo{}, err
		}
		entries++
	}

	// Consume trailer blocks and, for gzip, the checksum footer.
	if _, err := io.Copy(io.Discard, src); err != nil {
		return ArchiveInfo{}, fmt.Errorf("drain archive: %w", err)
	}
	if _, err := io.Copy(io.Discard, br); err != nil {
		return ArchiveInfo{}, fmt.Errorf("drain archive: %w", err)
	}

	return ArchiveInfo{
		Digest:  hex.EncodeToString(hasher.Sum(nil)),
		Bytes:   counted.n,
		Entries: entries,
	}, nil
}

// writeEntry writes one archive entry under root, which must already be
// free of symlinks. Every write goes through placeInside, so symlinks
// created by earlier entries cannot redirect it outside root.
func writeEntry(root string, hdr *tar.Header, r io.Reader) error {
	if _, err := resolveInside(root, hdr.Name); err != nil {
		return err
	}

	mode := hdr.FileInfo().Mode().Perm()

	switch hdr.Typeflag {
	case tar.TypeDir:
		if mode == 0 {
			mode = 0o755
		}
		target, err := placeInside(root, hdr.Name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(target, mode|0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", hdr.Name, err)
		}

	case tar.TypeReg:
		if mode == 0 {
			mode = 0o644
		}
		target, err := placeInside(root, hdr.Name)
		if err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
		if err != nil {
			return fmt.Errorf("create file %q: %w", hdr.Name, err)
		}
		if _, err := io.Copy(f, r); err != nil {
			_ = f.Close()
			return fmt.Errorf("write file %q: %w", hdr.Name, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close file %q: %w", hdr.Name, err)
		}
		if !hdr.ModTime.IsZero() {
			_ = os.Chtimes(target, hdr.ModTime, hdr.ModTime)
		}

	case tar.TypeSymlink:
		if filepath.IsAbs(hdr.Linkname) {
			return fmt.Errorf("symlink %q points to absolute path %q", hdr.Name, hdr.Linkname)
		}
		target, err := placeInside(root, hdr.Name)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, filepath.Join(filepath.Dir(target), hdr.Linkname))
		if err != nil {
			return fmt.Errorf("symlink %q: %w", hdr.Name, err)
		}
		if _, err := resolveInside(root, rel); err != nil {
			return fmt.Errorf("symlink %q: %w", hdr.Name, err)
		}
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return fmt.Errorf("create symlink %q: %w", hdr.Name, err)
		}

	case tar.TypeLink:
		source, err := realPath(root, hdr.Linkname)
		if err != nil {
			return fmt.Errorf("hard link %q: %w", hdr.Name, err)
		}
		target, err := placeInside(root, hdr.Name)
		if err != nil {
			return err
		}
		if err := os.Link(source, target); err != nil {
			return fmt.Errorf("create hard link %q: %w", hdr.Name, err)
		}

	default:
		// Devices, fifos and pax/GNU metadata records have no place in a
		// source tree.
	}

	return nil
}

// resolveInside joins name onto root and rejects results outside root.
// It is purely lexical.
func resolveInside(root, name string) (string, error) {
	target := filepath.Join(root, name)
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", fmt.Errorf("resolve archive path %q: %w", name, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive path %q escapes the workspace", name)
	}
	return target, nil
}

// realPath resolves the symlinks in the existing part of root/name and
// rejects the result when it leaves root. Components that do not exist
// yet are appended unresolved.
func realPath(root, name string) (string, error) {
	dir, err := resolveInside(root, name)
	if err != nil {
		return "", err
	}

	var missing []string
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			p := filepath.Join(append([]string{resolved}, missing...)...)
			if _, err := resolveInside(root, mustRel(root, p)); err != nil {
				return "", fmt.Errorf("archive path %q escapes the workspace through a symlink", name)
			}
			return p, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("resolve archive path %q: %w", name, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("resolve archive path %q: %w", name, err)
		}
		missing = append([]string{filepath.Base(dir)}, missing...)
		dir = parent
	}
}

// placeInside prepares the location for a new entry: its parent is
// resolved with realPath and created, and whatever non-directory sits at
// the final name is removed so the write never follows it.
func placeInside(root, name string) (string, error) {
	parent, err := realPath(root, filepath.Dir(filepath.Clean(name)))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("create parent of %q: %w", name, err)
	}

	target := filepath.Join(parent, filepath.Base(filepath.Clean(name)))
	if target == root {
		return target, nil
	}
	if fi, err := os.Lstat(target); err == nil && !fi.IsDir() {
		if err := os.Remove(target); err != nil {
			return "", fmt.Errorf("replace %q: %w", name, err)
		}
	}
	return target, nil
}

func mustRel(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return ".."
	}
	return rel
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
