package workspace

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

type tarEntry struct {
	name     string
	typeflag byte
	body     string
	linkname string
	mode     int64
}

func buildTar(t *testing.T, entries []tarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		mode := e.mode
		if mode == 0 {
			mode = 0o644
			if e.typeflag == tar.TypeDir {
				mode = 0o755
			}
		}
		hdr := &tar.Header{
			Name:     e.name,
			Typeflag: e.typeflag,
			Mode:     mode,
			Size:     int64(len(e.body)),
			Linkname: e.linkname,
			ModTime:  time.Unix(1700000000, 0),
		}
		if e.typeflag != tar.TypeReg {
			hdr.Size = 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if e.typeflag == tar.TypeReg && e.body != "" {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// taskArchive mirrors what the service sends: the repository root with an
// (empty) .git directory and a README.
func taskArchive(t *testing.T) []byte {
	return buildTar(t, []tarEntry{
		{name: "./", typeflag: tar.TypeDir},
		{name: "./.git/", typeflag: tar.TypeDir},
		{name: "./README.md", typeflag: tar.TypeReg},
	})
}

func newManager(t *testing.T) *fsWorkspaceManager {
	t.Helper()

	mgr, err := NewFSManager(filepath.Join(t.TempDir(), "tasks"))
	require.NoError(t, err)
	return mgr
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNewFSManagerDefaultsBaseDir(t *testing.T) {
	mgr, err := NewFSManager("  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseDir, mgr.BaseDir())
	assert.Equal(t, "/tmp/automa/tasks/28", mgr.Path(28))
}

func TestPathIsPure(t *testing.T) {
	mgr := newManager(t)

	assert.Equal(t, filepath.Join(mgr.BaseDir(), "28"), mgr.Path(28))
	_, err := os.Stat(mgr.BaseDir())
	assert.True(t, os.IsNotExist(err), "Path must not create directories")
}

func TestExtractPlainTar(t *testing.T) {
	mgr := newManager(t)
	archive := taskArchive(t)

	ws, err := mgr.Extract(context.Background(), 28, bytes.NewReader(archive))
	require.NoError(t, err)

	assert.Equal(t, int64(28), ws.TaskID)
	assert.Equal(t, mgr.Path(28), ws.Dir)
	assert.Equal(t, []string{".git", "README.md"}, listDir(t, ws.Dir))
	assert.Equal(t, 3, ws.Archive.Entries)
	assert.Equal(t, int64(len(archive)), ws.Archive.Bytes)

	sum := blake3.Sum256(archive)
	assert.Equal(t, hex.EncodeToString(sum[:]), ws.Archive.Digest)
}

func TestExtractGzipTar(t *testing.T) {
	mgr := newManager(t)
	archive := gzipBytes(t, buildTar(t, []tarEntry{
		{name: "src/", typeflag: tar.TypeDir},
		{name: "src/main.go", typeflag: tar.TypeReg, body: "package main\n"},
		{name: "run.sh", typeflag: tar.TypeReg, body: "#!/bin/sh\n", mode: 0o755},
		{name: "link", typeflag: tar.TypeSymlink, linkname: "src/main.go"},
		{name: "hard", typeflag: tar.TypeLink, linkname: "src/main.go"},
	}))

	ws, err := mgr.Extract(context.Background(), 7, bytes.NewReader(archive))
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(ws.Dir, "src", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(got))

	info, err := os.Stat(filepath.Join(ws.Dir, "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm()&0o755)

	target, err := os.Readlink(filepath.Join(ws.Dir, "link"))
	require.NoError(t, err)
	assert.Equal(t, "src/main.go", target)

	got, err = os.ReadFile(filepath.Join(ws.Dir, "hard"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(got))
}

func TestExtractReplacesPreviousWorkspace(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	_, err := mgr.Extract(ctx, 28, bytes.NewReader(buildTar(t, []tarEntry{
		{name: "old.txt", typeflag: tar.TypeReg, body: "old"},
	})))
	require.NoError(t, err)

	ws, err := mgr.Extract(ctx, 28, bytes.NewReader(taskArchive(t)))
	require.NoError(t, err)

	assert.Equal(t, []string{".git", "README.md"}, listDir(t, ws.Dir))
}

func TestExtractErrors(t *testing.T) {
	full := buildTar(t, []tarEntry{
		{name: "big.txt", typeflag: tar.TypeReg, body: string(bytes.Repeat([]byte("x"), 4096))},
	})
	zipped := gzipBytes(t, full)

	tests := []struct {
		name  string
		input []byte
		is    error
	}{
		{name: "empty stream", input: nil, is: ErrEmptyArchive},
		{name: "truncated tar body", input: full[:1024]},
		{name: "truncated gzip", input: zipped[:len(zipped)-6]},
		{name: "corrupt gzip header", input: []byte{0x1f, 0x8b, 0x00, 0x01}},
		{
			name: "path traversal",
			input: buildTar(t, []tarEntry{
				{name: "../escape.txt", typeflag: tar.TypeReg, body: "nope"},
			}),
		},
		{
			name: "symlink escape",
			input: buildTar(t, []tarEntry{
				{name: "evil", typeflag: tar.TypeSymlink, linkname: "../../etc/passwd"},
			}),
		},
		{
			name: "symlink chain",
			input: buildTar(t, []tarEntry{
				{name: "a/", typeflag: tar.TypeDir},
				{name: "a/b", typeflag: tar.TypeSymlink, linkname: ".."},
				{name: "a/b/c", typeflag: tar.TypeSymlink, linkname: ".."},
				{name: "a/b/c/escape.txt", typeflag: tar.TypeReg, body: "nope"},
			}),
		},
		{
			name: "symlink made to escape by a later entry",
			input: buildTar(t, []tarEntry{
				{name: "s", typeflag: tar.TypeSymlink, linkname: "q/.."},
				{name: "q", typeflag: tar.TypeSymlink, linkname: "."},
				{name: "s/escape.txt", typeflag: tar.TypeReg, body: "nope"},
			}),
		},
		{
			name: "absolute symlink",
			input: buildTar(t, []tarEntry{
				{name: "evil", typeflag: tar.TypeSymlink, linkname: "/etc/passwd"},
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := newManager(t)

			_, err := mgr.Extract(context.Background(), 1, bytes.NewReader(tt.input))
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}

			_, statErr := os.Stat(filepath.Join(mgr.BaseDir(), "escape.txt"))
			assert.True(t, os.IsNotExist(statErr), "archive wrote outside the workspace")
		})
	}
}

func TestExtractWritesThroughInnerSymlinks(t *testing.T) {
	mgr := newManager(t)

	archive := buildTar(t, []tarEntry{
		{name: "src/", typeflag: tar.TypeDir},
		{name: "current", typeflag: tar.TypeSymlink, linkname: "src"},
		{name: "current/main.go", typeflag: tar.TypeReg, body: "package main"},
		{name: "link.txt", typeflag: tar.TypeSymlink, linkname: "src/main.go"},
		{name: "link.txt", typeflag: tar.TypeReg, body: "replaced"},
	})

	ws, err := mgr.Extract(context.Background(), 9, bytes.NewReader(archive))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(ws.Dir, "src", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main", string(data))

	// A regular file replaces an earlier symlink instead of writing through it.
	fi, err := os.Lstat(filepath.Join(ws.Dir, "link.txt"))
	require.NoError(t, err)
	assert.True(t, fi.Mode().IsRegular())
}

func TestExtractDrainsInput(t *testing.T) {
	mgr := newManager(t)

	// Extra zero blocks after the end-of-archive marker must still be read.
	archive := append(taskArchive(t), make([]byte, 4096)...)
	r := bytes.NewReader(archive)

	_, err := mgr.Extract(context.Background(), 3, r)
	require.NoError(t, err)
	assert.Zero(t, r.Len())
}

func TestExtractCanceledContext(t *testing.T) {
	mgr := newManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mgr.Extract(ctx, 28, bytes.NewReader(taskArchive(t)))
	assert.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(mgr.Path(28))
	assert.True(t, os.IsNotExist(statErr))
}

type stubExtractor struct {
	dest string
}

func (s *stubExtractor) Extract(_ context.Context, r io.Reader, dest string) (ArchiveInfo, error) {
	s.dest = dest
	n, err := io.Copy(io.Discard, r)
	return ArchiveInfo{Bytes: n}, err
}

func TestWithExtractor(t *testing.T) {
	stub := &stubExtractor{}
	mgr, err := NewFSManager(t.TempDir(), WithExtractor(stub))
	require.NoError(t, err)

	ws, err := mgr.Extract(context.Background(), 5, bytes.NewReader([]byte("abc")))
	require.NoError(t, err)
	assert.Equal(t, mgr.Path(5), stub.dest)
	assert.Equal(t, int64(3), ws.Archive.Bytes)

	_, err = NewFSManager(t.TempDir(), WithExtractor(nil))
	assert.Error(t, err)
}

func TestTokenRoundTrip(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	_, err := mgr.Extract(ctx, 28, bytes.NewReader(taskArchive(t)))
	require.NoError(t, err)

	for _, token := range []string{"ghijkl", "tøkén with spaces\nand newline", "x"} {
		require.NoError(t, mgr.StoreToken(ctx, 28, token))

		raw, err := os.ReadFile(filepath.Join(mgr.Path(28), ".git", TokenFile))
		require.NoError(t, err)
		assert.Equal(t, token, string(raw))

		got, err := mgr.ReadToken(ctx, 28)
		require.NoError(t, err)
		assert.Equal(t, token, got)
	}
}

func TestReadTokenNotFound(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	_, err := mgr.ReadToken(ctx, 28)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = mgr.Extract(ctx, 28, bytes.NewReader(taskArchive(t)))
	require.NoError(t, err)

	_, err = mgr.ReadToken(ctx, 28)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, mgr.StoreToken(ctx, 28, ""))
	_, err = mgr.ReadToken(ctx, 28)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestStoreTokenWithoutGitDir(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	_, err := mgr.Extract(ctx, 9, bytes.NewReader(buildTar(t, []tarEntry{
		{name: "README.md", typeflag: tar.TypeReg},
	})))
	require.NoError(t, err)

	err = mgr.StoreToken(ctx, 9, "ghijkl")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestCleanup(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	_, err := mgr.Extract(ctx, 28, bytes.NewReader(taskArchive(t)))
	require.NoError(t, err)
	require.NoError(t, mgr.StoreToken(ctx, 28, "ghijkl"))

	require.NoError(t, mgr.Cleanup(ctx, 28))

	_, err = os.Stat(mgr.Path(28))
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupMissingWorkspace(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	err := mgr.Cleanup(ctx, 404)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	assert.NoError(t, mgr.Cleanup(ctx, 404, MissingOK()))
}

func TestInvalidTaskID(t *testing.T) {
	mgr := newManager(t)
	ctx := context.Background()

	for _, id := range []int64{0, -1} {
		assert.ErrorIs(t, mgr.Cleanup(ctx, id), ErrInvalidTaskID)
		_, err := mgr.Extract(ctx, id, bytes.NewReader(taskArchive(t)))
		assert.ErrorIs(t, err, ErrInvalidTaskID)
		assert.ErrorIs(t, mgr.StoreToken(ctx, id, "t"), ErrInvalidTaskID)
		_, err = mgr.ReadToken(ctx, id)
		assert.ErrorIs(t, err, ErrInvalidTaskID)
	}
}
