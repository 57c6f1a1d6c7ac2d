package store

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/mysqldumper/internal/backuperr"
	"github.com/fgeck/mysqldumper/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRemover struct {
	removeFunc func(path string) error
	calls      []string
}

func (m *mockRemover) Remove(path string) error {
	m.calls = append(m.calls, path)
	if m.removeFunc != nil {
		return m.removeFunc(path)
	}
	return os.Remove(path)
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// writeBackup creates name below dir with a modification time offset from baseTime.
func writeBackup(t *testing.T, dir, name string, age time.Duration) {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("-- dump\n"), 0o600))
	mtime := baseTime.Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func filenames(artifacts []models.Artifact) []string {
	names := make([]string, len(artifacts))
	for i, a := range artifacts {
		names[i] = a.Filename
	}
	return names
}

func remaining(t *testing.T, s *Impl) []string {
	t.Helper()
	artifacts, err := s.List(nil)
	require.NoError(t, err)
	return filenames(artifacts)
}

func TestNew_CreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backups", "mysql")

	s, err := New(testLogger(), dir)

	require.NoError(t, err)
	info, statErr := os.Stat(dir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
	assert.True(t, filepath.IsAbs(s.Dir()))
}

func TestNew_ResolvesCanonicalPath(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "a")
	require.NoError(t, os.Mkdir(dir, 0o755))

	s, err := New(testLogger(), filepath.Join(root, "a", "..", "a"))

	require.NoError(t, err)
	expected, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, expected, s.Dir())
}

func TestNew_EmptyDirectory(t *testing.T) {
	_, err := New(testLogger(), "")

	assert.ErrorIs(t, err, backuperr.ErrConfiguration)
}

func TestNew_PathIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := New(testLogger(), file)

	assert.ErrorIs(t, err, backuperr.ErrConfiguration)
}

func TestNew_CannotCreateDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := New(testLogger(), filepath.Join(file, "backups"))

	assert.ErrorIs(t, err, backuperr.ErrConfiguration)
}

func TestNew_ReadOnlyDirectory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for this user")
	}

	dir := filepath.Join(t.TempDir(), "ro")
	require.NoError(t, os.Mkdir(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	_, err := New(testLogger(), dir)

	assert.ErrorIs(t, err, backuperr.ErrConfiguration)
	assert.Contains(t, err.Error(), "not writable")
}

func TestList_Empty(t *testing.T) {
	s, err := New(testLogger(), t.TempDir())
	require.NoError(t, err)

	artifacts, err := s.List(nil)

	require.NoError(t, err)
	assert.NotNil(t, artifacts)
	assert.Empty(t, artifacts)
}

func TestList_FiltersByFinalExtension(t *testing.T) {
	dir := t.TempDir()
	writeBackup(t, dir, "a.sql", time.Hour)
	writeBackup(t, dir, "b.sql.bz2", 2*time.Hour)
	writeBackup(t, dir, "c.sql.gz", 3*time.Hour)
	writeBackup(t, dir, "d.zip", 4*time.Hour)
	writeBackup(t, dir, "notes.txt", time.Hour)
	writeBackup(t, dir, "dump.sql.bak", time.Hour)
	writeBackup(t, dir, "UPPER.SQL", time.Hour)
	writeBackup(t, dir, "noext", time.Hour)

	s, err := New(testLogger(), dir)
	require.NoError(t, err)

	artifacts, err := s.List(nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"a.sql", "b.sql.bz2", "c.sql.gz", "d.zip"}, filenames(artifacts))
}

func TestList_NewestFirst(t *testing.T) {
	dir := t.TempDir()
	writeBackup(t, dir, "old.sql", 72*time.Hour)
	writeBackup(t, dir, "new.sql", time.Minute)
	writeBackup(t, dir, "mid.sql.bz2", 24*time.Hour)

	s, err := New(testLogger(), dir)
	require.NoError(t, err)

	artifacts, err := s.List(nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"new.sql", "mid.sql.bz2", "old.sql"}, filenames(artifacts))
	for i := 1; i < len(artifacts); i++ {
		assert.False(t, artifacts[i].CreatedAt.After(artifacts[i-1].CreatedAt))
	}
	assert.Equal(t, filepath.Join(s.Dir(), "new.sql"), artifacts[0].Path)
	assert.Equal(t, int64(len("-- dump\n")), artifacts[0].SizeBytes)
}

func TestList_TiesKeepWalkOrder(t *testing.T) {
	dir := t.TempDir()
	writeBackup(t, dir, "b.sql", time.Hour)
	writeBackup(t, dir, "a.sql", time.Hour)
	writeBackup(t, dir, "c.sql", time.Hour)
	writeBackup(t, dir, "newest.sql", 0)

	s, err := New(testLogger(), dir)
	require.NoError(t, err)

	artifacts, err := s.List(nil)

	require.NoError(t, err)
	// WalkDir visits entries in lexical order, equal times must not be reshuffled.
	assert.Equal(t, []string{"newest.sql", "a.sql", "b.sql", "c.sql"}, filenames(artifacts))
}

func TestList_CustomComparator(t *testing.T) {
	dir := t.TempDir()
	writeBackup(t, dir, "b.sql", time.Hour)
	writeBackup(t, dir, "a.sql", 2*time.Hour)
	writeBackup(t, dir, "c.sql", 0)

	s, err := New(testLogger(), dir)
	require.NoError(t, err)

	byName := func(a, b models.Artifact) int { return strings.Compare(a.Filename, b.Filename) }
	artifacts, err := s.List(byName)

	require.NoError(t, err)
	assert.Equal(t, []string{"a.sql", "b.sql", "c.sql"}, filenames(artifacts))
}

func TestList_Recursive(t *testing.T) {
	dir := t.TempDir()
	writeBackup(t, dir, "top.sql", time.Hour)
	writeBackup(t, dir, filepath.Join("archive", "nested.sql.bz2"), 2*time.Hour)
	writeBackup(t, dir, filepath.Join("archive", "readme.md"), 0)

	s, err := New(testLogger(), dir)
	require.NoError(t, err)

	artifacts, err := s.List(nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"top.sql", filepath.Join("archive", "nested.sql.bz2")}, filenames(artifacts))
}

func TestList_CountsOnlyRecognized(t *testing.T) {
	dir := t.TempDir()
	recognized := []string{"1.sql", "2.bz2", "3.gz", "4.zip", "5.sql.gz"}
	other := []string{"x.txt", "y.log", "z.tar"}
	for i, name := range recognized {
		writeBackup(t, dir, name, time.Duration(i)*time.Minute)
	}
	for _, name := range other {
		writeBackup(t, dir, name, 0)
	}

	s, err := New(testLogger(), dir)
	require.NoError(t, err)

	artifacts, err := s.List(nil)

	require.NoError(t, err)
	assert.Len(t, artifacts, len(recognized))
}

func TestPath_IsPureConcatenation(t *testing.T) {
	s, err := New(testLogger(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, s.Dir()+string(os.PathSeparator)+"x.sql", s.Path("x.sql"))
	assert.Equal(t, s.Path("missing.sql"), s.Path("missing.sql"))
}

func TestStat(t *testing.T) {
	dir := t.TempDir()
	writeBackup(t, dir, "a.sql", time.Hour)
	s, err := New(testLogger(), dir)
	require.NoError(t, err)

	artifact, err := s.Stat("a.sql")
	require.NoError(t, err)
	assert.Equal(t, "a.sql", artifact.Filename)
	assert.True(t, artifact.CreatedAt.Equal(baseTime.Add(-time.Hour)))

	_, err = s.Stat("missing.sql")
	assert.ErrorIs(t, err, backuperr.ErrNotFound)
}

func TestRemove_Success(t *testing.T) {
	dir := t.TempDir()
	writeBackup(t, dir, "a.sql", time.Hour)
	s, err := New(testLogger(), dir)
	require.NoError(t, err)

	require.NoError(t, s.Remove("a.sql"))

	_, statErr := os.Stat(filepath.Join(dir, "a.sql"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRemove_NotFoundLeavesDirectoryUnchanged(t *testing.T) {
	dir := t.TempDir()
	writeBackup(t, dir, "a.sql", time.Hour)
	s, err := New(testLogger(), dir)
	require.NoError(t, err)

	err = s.Remove("missing.sql")

	assert.ErrorIs(t, err, backuperr.ErrNotFound)
	assert.Equal(t, []string{"a.sql"}, remaining(t, s))
}

func TestRemove_FailureIsIOError(t *testing.T) {
	dir := t.TempDir()
	writeBackup(t, dir, "a.sql", time.Hour)
	remover := &mockRemover{removeFunc: func(string) error { return os.ErrPermission }}
	s, err := NewWithRemover(testLogger(), dir, remover)
	require.NoError(t, err)

	err = s.Remove("a.sql")

	assert.ErrorIs(t, err, backuperr.ErrIO)
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.NotErrorIs(t, err, backuperr.ErrNotFound)
}

func TestRemove_RejectsNamesOutsideStore(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "backups")
	writeBackup(t, parent, "outside.sql", time.Hour)
	writeBackup(t, dir, "a.sql", time.Hour)
	remover := &mockRemover{}
	s, err := NewWithRemover(testLogger(), dir, remover)
	require.NoError(t, err)

	for _, name := range []string{"../outside.sql", "sub/../../outside.sql", filepath.Join(parent, "outside.sql"), ""} {
		err := s.Remove(name)
		assert.ErrorIs(t, err, backuperr.ErrInvalidArgument, name)
	}

	assert.FileExists(t, filepath.Join(parent, "outside.sql"))
	assert.Empty(t, remover.calls)
}

func TestRemove_RejectsDirectoriesAndUnknownFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "old.sql"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	remover := &mockRemover{}
	s, err := NewWithRemover(testLogger(), dir, remover)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Remove("old.sql"), backuperr.ErrInvalidArgument)
	assert.ErrorIs(t, s.Remove("notes.txt"), backuperr.ErrInvalidArgument)

	assert.DirExists(t, filepath.Join(dir, "old.sql"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
	assert.Empty(t, remover.calls)
}

func TestRemove_NestedArtifact(t *testing.T) {
	dir := t.TempDir()
	writeBackup(t, dir, filepath.Join("2024", "a.sql"), time.Hour)
	s, err := New(testLogger(), dir)
	require.NoError(t, err)

	require.NoError(t, s.Remove(filepath.Join("2024", "a.sql")))

	assert.NoFileExists(t, filepath.Join(dir, "2024", "a.sql"))
}

func TestRemoveOld(t *testing.T) {
	tests := []struct {
		name      string
		keep      int
		remaining []string
	}{
		{"keep one", 1, []string{"d.sql"}},
		{"keep two", 2, []string{"d.sql", "c.sql.bz2"}},
		{"keep all", 4, []string{"d.sql", "c.sql.bz2", "b.sql", "a.sql.gz"}},
		{"keep more than present", 10, []string{"d.sql", "c.sql.bz2", "b.sql", "a.sql.gz"}},
		{"keep zero", 0, []string{}},
		{"keep negative", -3, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeBackup(t, dir, "a.sql.gz", 4*time.Hour)
			writeBackup(t, dir, "b.sql", 3*time.Hour)
			writeBackup(t, dir, "c.sql.bz2", 2*time.Hour)
			writeBackup(t, dir, "d.sql", time.Hour)
			writeBackup(t, dir, "keep-me.txt", 10*time.Hour)

			s, err := New(testLogger(), dir)
			require.NoError(t, err)

			removed, err := s.RemoveOld(tt.keep)

			require.NoError(t, err)
			assert.Equal(t, tt.remaining, remaining(t, s))
			assert.Len(t, removed, 4-len(tt.remaining))

			// Unrecognized files are never rotated.
			_, statErr := os.Stat(filepath.Join(dir, "keep-me.txt"))
			assert.NoError(t, statErr)
		})
	}
}

func TestRemoveOld_RotatesNestedArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeBackup(t, dir, "new.sql", time.Hour)
	writeBackup(t, dir, filepath.Join("sub", "old.sql"), 5*time.Hour)

	s, err := New(testLogger(), dir)
	require.NoError(t, err)

	removed, err := s.RemoveOld(1)

	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("sub", "old.sql")}, removed)
	assert.Equal(t, []string{"new.sql"}, remaining(t, s))
}

func TestRemoveOld_AbortsOnFirstFailure(t *testing.T) {
	dir := t.TempDir()
	writeBackup(t, dir, "a.sql", 4*time.Hour)
	writeBackup(t, dir, "b.sql", 3*time.Hour)
	writeBackup(t, dir, "c.sql", 2*time.Hour)
	writeBackup(t, dir, "d.sql", time.Hour)

	remover := &mockRemover{
		removeFunc: func(path string) error {
			if filepath.Base(path) == "b.sql" {
				return errors.New("device busy")
			}
			return os.Remove(path)
		},
	}
	s, err := NewWithRemover(testLogger(), dir, remover)
	require.NoError(t, err)

	removed, err := s.RemoveOld(1)

	require.Error(t, err)
	assert.ErrorIs(t, err, backuperr.ErrIO)
	assert.Equal(t, []string{"c.sql"}, removed)
	// a.sql comes after the failing entry and must be left alone.
	assert.Equal(t, []string{"d.sql", "b.sql", "a.sql"}, remaining(t, s))
	assert.Len(t, remover.calls, 2)
}
