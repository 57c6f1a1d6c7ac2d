// Package store manages the directory of backup artifacts: listing, path
// resolution, removal and retain-N rotation.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fgeck/mysqldumper/internal/backuperr"
	"github.com/fgeck/mysqldumper/internal/models"
	"github.com/rs/zerolog"
)

// extensions recognized as backup artifacts, matched against the final
// extension only and case-sensitively.
var extensions = map[string]bool{
	"sql": true,
	"bz2": true,
	"gz":  true,
	"zip": true,
}

// Comparator orders artifacts. It returns a negative number when a sorts before b.
type Comparator func(a, b models.Artifact) int

// NewestFirst orders artifacts by descending creation time.
func NewestFirst(a, b models.Artifact) int {
	return b.CreatedAt.Compare(a.CreatedAt)
}

// Service defines the interface for backup store operations.
type Service interface {
	Dir() string
	List(cmp Comparator) ([]models.Artifact, error)
	Path(filename string) string
	Stat(filename string) (*models.Artifact, error)
	Remove(filename string) error
	RemoveOld(keep int) ([]string, error)
}

// Remover deletes files, allowing removal failures to be simulated in tests.
type Remover interface {
	Remove(path string) error
}

// DefaultRemover removes files with os.Remove.
type DefaultRemover struct{}

// Remove deletes path.
func (DefaultRemover) Remove(path string) error {
	return os.Remove(path)
}

// Impl implements the store Service interface.
type Impl struct {
	dir     string
	remover Remover
	logger  zerolog.Logger
}

// New creates a store rooted at dir, creating the directory when it is missing.
func New(logger zerolog.Logger, dir string) (*Impl, error) {
	return NewWithRemover(logger, dir, DefaultRemover{})
}

// NewWithRemover creates a store with a custom remover (for testing).
func NewWithRemover(logger zerolog.Logger, dir string, remover Remover) (*Impl, error) {
	if dir == "" {
		return nil, backuperr.Configuration("backup directory is not set", nil)
	}

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil { //nolint:gosec // backup dir is shared with operators
			return nil, backuperr.Configuration(fmt.Sprintf("backup directory %q could not be created", dir), mkErr)
		}
		logger.Info().Str("dir", dir).Msg("created backup directory")
	case err != nil:
		return nil, backuperr.Configuration(fmt.Sprintf("backup directory %q is not accessible", dir), err)
	case !info.IsDir():
		return nil, backuperr.Configuration(fmt.Sprintf("backup path %q is not a directory", dir), nil)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, backuperr.Configuration(fmt.Sprintf("backup directory %q could not be resolved", dir), err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	if err := checkWritable(abs); err != nil {
		return nil, backuperr.Configuration(fmt.Sprintf("backup directory %q is not writable", abs), err)
	}

	return &Impl{
		dir:     abs,
		remover: remover,
		logger:  logger,
	}, nil
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// Dir returns the canonical absolute store directory.
func (s *Impl) Dir() string {
	return s.dir
}

// Path joins the store directory and filename. The file need not exist.
func (s *Impl) Path(filename string) string {
	return s.dir + string(os.PathSeparator) + filename
}

// List returns every artifact below the store directory ordered by cmp,
// newest first when cmp is nil. Ties keep their walk order.
func (s *Impl) List(cmp Comparator) ([]models.Artifact, error) {
	artifacts := []models.Artifact{}

	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isArtifact(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// Removed between readdir and stat.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}

		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}

		artifacts = append(artifacts, models.Artifact{
			Filename:  rel,
			Path:      path,
			CreatedAt: info.ModTime(),
			SizeBytes: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, backuperr.IO(fmt.Sprintf("listing backup directory %q", s.dir), err)
	}

	if cmp == nil {
		cmp = NewestFirst
	}
	slices.SortStableFunc(artifacts, cmp)

	s.logger.Debug().Int("count", len(artifacts)).Msg("backups listed")
	return artifacts, nil
}

func isArtifact(name string) bool {
	ext := filepath.Ext(name)
	return ext != "" && extensions[strings.TrimPrefix(ext, ".")]
}

// Stat returns the artifact metadata for filename.
func (s *Impl) Stat(filename string) (*models.Artifact, error) {
	path := s.Path(filename)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, backuperr.NotFound(fmt.Sprintf("backup file %q does not exist", filename), err)
	}
	if err != nil {
		return nil, backuperr.IO(fmt.Sprintf("reading backup file %q", filename), err)
	}
	return &models.Artifact{
		Filename:  filename,
		Path:      path,
		CreatedAt: info.ModTime(),
		SizeBytes: info.Size(),
	}, nil
}

// Remove deletes a backup file given its path relative to the store directory.
// Only artifacts inside the store can be removed.
func (s *Impl) Remove(filename string) error {
	if !s.contains(filename) {
		return backuperr.InvalidArgument(fmt.Sprintf("backup file %q is outside the backup directory", filename))
	}
	if !isArtifact(filename) {
		return backuperr.InvalidArgument(fmt.Sprintf("%q is not a backup file", filename))
	}

	path := s.Path(filename)

	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return backuperr.NotFound(fmt.Sprintf("backup file %q does not exist", filename), err)
		}
		return backuperr.IO(fmt.Sprintf("backup file %q could not be inspected", filename), err)
	}
	if info.IsDir() {
		return backuperr.InvalidArgument(fmt.Sprintf("%q is a directory, not a backup file", filename))
	}

	if err := s.remover.Remove(path); err != nil {
		return backuperr.IO(fmt.Sprintf("backup file %q could not be removed", filename), err)
	}

	s.logger.Info().Str("file", filename).Msg("backup removed")
	return nil
}

// contains reports whether filename names an entry strictly below the store directory.
func (s *Impl) contains(filename string) bool {
	if filename == "" || filepath.IsAbs(filename) {
		return false
	}
	rel, err := filepath.Rel(s.dir, filepath.Clean(s.Path(filename)))
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// RemoveOld keeps the newest keep artifacts and removes the rest, oldest last.
// It stops at the first failure and returns the files removed up to that point.
func (s *Impl) RemoveOld(keep int) ([]string, error) {
	artifacts, err := s.List(nil)
	if err != nil {
		return nil, err
	}

	keep = max(keep, 0)

	removed := []string{}
	for i := keep; i < len(artifacts); i++ {
		if err := s.Remove(artifacts[i].Filename); err != nil {
			return removed, fmt.Errorf("rotation stopped after %d removal(s): %w", len(removed), err)
		}
		removed = append(removed, artifacts[i].Filename)
	}

	s.logger.Info().
		Int("keep", keep).
		Int("found", len(artifacts)).
		Int("removed", len(removed)).
		Msg("rotation completed")

	return removed, nil
}
