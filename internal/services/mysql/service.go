// Package mysql provides MySQL dump and restore operations built on the
// mysqldump, mysql and mysqlcheck command line tools.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/mysqldumper/internal/backuperr"
	"github.com/fgeck/mysqldumper/internal/models"
	"github.com/rs/zerolog"
)

// MySQL client programs.
const (
	ProgramDump    = "mysqldump"
	ProgramRestore = "mysql"
	ProgramCheck   = "mysqlcheck"
)

// Service defines the interface for MySQL dump operations.
type Service interface {
	Dump(ctx context.Context, opts DumpOptions) (*models.DumpResult, error)
	Restore(ctx context.Context, filename string) error
	Optimize(ctx context.Context) error
}

// PathResolver maps an artifact filename to its location. store.Impl satisfies it.
type PathResolver interface {
	Path(filename string) string
}

// Config holds what a dump runner needs besides its collaborators.
type Config struct {
	Connection  models.ConnectionConfig
	Compression models.Compression
	BinDir      string // directory holding the mysql programs, empty means $PATH
}

// DumpOptions controls a single dump.
type DumpOptions struct {
	Optimize bool
	Namer    NameFormatter // nil uses <host>-<database>-<timestamp>
}

// Impl implements the MySQL Service interface.
type Impl struct {
	cfg      Config
	store    PathResolver
	executor CommandExecutor
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a new MySQL dump runner.
func New(logger zerolog.Logger, cfg Config, store PathResolver) (*Impl, error) {
	return NewWithExecutor(logger, cfg, store, &DefaultExecutor{})
}

// NewWithExecutor creates a new MySQL dump runner with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, cfg Config, store PathResolver, executor CommandExecutor) (*Impl, error) {
	if cfg.Compression.Mode == models.CompressionAtDirectory {
		if err := checkExecutable(cfg.Compression.Directory, cfg.Compression.ToolName()); err != nil {
			return nil, err
		}
	}

	return &Impl{
		cfg:      cfg,
		store:    store,
		executor: executor,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func checkExecutable(dir, tool string) error {
	if runtime.GOOS == "windows" {
		tool += ".exe"
	}
	path := filepath.Join(dir, tool)

	info, err := os.Stat(path)
	if err != nil {
		return backuperr.Configuration(fmt.Sprintf("compressor %s not found; set the compressor directory or disable compression", path), err)
	}
	if !info.Mode().IsRegular() {
		return backuperr.Configuration(fmt.Sprintf("compressor %s is not a regular file", path), nil)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return backuperr.Configuration(fmt.Sprintf("compressor %s is not executable", path), nil)
	}
	return nil
}

// PartialSuffix marks a dump that is still being written. The store does not
// list such files.
const PartialSuffix = ".partial"

// Dump optionally optimizes all tables, then dumps the database into the store
// and returns the new artifact. Output goes to a partial file that replaces the
// target only on success, so a failed dump leaves existing backups untouched.
func (s *Impl) Dump(ctx context.Context, opts DumpOptions) (*models.DumpResult, error) {
	start := time.Now()
	conn := s.cfg.Connection

	if opts.Optimize {
		if err := s.Optimize(ctx); err != nil {
			return nil, fmt.Errorf("table optimization failed: %w", err)
		}
	}

	filename := ArtifactFilename(FormatStem(conn, s.now(), opts.Namer), s.cfg.Compression)
	path := s.store.Path(filename)

	stages := []Stage{{Name: s.program(ProgramDump), Args: s.credentials()}}
	if s.cfg.Compression.Enabled() {
		stages = append(stages, Stage{Name: s.compressor(s.cfg.Compression.ToolName()), Args: []string{"-c"}})
	}
	partial := path + PartialSuffix
	pipeline := Pipeline{Stages: stages, Stdout: partial}

	s.logger.Info().
		Str("host", conn.Host).
		Str("database", conn.Database).
		Str("compression", s.cfg.Compression.Mode.String()).
		Str("output", path).
		Msg("starting MySQL dump")
	s.logger.Debug().Str("command", pipeline.String()).Msg("executing dump pipeline")

	if err := s.executor.Run(ctx, pipeline); err != nil {
		s.removePartial(partial)
		return nil, fmt.Errorf("mysqldump failed: %w", err)
	}
	if err := os.Rename(partial, path); err != nil {
		s.removePartial(partial)
		return nil, backuperr.IO(fmt.Sprintf("dump could not be moved to %q", filename), err)
	}

	result := &models.DumpResult{
		Filename:   filename,
		Path:       path,
		Compressed: s.cfg.Compression.Enabled(),
		Optimized:  opts.Optimize,
	}
	if info, err := os.Stat(path); err == nil {
		result.SizeBytes = info.Size()
	}
	result.Duration = time.Since(start)

	s.logger.Info().
		Str("file", result.Filename).
		Int64("size_bytes", result.SizeBytes).
		Dur("duration", result.Duration).
		Msg("MySQL dump completed")

	return result, nil
}

func (s *Impl) removePartial(partial string) {
	if err := os.Remove(partial); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn().Err(err).Str("output", partial).Msg("failed to remove partial dump")
	}
}

// Restore imports a backup file from the store into the database.
func (s *Impl) Restore(ctx context.Context, filename string) error {
	if filename == "" {
		return backuperr.InvalidArgument("restore requires a backup filename")
	}

	path := s.store.Path(filename)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return backuperr.NotFound(fmt.Sprintf("backup file %q does not exist", filename), err)
		}
		return backuperr.IO(fmt.Sprintf("backup file %q is not readable", filename), err)
	}

	restore := Stage{Name: s.program(ProgramRestore), Args: s.credentials()}
	pipeline := Pipeline{Stages: []Stage{restore}, Stdin: path}

	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")); ext {
	case "bz2", "gz":
		if !s.cfg.Compression.Enabled() {
			return backuperr.Configuration(fmt.Sprintf("backup %q is compressed but compression is not configured", filename), nil)
		}
		tool := models.ToolBzip2
		if ext == "gz" {
			tool = models.ToolGzip
		}
		if s.cfg.Compression.Mode == models.CompressionAtDirectory {
			if err := checkExecutable(s.cfg.Compression.Directory, tool); err != nil {
				return err
			}
		}
		decompress := Stage{Name: s.compressor(tool), Args: []string{"-dc"}}
		pipeline.Stages = []Stage{decompress, restore}
	case "zip":
		return backuperr.Configuration(fmt.Sprintf("backup %q is a zip archive, which cannot be restored", filename), nil)
	}

	start := time.Now()
	s.logger.Info().
		Str("host", s.cfg.Connection.Host).
		Str("database", s.cfg.Connection.Database).
		Str("file", filename).
		Msg("starting MySQL restore")
	s.logger.Debug().Str("command", pipeline.String()).Msg("executing restore pipeline")

	if err := s.executor.Run(ctx, pipeline); err != nil {
		return fmt.Errorf("mysql restore failed: %w", err)
	}

	s.logger.Info().
		Str("file", filename).
		Dur("duration", time.Since(start)).
		Msg("MySQL restore completed")

	return nil
}

// Optimize runs mysqlcheck --optimize against the database.
func (s *Impl) Optimize(ctx context.Context) error {
	stage := Stage{
		Name: s.program(ProgramCheck),
		Args: append([]string{"--optimize"}, s.credentials()...),
	}

	s.logger.Info().Str("database", s.cfg.Connection.Database).Msg("optimizing tables")

	return s.executor.Run(ctx, Pipeline{Stages: []Stage{stage}})
}

// credentials builds the connection flags shared by every mysql program.
// An empty password is left out.
func (s *Impl) credentials() []string {
	conn := s.cfg.Connection
	args := []string{"--user=" + conn.Username}
	if conn.Password != "" {
		args = append(args, "--password="+conn.Password)
	}
	args = append(args, "--host="+conn.Host)
	if conn.Port != 0 {
		args = append(args, "--port="+strconv.Itoa(conn.Port))
	}
	return append(args, conn.Database)
}

func (s *Impl) program(name string) string {
	if s.cfg.BinDir == "" {
		return name
	}
	return filepath.Join(s.cfg.BinDir, name)
}

func (s *Impl) compressor(tool string) string {
	if s.cfg.Compression.Mode == models.CompressionAtDirectory {
		return filepath.Join(s.cfg.Compression.Directory, tool)
	}
	return tool
}
