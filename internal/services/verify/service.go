// Package verify checks that a backup artifact decompresses cleanly and ends
// with the completion marker mysqldump writes after a successful dump.
package verify

import (
	"bytes"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/mysqldumper/internal/backuperr"
	"github.com/fgeck/mysqldumper/internal/models"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
)

// CompletionMarker is the comment mysqldump appends once the dump finished.
const CompletionMarker = "-- Dump completed"

const tailSize = 512

// Service defines the interface for artifact verification.
type Service interface {
	Verify(ctx context.Context, filename string) (*models.VerifyResult, error)
}

// PathResolver maps an artifact filename to its location. store.Impl satisfies it.
type PathResolver interface {
	Path(filename string) string
}

// Impl implements the verify Service interface.
type Impl struct {
	store  PathResolver
	logger zerolog.Logger
}

// New creates a new verify service.
func New(logger zerolog.Logger, store PathResolver) *Impl {
	return &Impl{store: store, logger: logger}
}

// Verify streams the artifact through its decompressor and reports the
// uncompressed size and whether the completion marker was found. A stream
// that cannot be decoded is an IO error; a missing marker is not an error.
func (s *Impl) Verify(ctx context.Context, filename string) (*models.VerifyResult, error) {
	if filename == "" {
		return nil, backuperr.InvalidArgument("verify requires a backup filename")
	}

	start := time.Now()
	path := s.store.Path(filename)
	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))

	var (
		size int64
		tail []byte
		err  error
	)
	switch format {
	case "zip":
		size, tail, err = scanZip(ctx, path)
	case "sql", "bz2", "gz":
		size, tail, err = scanFile(ctx, path, format)
	default:
		return nil, backuperr.InvalidArgument(fmt.Sprintf("%q is not a recognized backup file", filename))
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, backuperr.NotFound(fmt.Sprintf("backup file %q does not exist", filename), err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, backuperr.IO(fmt.Sprintf("backup file %q is unreadable or corrupt", filename), err)
	}

	result := &models.VerifyResult{
		Filename:          filename,
		Format:            format,
		UncompressedBytes: size,
		Complete:          bytes.Contains(tail, []byte(CompletionMarker)),
		Duration:          time.Since(start),
	}

	event := s.logger.Info()
	if !result.Complete {
		event = s.logger.Warn()
	}
	event.
		Str("file", filename).
		Str("format", format).
		Int64("uncompressed_bytes", size).
		Bool("complete", result.Complete).
		Msg("backup verified")

	return result, nil
}

func scanFile(ctx context.Context, path, format string) (int64, []byte, error) {
	f, err := os.Open(path) //nolint:gosec // path is resolved by the store
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	switch format {
	case "bz2":
		r = bzip2.NewReader(f)
	case "gz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, nil, err
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	return scan(ctx, r)
}

// scanZip reads every file entry in archive order as one stream.
func scanZip(ctx context.Context, path string) (int64, []byte, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = zr.Close() }()

	var total int64
	var tail []byte
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return 0, nil, err
		}
		n, t, err := scan(ctx, rc)
		_ = rc.Close()
		if err != nil {
			return 0, nil, fmt.Errorf("%s: %w", entry.Name, err)
		}
		total += n
		tail = t
	}
	return total, tail, nil
}

func scan(ctx context.Context, r io.Reader) (int64, []byte, error) {
	tw := &tailWriter{max: tailSize}
	n, err := io.Copy(tw, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		return 0, nil, err
	}
	return n, tw.buf, nil
}

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	buf []byte
	max int
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.max; over > 0 {
		w.buf = append(w.buf[:0], w.buf[over:]...)
	}
	return len(p), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
