// Package runner orchestrates the backup workflow.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fgeck/mysqldumper/internal/backuperr"
	"github.com/fgeck/mysqldumper/internal/metrics"
	"github.com/fgeck/mysqldumper/internal/models"
	"github.com/fgeck/mysqldumper/internal/services/database"
	"github.com/fgeck/mysqldumper/internal/services/mysql"
	"github.com/fgeck/mysqldumper/internal/services/ssh"
	"github.com/fgeck/mysqldumper/internal/services/store"
	"github.com/fgeck/mysqldumper/internal/services/telegram"
	"github.com/fgeck/mysqldumper/internal/services/verify"
	"github.com/fgeck/mysqldumper/internal/services/wol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Workflow steps, as reported in notifications and metrics.
const (
	StepWake      = "wol"
	StepPreflight = "preflight"
	StepDump      = "dump"
	StepVerify    = "verify"
	StepRotate    = "rotate"
	StepShutdown  = "ssh_shutdown"
)

// cleanupTimeout bounds the shutdown and notification sent after a failed or cancelled run.
const cleanupTimeout = 2 * time.Minute

// ErrIncompleteDump is returned when verification finds no completion marker.
var ErrIncompleteDump = errors.New("dump is incomplete")

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, cfg models.BackupConfig) error
}

// Services bundles the collaborators of a run. Metrics may be nil.
type Services struct {
	Store    store.Service
	Dumper   mysql.Service
	Database database.Service
	Verifier verify.Service
	WOL      wol.Service
	SSH      ssh.Service
	Telegram telegram.Service
	Metrics  *metrics.Recorder
}

// Impl implements the runner Service interface.
type Impl struct {
	services Services
	logger   zerolog.Logger
	newRunID func() string
}

// New wires the production services for cfg.
func New(logger zerolog.Logger, cfg models.BackupConfig) (*Impl, error) {
	st, err := store.New(logger, cfg.Store.Directory)
	if err != nil {
		return nil, err
	}

	dumper, err := mysql.New(logger, mysql.Config{
		Connection:  cfg.MySQL.Connection,
		Compression: cfg.Compression,
		BinDir:      cfg.MySQL.BinDir,
	}, st)
	if err != nil {
		return nil, err
	}

	return NewWithServices(logger, Services{
		Store:    st,
		Dumper:   dumper,
		Database: database.New(logger, cfg.MySQL.Connection),
		Verifier: verify.New(logger, st),
		WOL:      wol.New(logger),
		SSH:      ssh.New(logger),
		Telegram: telegram.New(logger),
		Metrics:  metrics.NewRecorder(),
	}), nil
}

// NewWithServices creates a new runner with custom services (for testing).
func NewWithServices(logger zerolog.Logger, services Services) *Impl {
	return &Impl{
		services: services,
		logger:   logger,
		newRunID: uuid.NewString,
	}
}

// run carries what a single run learned for the final report.
type run struct {
	id         string
	start      time.Time
	failedStep string
	woken      bool
	shutdown   bool
	dump       *models.DumpResult
	removed    int
	kept       int
	rotated    bool
}

// Run executes the complete backup workflow. When the database host was woken
// it is powered off again even if a later step failed.
//
//nolint:gocognit,gocyclo // backup workflow has multiple steps by design
func (s *Impl) Run(ctx context.Context, cfg models.BackupConfig) (err error) {
	r := &run{id: s.newRunID(), start: time.Now()}
	logger := s.logger.With().Str("run_id", r.id).Logger()
	conn := cfg.MySQL.Connection

	logger.Info().
		Str("host", conn.Host).
		Str("database", conn.Database).
		Str("directory", cfg.Store.Directory).
		Msg("starting backup run")

	defer func() {
		if err != nil && r.woken && !r.shutdown && cfg.SSHShutdown != nil {
			cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
			if shutdownErr := s.shutdown(cleanupCtx, logger, *cfg.SSHShutdown); shutdownErr != nil {
				logger.Error().Err(shutdownErr).Msg("shutdown after failed run did not succeed")
			}
			cancel()
		}
		s.finish(ctx, logger, cfg, r, err)
	}()

	if cfg.WOL != nil {
		if err := s.step(r, StepWake, func() error {
			result, err := s.services.WOL.Wake(ctx, *cfg.WOL, conn.Address())
			r.woken = result != nil && result.PacketSent
			if err != nil {
				return fmt.Errorf("WOL failed: %w", err)
			}
			return nil
		}); err != nil {
			return err
		}
	}

	if cfg.MySQL.Preflight {
		if err := s.step(r, StepPreflight, func() error {
			info, err := s.services.Database.Ping(ctx)
			if err != nil {
				return fmt.Errorf("preflight failed: %w", err)
			}
			logger.Info().Str("version", info.Version).Msg("preflight passed")
			return nil
		}); err != nil {
			return err
		}
	}

	if err := s.step(r, StepDump, func() error {
		result, err := s.services.Dumper.Dump(ctx, mysql.DumpOptions{Optimize: cfg.Dump.Optimize})
		if err != nil {
			return err
		}
		r.dump = result
		return nil
	}); err != nil {
		return err
	}

	if cfg.Verify.Enabled {
		if err := s.step(r, StepVerify, func() error {
			result, err := s.services.Verifier.Verify(ctx, r.dump.Filename)
			if err != nil {
				s.discard(logger, r.dump.Filename)
				return fmt.Errorf("verify failed: %w", err)
			}
			if !result.Complete {
				s.discard(logger, r.dump.Filename)
				return fmt.Errorf("%s: %w", r.dump.Filename, ErrIncompleteDump)
			}
			return nil
		}); err != nil {
			return err
		}
	}

	if err := s.step(r, StepRotate, func() error {
		removed, err := s.services.Store.RemoveOld(cfg.Store.Keep)
		r.removed = len(removed)
		r.rotated = true
		if err != nil {
			return fmt.Errorf("rotation failed: %w", err)
		}
		remaining, err := s.services.Store.List(nil)
		if err != nil {
			return fmt.Errorf("rotation failed: %w", err)
		}
		r.kept = len(remaining)
		logger.Info().Int("removed", r.removed).Int("kept", r.kept).Msg("old backups rotated")
		return nil
	}); err != nil {
		return err
	}

	if cfg.SSHShutdown != nil {
		if err := s.step(r, StepShutdown, func() error {
			r.shutdown = true
			return s.shutdown(ctx, logger, *cfg.SSHShutdown)
		}); err != nil {
			return err
		}
	}

	r.failedStep = ""
	logger.Info().
		Str("file", r.dump.Filename).
		Dur("duration", time.Since(r.start)).
		Msg("backup run completed successfully")

	return nil
}

func (s *Impl) step(r *run, name string, fn func() error) error {
	r.failedStep = name
	began := time.Now()
	err := fn()
	if s.services.Metrics != nil {
		s.services.Metrics.ObserveStep(name, time.Since(began))
	}
	return err
}

// discard removes a dump that failed verification so rotation never counts it
// as a kept backup.
func (s *Impl) discard(logger zerolog.Logger, filename string) {
	if err := s.services.Store.Remove(filename); err != nil && !errors.Is(err, backuperr.ErrNotFound) {
		logger.Error().Err(err).Str("file", filename).Msg("failed to remove unverified dump")
		return
	}
	logger.Warn().Str("file", filename).Msg("removed dump that failed verification")
}

func (s *Impl) shutdown(ctx context.Context, logger zerolog.Logger, cfg models.ShutdownConfig) error {
	result, err := s.services.SSH.Shutdown(ctx, cfg)
	if err != nil {
		return fmt.Errorf("SSH shutdown failed: %w", err)
	}
	logger.Info().Str("host", cfg.Host).Str("output", result.Output).Msg("database host shutdown scheduled")
	return nil
}

// finish reports the run. Failures here are logged and never change the outcome.
func (s *Impl) finish(ctx context.Context, logger zerolog.Logger, cfg models.BackupConfig, r *run, runErr error) {
	end := time.Now()

	if rec := s.services.Metrics; rec != nil {
		if r.dump != nil {
			rec.RecordDump(r.dump.SizeBytes)
		}
		if r.rotated {
			rec.RecordRotation(r.removed, r.kept)
		}
		rec.RecordRun(runErr == nil, end, r.failedStep)
		if cfg.Metrics.Textfile != "" {
			if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				logger.Error().Err(err).Msg("failed to export metrics")
			}
		}
	}

	if runErr != nil {
		logger.Error().Err(runErr).Str("failed_step", r.failedStep).Msg("backup run failed")
	}

	if cfg.Telegram == nil {
		return
	}

	msg := models.TelegramMessage{
		Success:          runErr == nil,
		RunID:            r.id,
		Host:             cfg.MySQL.Connection.Host,
		Database:         cfg.MySQL.Connection.Database,
		StartTime:        r.start,
		Duration:         end.Sub(r.start),
		ArtifactsRemoved: r.removed,
		ArtifactsKept:    r.kept,
	}
	if r.dump != nil {
		msg.Filename = r.dump.Filename
		msg.SizeBytes = r.dump.SizeBytes
		msg.Compressed = r.dump.Compressed
	}
	if runErr != nil {
		msg.FailedStep = r.failedStep
		msg.ErrorMessage = runErr.Error()
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.services.Telegram.Notify(notifyCtx, *cfg.Telegram, msg); err != nil {
		logger.Error().Err(err).Msg("failed to send Telegram notification")
	}
}
