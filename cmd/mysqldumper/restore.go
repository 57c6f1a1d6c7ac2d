package main

import (
	"time"

	"github.com/fgeck/mysqldumper/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <filename>",
	Short: "Restore a backup from the backup directory into the configured database",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	dumper, err := newDumper(cfg, st)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	started := time.Now()
	err = dumper.Restore(ctx, args[0])

	rec := metrics.NewRecorder()
	rec.RecordRestore(err == nil)
	if cfg.Metrics.Textfile != "" {
		if writeErr := rec.WriteTextfile(cfg.Metrics.Textfile); writeErr != nil {
			log.Error().Err(writeErr).Msg("failed to export metrics")
		}
	}

	if err != nil {
		log.Error().Err(err).Str("file", args[0]).Msg("restore failed")
		return err
	}

	log.Info().Str("file", args[0]).Dur("duration", time.Since(started)).Msg("restore completed successfully")
	return nil
}
