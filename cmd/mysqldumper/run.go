package main

import (
	"github.com/fgeck/mysqldumper/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the backup workflow",
	Long: `Execute the complete backup workflow:
1. Wake-on-LAN (if configured)
2. Preflight connection check (if enabled)
3. mysqlcheck --optimize (if enabled) and mysqldump
4. Verify the new dump (if enabled)
5. Rotate old backups, keeping the newest store.keep
6. SSH shutdown (if configured)
7. Export metrics and send Telegram notification (if configured)`,
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc, err := runner.New(log.Logger, *cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to set up backup run")
		return err
	}
	if err := runnerSvc.Run(ctx, *cfg); err != nil {
		log.Error().Err(err).Msg("backup failed")
		return err
	}

	log.Info().Msg("backup completed successfully")
	return nil
}
