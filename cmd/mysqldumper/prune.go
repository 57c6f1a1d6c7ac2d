package main

import (
	"fmt"

	"github.com/fgeck/mysqldumper/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var pruneKeep int

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove all but the newest backups",
	RunE:  runPrune,
}

func init() {
	pruneCmd.Flags().IntVarP(&pruneKeep, "keep", "k", 0, "number of newest backups to keep (defaults to store.keep)")
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	keep := cfg.Store.Keep
	if cmd.Flags().Changed("keep") {
		keep = pruneKeep
	}

	removed, err := st.RemoveOld(keep)
	for _, name := range removed {
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", name)
	}
	if err != nil {
		log.Error().Err(err).Int("keep", keep).Msg("rotation failed")
		return err
	}

	remaining, err := st.List(nil)
	if err != nil {
		return err
	}

	if cfg.Metrics.Textfile != "" {
		rec := metrics.NewRecorder()
		rec.RecordRotation(len(removed), len(remaining))
		if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.Error().Err(err).Msg("failed to export metrics")
		}
	}

	log.Info().Int("removed", len(removed)).Int("kept", len(remaining)).Msg("old backups rotated")
	return nil
}
