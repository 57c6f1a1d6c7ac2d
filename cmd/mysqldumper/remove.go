package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:   "remove <filename>...",
	Short: "Delete backups from the backup directory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemove,
}

func runRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	for _, name := range args {
		if err := st.Remove(name); err != nil {
			log.Error().Err(err).Str("file", name).Msg("failed to remove backup")
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", name)
	}
	return nil
}
