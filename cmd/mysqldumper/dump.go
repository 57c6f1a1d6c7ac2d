package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/mysqldumper/internal/services/mysql"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	dumpName       string
	dumpNoOptimize bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Create a single backup without rotation or notifications",
	RunE:  runDump,
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpName, "name", "n", "", "filename stem to use instead of <host>-<database>-<timestamp>")
	dumpCmd.Flags().BoolVar(&dumpNoOptimize, "no-optimize", false, "skip mysqlcheck --optimize before dumping")
}

func runDump(cmd *cobra.Command, args []string) error {
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

	opts := mysql.DumpOptions{Optimize: cfg.Dump.Optimize && !dumpNoOptimize}
	if dumpName != "" {
		opts.Namer = mysql.FixedStem(dumpName)
	}

	result, err := dumper.Dump(ctx, opts)
	if err != nil {
		log.Error().Err(err).Msg("dump failed")
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", result.Filename, humanize.IBytes(uint64(result.SizeBytes))) //nolint:gosec // size is never negative
	return nil
}
