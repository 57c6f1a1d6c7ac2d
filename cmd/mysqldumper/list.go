package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups in the backup directory, newest first",
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	artifacts, err := st.List(nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to list backups")
		return err
	}

	out := cmd.OutOrStdout()
	if len(artifacts) == 0 {
		fmt.Fprintf(out, "No backups in %s\n", st.Dir())
		return nil
	}

	bold := color.New(color.Bold)
	kept := color.New(color.FgGreen)
	expiring := color.New(color.FgYellow)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, bold.Sprint("FILENAME")+"\t"+bold.Sprint("CREATED")+"\t"+bold.Sprint("SIZE"))
	for i, a := range artifacts {
		name := kept.Sprint(a.Filename)
		if i >= cfg.Store.Keep {
			name = expiring.Sprint(a.Filename)
		}
		fmt.Fprintf(w, "%s\t%s (%s)\t%s\n",
			name,
			a.CreatedAt.Format("2006-01-02 15:04:05"),
			humanize.Time(a.CreatedAt),
			humanize.IBytes(uint64(a.SizeBytes)), //nolint:gosec // size is never negative
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(artifacts) > cfg.Store.Keep {
		expiring.Fprintf(out, "\n%d backup(s) beyond keep=%d will be removed on the next rotation\n",
			len(artifacts)-cfg.Store.Keep, cfg.Store.Keep)
	}
	return nil
}
