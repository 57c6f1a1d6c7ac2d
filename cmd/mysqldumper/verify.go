package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/fgeck/mysqldumper/internal/services/verify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <filename>...",
	Short: "Check that backups decompress cleanly and end with the dump completion marker",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	verifier := verify.New(log.Logger, st)
	out := cmd.OutOrStdout()
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()

	failed := 0
	for _, name := range args {
		result, err := verifier.Verify(ctx, name)
		switch {
		case err != nil:
			failed++
			fmt.Fprintf(out, "%s  %s: %v\n", bad("ERROR"), name, err)
		case !result.Complete:
			failed++
			fmt.Fprintf(out, "%s  %s: completion marker missing\n", bad("INCOMPLETE"), name)
		default:
			fmt.Fprintf(out, "%s  %s (%s, %s uncompressed)\n", ok("OK"), name, result.Format,
				humanize.IBytes(uint64(result.UncompressedBytes))) //nolint:gosec // size is never negative
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d backup(s) failed verification", failed, len(args))
	}
	return nil
}
