package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without touching the database or the backup directory.`,
	RunE:  validateConfig,
}

//nolint:gocyclo // flat summary printing
func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Error().Str("file", configFile).Msg("config file not found")
			return fmt.Errorf("config file not found: %s", configFile)
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	heading := color.New(color.Bold).FprintlnFunc()
	conn := cfg.MySQL.Connection

	color.New(color.FgGreen).Fprintln(out, "Configuration is valid!")
	fmt.Fprintln(out)
	heading(out, "MySQL:")
	fmt.Fprintf(out, "  Address: %s\n", conn.Address())
	fmt.Fprintf(out, "  Database: %s\n", conn.Database)
	fmt.Fprintf(out, "  Username: %s\n", conn.Username)
	fmt.Fprintf(out, "  Password: %v\n", conn.Password != "")
	if cfg.MySQL.BinDir != "" {
		fmt.Fprintf(out, "  Bin dir: %s\n", cfg.MySQL.BinDir)
	}
	fmt.Fprintln(out)
	heading(out, "Backups:")
	fmt.Fprintf(out, "  Directory: %s\n", cfg.Store.Directory)
	fmt.Fprintf(out, "  Keep: %d\n", cfg.Store.Keep)
	fmt.Fprintf(out, "  Optimize: %v\n", cfg.Dump.Optimize)
	if cfg.Compression.Enabled() {
		fmt.Fprintf(out, "  Compression: %s (%s)\n", cfg.Compression.ToolName(), cfg.Compression.Extension())
	} else {
		fmt.Fprintln(out, "  Compression: disabled")
	}
	fmt.Fprintf(out, "  Verify: %v\n", cfg.Verify.Enabled)
	fmt.Fprintln(out)
	heading(out, "Optional Features:")
	fmt.Fprintf(out, "  Preflight: %v\n", cfg.MySQL.Preflight)
	fmt.Fprintf(out, "  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Fprintf(out, "  SSH Shutdown: %v\n", cfg.SSHShutdown != nil)
	fmt.Fprintf(out, "  Telegram: %v\n", cfg.Telegram != nil)
	fmt.Fprintf(out, "  Metrics textfile: %s\n", valueOr(cfg.Metrics.Textfile, "disabled"))

	if cfg.WOL != nil {
		fmt.Fprintln(out)
		heading(out, "WOL Configuration:")
		fmt.Fprintf(out, "  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Fprintf(out, "  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		fmt.Fprintf(out, "  Timeout: %s\n", cfg.WOL.Timeout)
	}

	if cfg.SSHShutdown != nil {
		fmt.Fprintln(out)
		heading(out, "SSH Shutdown Configuration:")
		fmt.Fprintf(out, "  Host: %s\n", cfg.SSHShutdown.Host)
		fmt.Fprintf(out, "  Port: %d\n", cfg.SSHShutdown.Port)
		fmt.Fprintf(out, "  Username: %s\n", cfg.SSHShutdown.Username)
		fmt.Fprintf(out, "  OS: %s\n", cfg.SSHShutdown.OS)
		fmt.Fprintf(out, "  Shutdown Delay: %d minute(s)\n", cfg.SSHShutdown.ShutdownDelay)
	}

	if cfg.Telegram != nil {
		fmt.Fprintln(out)
		heading(out, "Telegram Configuration:")
		fmt.Fprintf(out, "  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Fprintln(out, "  Bot Token: (configured)")
	}

	return nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
