package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/mysqldumper/internal/config"
	"github.com/fgeck/mysqldumper/internal/models"
	"github.com/fgeck/mysqldumper/internal/services/mysql"
	"github.com/fgeck/mysqldumper/internal/services/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var errConfigRequired = errors.New("config file is required")

func loadConfig(cmd *cobra.Command) (*models.BackupConfig, error) {
	if configFile == "" {
		log.Error().Msg("config file is required")
		_ = cmd.Help()
		return nil, errConfigRequired
	}

	cfg, err := config.NewParser().LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	log.Debug().
		Str("config", configFile).
		Str("host", cfg.MySQL.Connection.Host).
		Str("database", cfg.MySQL.Connection.Database).
		Str("directory", cfg.Store.Directory).
		Msg("configuration loaded")

	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func openStore(cfg *models.BackupConfig) (*store.Impl, error) {
	st, err := store.New(log.Logger, cfg.Store.Directory)
	if err != nil {
		log.Error().Err(err).Str("directory", cfg.Store.Directory).Msg("failed to open backup directory")
		return nil, err
	}
	return st, nil
}

func newDumper(cfg *models.BackupConfig, st *store.Impl) (*mysql.Impl, error) {
	dumper, err := mysql.New(log.Logger, mysql.Config{
		Connection:  cfg.MySQL.Connection,
		Compression: cfg.Compression,
		BinDir:      cfg.MySQL.BinDir,
	}, st)
	if err != nil {
		log.Error().Err(err).Msg("failed to set up dump runner")
		return nil, err
	}
	return dumper, nil
}
