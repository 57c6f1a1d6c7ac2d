// Package database provides a preflight check against the MySQL server
// before a dump is attempted.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fgeck/mysqldumper/internal/models"
	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds both connecting and the ping round trip.
const DefaultTimeout = 10 * time.Second

// Service defines the interface for database preflight operations.
type Service interface {
	Ping(ctx context.Context) (*models.ServerInfo, error)
}

// Opener opens a database handle for a DSN. sql.Open with the mysql driver by default.
type Opener func(dsn string) (*sql.DB, error)

// DefaultOpener opens a connection pool with the go-sql-driver/mysql driver.
func DefaultOpener(dsn string) (*sql.DB, error) {
	return sql.Open("mysql", dsn)
}

// Impl implements the database Service interface.
type Impl struct {
	conn    models.ConnectionConfig
	open    Opener
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates a new database preflight service.
func New(logger zerolog.Logger, conn models.ConnectionConfig) *Impl {
	return NewWithOpener(logger, conn, DefaultOpener)
}

// NewWithOpener creates a new database preflight service with a custom opener (for testing).
func NewWithOpener(logger zerolog.Logger, conn models.ConnectionConfig, open Opener) *Impl {
	return &Impl{
		conn:    conn,
		open:    open,
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// DSN builds the driver connection string for conn.
func DSN(conn models.ConnectionConfig, timeout time.Duration) string {
	cfg := mysql.NewConfig()
	cfg.User = conn.Username
	cfg.Passwd = conn.Password
	cfg.Net = "tcp"
	cfg.Addr = conn.Address()
	cfg.DBName = conn.Database
	cfg.Timeout = timeout
	cfg.ReadTimeout = timeout
	return cfg.FormatDSN()
}

// Ping connects to the server, verifies the credentials and reads the server version.
func (s *Impl) Ping(ctx context.Context) (*models.ServerInfo, error) {
	s.logger.Info().
		Str("address", s.conn.Address()).
		Str("database", s.conn.Database).
		Msg("checking MySQL connectivity")

	db, err := s.open(DSN(s.conn, s.timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			s.logger.Warn().Err(closeErr).Msg("failed to close database connection")
		}
	}()
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping %s: %w", s.conn.Address(), err)
	}
	latency := time.Since(start)

	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return nil, fmt.Errorf("failed to query server version: %w", err)
	}

	info := &models.ServerInfo{
		Version:  version,
		Database: s.conn.Database,
		Latency:  latency,
	}

	s.logger.Info().
		Str("version", info.Version).
		Dur("latency", info.Latency).
		Msg("MySQL server reachable")

	return info, nil
}
