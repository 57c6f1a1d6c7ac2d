// Package config provides configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fgeck/mysqldumper/internal/models"
	"github.com/spf13/viper"
)

// EnvMySQLHome names the directory holding the MySQL client programs.
const EnvMySQLHome = "MYSQL_HOME"

// Parser handles configuration file parsing.
type Parser struct {
	v      *viper.Viper
	getenv func(string) string
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("mysql.host", "localhost")
	v.SetDefault("mysql.username", "root")
	v.SetDefault("store.keep", 5)
	v.SetDefault("dump.optimize", true)
	v.SetDefault("compression.enabled", false)
	v.SetDefault("compression.tool", models.ToolBzip2)
	v.SetDefault("verify.enabled", true)

	return &Parser{v: v, getenv: os.Getenv}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.BackupConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.BackupConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.BackupConfig, error) {
	cfg := &models.BackupConfig{}

	cfg.MySQL = models.MySQLSettings{
		Connection: models.ConnectionConfig{
			Host:     p.expandEnv(p.v.GetString("mysql.host")),
			Port:     p.v.GetInt("mysql.port"),
			Database: p.expandEnv(p.v.GetString("mysql.database")),
			Username: p.expandEnv(p.v.GetString("mysql.username")),
			Password: p.expandEnv(p.v.GetString("mysql.password")),
		},
		BinDir:    p.expandEnv(p.v.GetString("mysql.bin_dir")),
		Preflight: p.v.GetBool("mysql.preflight"),
	}
	if cfg.MySQL.BinDir == "" {
		cfg.MySQL.BinDir = p.getenv(EnvMySQLHome)
	}

	cfg.Store = models.StoreSettings{
		Directory: p.expandEnv(p.v.GetString("store.directory")),
		Keep:      p.v.GetInt("store.keep"),
	}

	cfg.Dump = models.DumpSettings{Optimize: p.v.GetBool("dump.optimize")}
	cfg.Verify = models.VerifySettings{Enabled: p.v.GetBool("verify.enabled")}
	cfg.Metrics = models.MetricsSettings{Textfile: p.expandEnv(p.v.GetString("metrics.textfile"))}

	tool := p.v.GetString("compression.tool")
	switch {
	case !p.v.GetBool("compression.enabled"):
		cfg.Compression = models.NoCompression()
	case p.v.GetString("compression.directory") != "":
		cfg.Compression = models.CompressionInDir(tool, p.expandEnv(p.v.GetString("compression.directory")))
	default:
		cfg.Compression = models.CompressionOnPath(tool)
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("wol.mac_address"),
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 5 * time.Second
		}
		if !p.v.IsSet("wol.stabilize_wait") {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional SSH shutdown config.
	if p.v.IsSet("ssh_shutdown") {
		cfg.SSHShutdown = &models.ShutdownConfig{
			Host:          p.v.GetString("ssh_shutdown.host"),
			Port:          p.v.GetInt("ssh_shutdown.port"),
			Username:      p.v.GetString("ssh_shutdown.username"),
			KeyPath:       p.expandEnv(p.v.GetString("ssh_shutdown.key_path")),
			ShutdownDelay: p.v.GetInt("ssh_shutdown.shutdown_delay"),
			OS:            p.v.GetString("ssh_shutdown.os"),
		}
		if cfg.SSHShutdown.Host == "" {
			cfg.SSHShutdown.Host = cfg.MySQL.Connection.Host
		}
		if cfg.SSHShutdown.Port == 0 {
			cfg.SSHShutdown.Port = 22
		}
		if cfg.SSHShutdown.Username == "" {
			cfg.SSHShutdown.Username = "root"
		}
		if !p.v.IsSet("ssh_shutdown.shutdown_delay") {
			cfg.SSHShutdown.ShutdownDelay = 1
		}
		if cfg.SSHShutdown.OS == "" {
			cfg.SSHShutdown.OS = "linux"
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.Expand(s, p.getenv)
}

// Validate performs validation on the loaded configuration. All problems are
// reported together.
func Validate(cfg *models.BackupConfig) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}

	var errs []error
	check := func(cond bool, msg string) {
		if !cond {
			errs = append(errs, errors.New(msg))
		}
	}

	check(cfg.MySQL.Connection.Database != "", "mysql.database is required")
	check(cfg.MySQL.Connection.Host != "", "mysql.host must not be empty")
	check(cfg.MySQL.Connection.Port >= 0 && cfg.MySQL.Connection.Port <= 65535, "mysql.port must be between 0 and 65535")
	check(cfg.Store.Directory != "", "store.directory is required")
	check(cfg.Store.Keep >= 1, "store.keep must be at least 1")

	if cfg.Compression.Enabled() {
		tool := cfg.Compression.ToolName()
		check(tool == models.ToolBzip2 || tool == models.ToolGzip, "compression.tool must be one of: bzip2, gzip")
	}

	if cfg.WOL != nil {
		check(cfg.WOL.MACAddress != "", "wol.mac_address is required when wol is configured")
		check(cfg.WOL.Timeout > 0, "wol.timeout must be positive")
	}

	if cfg.SSHShutdown != nil {
		check(cfg.SSHShutdown.KeyPath != "" || len(cfg.SSHShutdown.PrivateKey) > 0,
			"ssh_shutdown.key_path is required when ssh_shutdown is configured")
		check(cfg.SSHShutdown.OS == "linux" || cfg.SSHShutdown.OS == "windows",
			"ssh_shutdown.os must be one of: linux, windows")
		check(cfg.SSHShutdown.ShutdownDelay >= 0, "ssh_shutdown.shutdown_delay must not be negative")
	}

	if cfg.Telegram != nil {
		check(cfg.Telegram.BotToken != "", "telegram.bot_token is required when telegram is configured")
		check(cfg.Telegram.ChatID != "", "telegram.chat_id is required when telegram is configured")
	}

	return errors.Join(errs...)
}
