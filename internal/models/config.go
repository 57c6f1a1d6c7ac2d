// Package models contains the data structures used throughout mysqldumper.
package models

// BackupConfig holds the complete configuration for a backup run.
type BackupConfig struct {
	MySQL       MySQLSettings
	Store       StoreSettings
	Dump        DumpSettings
	Compression Compression
	Verify      VerifySettings
	Metrics     MetricsSettings
	WOL         *WOLConfig      // nil if not configured
	SSHShutdown *ShutdownConfig // nil if not configured
	Telegram    *TelegramConfig // nil if not configured
}

// MySQLSettings holds the connection plus the CLI tooling location.
type MySQLSettings struct {
	Connection ConnectionConfig
	BinDir     string // directory holding mysqldump/mysql/mysqlcheck, empty means $PATH
	Preflight  bool   // ping the server before dumping
}

// StoreSettings holds the managed backup directory settings.
type StoreSettings struct {
	Directory string
	Keep      int // number of newest artifacts retained by rotation
}

// DumpSettings holds dump behaviour.
type DumpSettings struct {
	Optimize bool // run mysqlcheck --optimize before dumping
}

// VerifySettings controls post-dump artifact verification.
type VerifySettings struct {
	Enabled bool
}

// MetricsSettings controls metrics export.
type MetricsSettings struct {
	Textfile string // node_exporter textfile path, empty disables export
}
