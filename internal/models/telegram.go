package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a backup notification.
type TelegramMessage struct {
	Success   bool
	RunID     string
	Host      string
	Database  string
	StartTime time.Time
	Duration  time.Duration

	// Dump stats (if the dump succeeded).
	Filename   string
	SizeBytes  int64
	Compressed bool

	// Rotation stats.
	ArtifactsRemoved int
	ArtifactsKept    int

	// Error info (if failed).
	ErrorMessage string
	FailedStep   string
}
