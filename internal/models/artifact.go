package models

import "time"

// Artifact is a single backup file inside the store directory.
type Artifact struct {
	Filename  string // path relative to the store directory
	Path      string
	CreatedAt time.Time
	SizeBytes int64
}

// VerifyResult holds the outcome of an artifact integrity check.
type VerifyResult struct {
	Filename          string
	Format            string // "sql", "bz2", "gz" or "zip"
	UncompressedBytes int64
	Complete          bool // trailing mysqldump completion marker found
	Duration          time.Duration
}
