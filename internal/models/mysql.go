package models

import (
	"strconv"
	"time"
)

// ConnectionConfig holds the MySQL credentials handed to the CLI binaries.
type ConnectionConfig struct {
	Host     string
	Port     int // 0 leaves the client default
	Database string
	Username string
	Password string
}

// Address returns host:port, using the MySQL default port when unset.
func (c ConnectionConfig) Address() string {
	port := c.Port
	if port == 0 {
		port = 3306
	}
	return c.Host + ":" + strconv.Itoa(port)
}

// DumpResult holds the result of a dump.
type DumpResult struct {
	Filename   string // relative to the store directory
	Path       string
	SizeBytes  int64
	Compressed bool
	Optimized  bool
	Duration   time.Duration
}

// ServerInfo holds what the preflight ping learned about the server.
type ServerInfo struct {
	Version  string
	Database string
	Latency  time.Duration
}
