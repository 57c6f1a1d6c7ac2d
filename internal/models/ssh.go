package models

// ShutdownConfig holds the SSH settings used to power off the database host
// once the backup run is over.
type ShutdownConfig struct {
	Host          string
	Port          int
	Username      string
	PrivateKey    []byte // loaded from KeyPath when nil
	KeyPath       string
	ShutdownDelay int    // minutes
	OS            string // "linux" (default) or "windows"
}

// SSHResult holds the result of an SSH operation.
type SSHResult struct {
	CommandRun bool
	Output     string
}
