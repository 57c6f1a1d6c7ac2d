package models

import "fmt"

// CompressionMode selects how the compressor is located.
type CompressionMode int

// Compression modes.
const (
	CompressionDisabled CompressionMode = iota
	CompressionPathLookup
	CompressionAtDirectory
)

// String implements fmt.Stringer.
func (m CompressionMode) String() string {
	switch m {
	case CompressionDisabled:
		return "disabled"
	case CompressionPathLookup:
		return "path"
	case CompressionAtDirectory:
		return "directory"
	}
	return fmt.Sprintf("CompressionMode(%d)", int(m))
}

// Supported compressor tools.
const (
	ToolBzip2 = "bzip2"
	ToolGzip  = "gzip"
)

// Compression describes whether dumps are piped through an external compressor.
type Compression struct {
	Mode      CompressionMode
	Tool      string // ToolBzip2 (default) or ToolGzip
	Directory string // only for CompressionAtDirectory
}

// NoCompression disables compression.
func NoCompression() Compression {
	return Compression{Mode: CompressionDisabled}
}

// CompressionOnPath resolves tool from $PATH.
func CompressionOnPath(tool string) Compression {
	return Compression{Mode: CompressionPathLookup, Tool: tool}
}

// CompressionInDir resolves tool inside dir.
func CompressionInDir(tool, dir string) Compression {
	return Compression{Mode: CompressionAtDirectory, Tool: tool, Directory: dir}
}

// Enabled reports whether dumps are compressed.
func (c Compression) Enabled() bool {
	return c.Mode != CompressionDisabled
}

// ToolName returns the configured tool, defaulting to bzip2.
func (c Compression) ToolName() string {
	if c.Tool == "" {
		return ToolBzip2
	}
	return c.Tool
}

// Extension returns the file extension the tool produces, without the dot.
func (c Compression) Extension() string {
	return ExtensionForTool(c.ToolName())
}

// ExtensionForTool maps a compressor to its file extension.
func ExtensionForTool(tool string) string {
	if tool == ToolGzip {
		return "gz"
	}
	return "bz2"
}
