package mysql

import (
	"fmt"
	"time"

	"github.com/fgeck/mysqldumper/internal/models"
)

// TimestampFormat is the layout of the timestamp in generated backup names.
const TimestampFormat = "20060102_150405"

// NameFormatter produces the stem of a backup filename, without extensions.
type NameFormatter interface {
	Stem(host, database string) string
}

// NameFormatterFunc adapts a plain function to NameFormatter.
type NameFormatterFunc func(host, database string) string

// Stem calls f(host, database).
func (f NameFormatterFunc) Stem(host, database string) string {
	return f(host, database)
}

// FixedStem always returns stem.
func FixedStem(stem string) NameFormatter {
	return NameFormatterFunc(func(string, string) string { return stem })
}

// FormatStem returns namer's stem, or <host>-<database>-<timestamp> when namer is nil.
func FormatStem(conn models.ConnectionConfig, now time.Time, namer NameFormatter) string {
	if namer != nil {
		return namer.Stem(conn.Host, conn.Database)
	}
	return fmt.Sprintf("%s-%s-%s", conn.Host, conn.Database, now.Format(TimestampFormat))
}

// ArtifactFilename appends .sql and, when compression is on, the compressor extension.
func ArtifactFilename(stem string, compression models.Compression) string {
	name := stem + ".sql"
	if compression.Enabled() {
		name += "." + compression.Extension()
	}
	return name
}
