// Package export writes buffer snapshots to files.
package export

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ppiankov/scrapewatch/internal/logtypes"
)

// Format identifies the output format.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
	FormatJSONL   Format = "jsonl"
)

// Writer writes log entries to an output format.
type Writer interface {
	Write(logtypes.LogEntry) error
	Close() error
}

// ParseFormat validates a format name. An empty name means jsonl.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatJSONL:
		return FormatJSONL, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	}
	return "", fmt.Errorf("unsupported format: %q (want jsonl, csv or parquet)", s)
}

// FormatFromPath guesses the format from a file extension, defaulting to jsonl.
func FormatFromPath(path string) Format {
	p := strings.TrimSuffix(strings.ToLower(path), ".zst")
	switch filepath.Ext(p) {
	case ".csv":
		return FormatCSV
	case ".parquet":
		return FormatParquet
	}
	return FormatJSONL
}

// Write writes entries to path in the given format and returns the number
// of entries written.
func Write(path string, format Format, entries []logtypes.LogEntry) (int, error) {
	w, err := NewWriter(path, format)
	if err != nil {
		return 0, fmt.Errorf("create writer: %w", err)
	}

	var written int
	for _, e := range entries {
		if err := w.Write(e); err != nil {
			_ = w.Close()
			return written, fmt.Errorf("write entry: %w", err)
		}
		written++
	}

	if err := w.Close(); err != nil {
		return written, fmt.Errorf("close writer: %w", err)
	}
	return written, nil
}

// NewWriter opens a writer for path.
func NewWriter(path string, format Format) (Writer, error) {
	switch format {
	case FormatParquet:
		return newParquetWriter(path)
	case FormatCSV:
		return newCSVWriter(path)
	case FormatJSONL:
		return newJSONLWriter(path)
	default:
		return nil, fmt.Errorf("unsupported format: %q", format)
	}
}
