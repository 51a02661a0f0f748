package export

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/ppiankov/scrapewatch/internal/logtypes"
)

type jsonlWriter struct {
	file *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
	enc  *json.Encoder
}

// newJSONLWriter writes one entry per line, zstd-compressed when path ends in .zst.
func newJSONLWriter(path string) (*jsonlWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := &jsonlWriter{file: f}
	var out io.Writer = f
	if strings.HasSuffix(path, ".zst") {
		zw, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		w.zw = zw
		out = zw
	}

	w.buf = bufio.NewWriter(out)
	w.enc = json.NewEncoder(w.buf)
	w.enc.SetEscapeHTML(false)
	return w, nil
}

func (w *jsonlWriter) Write(e logtypes.LogEntry) error {
	return w.enc.Encode(e)
}

func (w *jsonlWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()
		return err
	}
	if w.zw != nil {
		if err := w.zw.Close(); err != nil {
			_ = w.file.Close()
			return err
		}
	}
	return w.file.Close()
}

// ReadJSONL reads entries written by the jsonl writer, decompressing .zst files.
// Lines that do not decode are skipped.
func ReadJSONL(path string) ([]logtypes.LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("zstd open: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	var entries []logtypes.LogEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		e, err := logtypes.Decode(scanner.Bytes())
		if errors.Is(err, logtypes.ErrMalformedEntry) {
			continue
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("scan %s: %w", path, err)
	}
	return entries, nil
}
