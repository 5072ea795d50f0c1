package export

import (
	"encoding/json"
	"fmt"
	"io"

	"logtools/internal/parser"

	"github.com/klauspost/compress/zstd"
)

// Entry is one exported line.
type Entry struct {
	Source string `json:"source,omitempty"`
	parser.LogLine
}

// Writer emits parsed lines as JSON lines, optionally zstd compressed.
type Writer struct {
	enc     *json.Encoder
	encoder *zstd.Encoder
	written int
}

func NewWriter(w io.Writer, compress bool) (*Writer, error) {
	out := &Writer{}
	if compress {
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		out.encoder = enc
		w = enc
	}
	out.enc = json.NewEncoder(w)
	out.enc.SetEscapeHTML(false)
	return out, nil
}

func (w *Writer) Write(source string, line *parser.LogLine) error {
	if err := w.enc.Encode(Entry{Source: source, LogLine: *line}); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	w.written++
	return nil
}

// Written is the number of lines written so far.
func (w *Writer) Written() int { return w.written }

// Close flushes the compressor. The underlying writer is left open.
func (w *Writer) Close() error {
	if w.encoder == nil {
		return nil
	}
	return w.encoder.Close()
}
