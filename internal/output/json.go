package output

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/jmylchreest/techdex/pkg/catalog"
)

// JSONWriter writes the result as one JSON document.
type JSONWriter struct {
	w      *bufio.Writer
	pretty bool
	indent string
}

// NewJSONWriter creates a JSON writer.
func NewJSONWriter(w io.Writer, pretty bool, indent string) *JSONWriter {
	return &JSONWriter{
		w:      bufio.NewWriter(w),
		pretty: pretty,
		indent: indent,
	}
}

// Write encodes r.
func (w *JSONWriter) Write(r *catalog.ScrapeResult) error {
	enc := json.NewEncoder(w.w)
	enc.SetEscapeHTML(false)
	if w.pretty {
		enc.SetIndent("", w.indent)
	}
	return enc.Encode(r)
}

// Close flushes the writer.
func (w *JSONWriter) Close() error {
	return w.w.Flush()
}

// Line kinds written by JSONLWriter.
const (
	LineMetadata   = "metadata"
	LineTechnology = "technology"
	LineSkipped    = "skipped"
)

// Line is one JSONL record. Exactly one of the payload fields is set.
type Line struct {
	Type       string              `json:"type"`
	Metadata   *catalog.Metadata   `json:"metadata,omitempty"`
	Technology *catalog.Technology `json:"technology,omitempty"`
	Skipped    *catalog.Skipped    `json:"skipped,omitempty"`
}

// JSONLWriter writes newline-delimited JSON: the metadata, then one line per
// technology, then one per skipped technology.
type JSONLWriter struct {
	w *bufio.Writer
}

// NewJSONLWriter creates a JSONL writer.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{
		w: bufio.NewWriter(w),
	}
}

// Write writes r line by line.
func (w *JSONLWriter) Write(r *catalog.ScrapeResult) error {
	if err := w.line(Line{Type: LineMetadata, Metadata: &r.Metadata}); err != nil {
		return err
	}
	for _, c := range r.Categories {
		for _, t := range c.Technologies {
			if err := w.line(Line{Type: LineTechnology, Technology: t}); err != nil {
				return err
			}
		}
	}
	for i := range r.Skipped {
		if err := w.line(Line{Type: LineSkipped, Skipped: &r.Skipped[i]}); err != nil {
			return err
		}
	}
	return w.w.Flush()
}

func (w *JSONLWriter) line(l Line) error {
	output, err := json.Marshal(l)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(output); err != nil {
		return err
	}
	_, err = w.w.WriteString("\n")
	return err
}

// Close flushes the writer.
func (w *JSONLWriter) Close() error {
	return w.w.Flush()
}
