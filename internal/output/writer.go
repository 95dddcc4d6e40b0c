// Package output writes a ScrapeResult as JSON, JSONL or YAML and prints the
// console summary.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jmylchreest/techdex/pkg/catalog"
)

// Format represents output format types.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// Writer serializes a run's result.
type Writer interface {
	// Write outputs the result.
	Write(r *catalog.ScrapeResult) error

	// Close flushes buffered output.
	Close() error
}

// WriterOption configures a writer.
type WriterOption func(*writerConfig)

type writerConfig struct {
	pretty bool
	indent string
}

// WithPretty enables pretty-printing.
func WithPretty(enabled bool) WriterOption {
	return func(c *writerConfig) {
		c.pretty = enabled
	}
}

// WithIndent sets the indentation string.
func WithIndent(indent string) WriterOption {
	return func(c *writerConfig) {
		c.indent = indent
	}
}

// NewWriter creates a writer for the specified format.
func NewWriter(w io.Writer, format Format, opts ...WriterOption) (Writer, error) {
	cfg := &writerConfig{
		pretty: true,
		indent: "  ",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	switch format {
	case FormatJSON:
		return NewJSONWriter(w, cfg.pretty, cfg.indent), nil
	case FormatJSONL:
		return NewJSONLWriter(w), nil
	case FormatYAML:
		return NewYAMLWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// FormatFor picks the format from a file extension, falling back to def.
func FormatFor(path string, def Format) Format {
	switch {
	case strings.HasSuffix(path, ".jsonl"), strings.HasSuffix(path, ".ndjson"):
		return FormatJSONL
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return FormatYAML
	case strings.HasSuffix(path, ".json"):
		return FormatJSON
	}
	return def
}

// Resolve returns format when it is set, else the format implied by path,
// else JSON.
func Resolve(format, path string) Format {
	if f := Format(strings.ToLower(strings.TrimSpace(format))); f != "" {
		return f
	}
	return FormatFor(path, FormatJSON)
}

// WriteFile writes r to path ("-" for stdout) in the given format.
func WriteFile(path string, format Format, r *catalog.ScrapeResult) error {
	var out io.Writer = os.Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path) //#nosec G304 -- CLI tool writes to user-specified output file
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	w, err := NewWriter(out, format)
	if err != nil {
		return err
	}
	if err := w.Write(r); err != nil {
		return fmt.Errorf("write %s output: %w", format, err)
	}
	return w.Close()
}
