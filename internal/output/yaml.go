package output

import (
	"bufio"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/techdex/pkg/catalog"
)

// YAMLWriter writes YAML output.
type YAMLWriter struct {
	w *bufio.Writer
}

// NewYAMLWriter creates a YAML writer.
func NewYAMLWriter(w io.Writer) *YAMLWriter {
	return &YAMLWriter{
		w: bufio.NewWriter(w),
	}
}

// Write encodes r as a single YAML document.
func (w *YAMLWriter) Write(r *catalog.ScrapeResult) error {
	encoder := yaml.NewEncoder(w.w)
	encoder.SetIndent(2)
	if err := encoder.Encode(r); err != nil {
		return err
	}
	return encoder.Close()
}

// Close flushes the writer.
func (w *YAMLWriter) Close() error {
	return w.w.Flush()
}
