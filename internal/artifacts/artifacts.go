// Package artifacts stores debugging evidence (page HTML, screenshots)
// captured when a page does not look the way the scraper expects.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/techdex/internal/logger"
)

// Sink receives artifacts. Implementations never fail the caller; write
// errors are logged.
type Sink interface {
	HTML(name, html string)
	Screenshot(name string, png []byte)
}

// Noop discards everything.
type Noop struct{}

func (Noop) HTML(string, string)       {}
func (Noop) Screenshot(string, []byte) {}

// DefaultMaxHTML caps stored HTML.
const DefaultMaxHTML = 256 * 1024

// Dir writes artifacts into a directory, one file per artifact.
type Dir struct {
	path    string
	maxHTML int

	mu    sync.Mutex
	seq   int
	files []string
}

// NewDir creates the directory if needed. maxHTML <= 0 uses DefaultMaxHTML.
func NewDir(path string, maxHTML int) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	if maxHTML <= 0 {
		maxHTML = DefaultMaxHTML
	}
	return &Dir{path: path, maxHTML: maxHTML}, nil
}

// HTML stores html under name, truncated to the configured cap.
func (d *Dir) HTML(name, html string) {
	data := []byte(html)
	if len(data) > d.maxHTML {
		logger.Debug("artifact truncated",
			"name", name,
			"size", humanize.Bytes(uint64(len(data))),
			"cap", humanize.Bytes(uint64(d.maxHTML)))
		data = append(data[:d.maxHTML:d.maxHTML], []byte("\n<!-- truncated -->\n")...)
	}
	d.write(name, ".html", data)
}

// Screenshot stores a PNG screenshot.
func (d *Dir) Screenshot(name string, png []byte) {
	if len(png) == 0 {
		return
	}
	d.write(name, ".png", png)
}

// Files lists the paths written so far.
func (d *Dir) Files() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.files...)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (d *Dir) write(name, ext string, data []byte) {
	d.mu.Lock()
	d.seq++
	file := filepath.Join(d.path, fmt.Sprintf("%03d_%s_%s%s",
		d.seq, time.Now().Format("150405"), unsafeChars.ReplaceAllString(name, "_"), ext))
	d.mu.Unlock()

	if err := os.WriteFile(file, data, 0o644); err != nil {
		logger.Warn("failed to write artifact", "file", file, "error", err)
		return
	}

	d.mu.Lock()
	d.files = append(d.files, file)
	d.mu.Unlock()
	logger.Debug("artifact saved", "file", file, "size", humanize.Bytes(uint64(len(data))))
}
