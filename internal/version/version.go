// Package version provides build-time version information for techdex.
//
// Variables in this package are set at build time using ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/techdex/internal/version.Version=1.0.0 ..."
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info contains structured version information
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the current version information
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// Tag identifies the build in result metadata.
func Tag() string {
	return "techdex/" + Version
}

// Full returns a multi-line version string with all details
func Full() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "techdex %s\n", Version)
	fmt.Fprintf(&sb, "  Commit:     %s\n", Commit)
	fmt.Fprintf(&sb, "  Built:      %s\n", BuildDate)
	fmt.Fprintf(&sb, "  Go version: %s\n", runtime.Version())
	fmt.Fprintf(&sb, "  OS/Arch:    %s/%s", runtime.GOOS, runtime.GOARCH)
	return sb.String()
}
