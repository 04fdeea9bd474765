// Package version holds build information injected at link time:
//
//	go build -ldflags "-X github.com/pgweekly/pgwsearch/pkg/version.Version=1.2.0 \
//	  -X github.com/pgweekly/pgwsearch/pkg/version.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/pgweekly/pgwsearch/pkg/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
)

// Program is the binary name used in version strings.
const Program = "pgwsearch"

var (
	// Version is the release version, "dev" for untagged builds.
	Version = "dev"
	// Commit is the short git commit hash.
	Commit = "unknown"
	// Date is the build time in RFC3339.
	Date = "unknown"
)

// BuildInfo is version information in JSON form.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String returns the one-line version banner.
func String() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, go: %s)",
		Program, Version, Commit, Date, runtime.Version())
}

// Short returns the bare version.
func Short() string { return Version }

// GetInfo returns the build information.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
