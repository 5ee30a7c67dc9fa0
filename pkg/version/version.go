// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
)

// Set by -ldflags "-X github.com/coral-mesh/coral-trace/pkg/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info describes the running build.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Get returns the build info.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}

// String renders the info as the version command prints it.
func (i Info) String() string {
	return fmt.Sprintf("coral-trace version %s\nGit commit: %s\nBuild date: %s\nGo version: %s\n",
		i.Version, i.GitCommit, i.BuildDate, i.GoVersion)
}
