// Package version reports the build identity of the spilink binaries.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/ocxo/spilink/internal/version.Version=v0.3.0 \
//	                   -X github.com/ocxo/spilink/internal/version.Commit=abc1234"
//
// Unset values are filled from the module's VCS stamp, then fall back to a
// dev version.
var (
	Version = ""
	Commit  = ""
	Date    = ""
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		fill(info.Settings)
	}
	if Version == "" {
		Version = "dev"
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

// fill takes commit and date from the vcs.* build settings.
func fill(settings []debug.BuildSetting) {
	var revision, modified, vcsTime string
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value
		case "vcs.time":
			vcsTime = s.Value
		}
	}

	if Commit == "" && revision != "" {
		Commit = revision
		if len(Commit) > 7 {
			Commit = Commit[:7]
		}
		if modified == "true" {
			Commit += "-dirty"
		}
	}

	if vcsTime == "" {
		return
	}
	t, err := time.Parse(time.RFC3339, vcsTime)
	if err != nil {
		return
	}
	if Date == "" {
		Date = t.UTC().Format("2006-01-02")
	}
	if Version == "" {
		Version = "dev-" + t.UTC().Format("20060102")
	}
}

// Full returns version, commit, and Go runtime on one line.
func Full() string {
	s := fmt.Sprintf("%s (commit: %s", Version, Commit)
	if Date != "" {
		s += ", built: " + Date
	}
	return s + ", " + runtime.Version() + ")"
}
