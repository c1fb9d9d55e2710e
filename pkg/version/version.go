// Package version exposes build metadata stamped in through -ldflags.
package version

import (
	"fmt"
	"runtime/debug"
)

// Build metadata, overridden at link time with
// -X github.com/Sumatoshi-tech/ivtree/pkg/version.Version=... and friends.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Init fills Version and Commit from the embedded module build info when the
// binary was built without -ldflags.
func Init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if Commit == "none" {
				Commit = setting.Value
			}
		case "vcs.time":
			if Date == "unknown" {
				Date = setting.Value
			}
		}
	}
}

// String formats the metadata for the version command.
func String() string {
	return fmt.Sprintf("ivtree %s (commit: %s, built: %s)", Version, Commit, Date)
}
