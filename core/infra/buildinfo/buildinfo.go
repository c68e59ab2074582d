// Package buildinfo carries the version stamped at link time, falling back to
// the VCS data the Go toolchain embeds.
package buildinfo

import (
	"fmt"
	"runtime/debug"

	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/logging"
)

// Set with -ldflags "-X .../buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

var readBuildInfo = debug.ReadBuildInfo

func init() {
	resolve()
}

func resolve() {
	bi, ok := readBuildInfo()
	if !ok || bi == nil {
		return
	}
	if Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "unknown" && s.Value != "" {
				Commit = s.Value
				if len(Commit) > 12 {
					Commit = Commit[:12]
				}
			}
		case "vcs.time":
			if Date == "unknown" && s.Value != "" {
				Date = s.Value
			}
		}
	}
}

// Info returns a single-line build summary.
func Info() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", Version, Commit, Date)
}

// UserAgent identifies a service on outbound HTTP requests.
func UserAgent(service string) string {
	return fmt.Sprintf("%s/%s (+https://github.com/sapientcoffee/gemini-cli-extensions-catalog)", service, Version)
}

// Log writes the build summary under the service component.
func Log(service string) {
	logging.Info(service, "starting", "version", Version, "commit", Commit, "date", Date)
}
