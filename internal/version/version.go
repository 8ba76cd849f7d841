// Package version holds build-time version information.
package version

import "fmt"

// Set at build time via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String returns a human-readable version line.
func String() string {
	return fmt.Sprintf("streamloop %s (commit %s, built %s)", Version, Commit, BuildDate)
}
