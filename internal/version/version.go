// Package version provides build-time version information.
package version

import "fmt"

// Version is set by the build process
var Version = "dev"

// GitCommit is set by the build process
var GitCommit = "unknown"

// BuildDate is set by the build process
var BuildDate = "unknown"

// String renders the version line printed by `helmlens version`
func String() string {
	return fmt.Sprintf("helmlens %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
