package version

import "fmt"

var (
	// Version is the current release.
	// It should be populated by the build system (ldflags).
	Version = "v0.4.0-dev"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)

// String renders the build identity for the CLI.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}
