// Package version carries build metadata stamped in via -ldflags.
package version

import "fmt"

var (
	// Version is the semantic version of the build, e.g. "v0.3.1".
	Version = "dev"
	// Commit is the short git commit hash the binary was built from.
	Commit = "none"
	// Date is the build timestamp in RFC 3339 form.
	Date = "unknown"
)

// UserAgent returns a stable identifier for logs and diagnostics.
func UserAgent() string {
	return fmt.Sprintf("bstore/%s (%s)", Version, Commit)
}
