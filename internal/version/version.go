// Package version carries build information set with -ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
)

// String formats the version for --version output.
func String(program string) string {
	return fmt.Sprintf("%s %s (%s)", program, Version, Commit)
}
