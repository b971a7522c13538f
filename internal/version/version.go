// Package version carries the build metadata stamped in through ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func String() string {
	return fmt.Sprintf("%s (%s, %s)", Version, Commit, Date)
}

// Banner is the line the version subcommand prints.
func Banner() string {
	return fmt.Sprintf("telegen %s (%s, %s) %s", Version, Commit, Date, runtime.Version())
}
