// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
	BuiltBy = ""
)

// String renders the one-line build description printed by `soro version`.
func String() string {
	s := fmt.Sprintf("soro %s (commit=%s, date=%s, go=%s)", Version, Commit, Date, runtime.Version())
	if BuiltBy != "" {
		s += " built by " + BuiltBy
	}
	return s
}
