// Package version reports the crewmind build version.
package version

import "runtime/debug"

// version is set at build time via -ldflags "-X crewmind/internal/version.version=...".
var version = "dev" //nolint:gochecknoglobals // ldflags requires package-level var

// String returns the ldflags version, or the module version recorded by
// `go install` when no ldflags were given.
func String() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}
