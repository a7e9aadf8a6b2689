// Package version exposes the build version: an -ldflags override when set,
// otherwise the VCS revision from build metadata, otherwise "dev".
package version

import "runtime/debug"

// AppName is used in version strings and log banners.
const AppName = "sed"

// override is set via -ldflags for builds without a .git directory.
var override string

// Revision is the short commit hash identifying this build.
var Revision = initRevision()

func initRevision() string {
	if override != "" {
		return short(override)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return short(s.Value)
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "sed/<revision>".
func Full() string {
	return AppName + "/" + Revision
}
