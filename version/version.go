// Package version reports the build version of klavier.
package version

import (
	"runtime/debug"
	"sync"
)

// Version is set at build time, e.g.
//
//	go build -ldflags "-X github.com/vsariola/klavier/version.Version=$(git describe --dirty)"
var Version string

// String returns Version if set, otherwise the module version from the build
// info, otherwise the short vcs revision with a -dirty suffix for modified
// trees. Returns "devel" when none is known.
var String = sync.OnceValue(func() string {
	if Version != "" {
		return Version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "devel"
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	settings := map[string]string{}
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	rev := settings["vcs.revision"]
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if rev == "" {
		return "devel"
	}
	if settings["vcs.modified"] == "true" {
		rev += "-dirty"
	}
	return rev
})
