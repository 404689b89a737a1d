// Package build contains build specific information.
package build

import (
	"runtime/debug"
	"strconv"
)

// version is injected at build time with -ldflags "-X .../internal/build.version=v1.2.3".
var version = "devel"

var gitRevision string

func init() {
	var (
		revision string
		dirty    bool
	)

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, i := range info.Settings {
		switch {
		case i.Key == "vcs.revision":
			revision = i.Value
		case i.Key == "vcs.modified":
			dirty, _ = strconv.ParseBool(i.Value)
		}
	}

	gitRevision = revision
	if dirty {
		gitRevision += "-dirty"
	}

	if version == "devel" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
}

// GetGitRevision retrieves the revision of the current build. If the build contains uncommitted
// changes the revision will be suffixed with "-dirty".
func GetGitRevision() string {
	return gitRevision
}

// GetVersion retrieves the release version of the current build.
func GetVersion() string {
	return version
}
