// Package build houses the ambient concerns an embedding daemon wires up
// once: version metadata, log handler fan-out, file rotation, and the
// per-subsystem logger plumbing for the runtime's packages.
package build

import (
	"fmt"
	"runtime"
)

// Version components following semantic versioning.
const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0

	// appPreRelease marks the release as unstable while non-empty.
	appPreRelease = "beta"
)

// GoVersion is the Go toolchain the binary was built with.
var GoVersion = runtime.Version()

// Version returns the application version as a properly formed string.
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
	if appPreRelease != "" {
		version = fmt.Sprintf("%s-%s", version, appPreRelease)
	}

	return version
}
