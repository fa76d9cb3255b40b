// Package version holds the engine version and the compatibility rule used
// when loading strategies built against a specific engine release.
package version

// Version is the current version of the tidemark library. It is overridden at
// build time:
// -ldflags "-X github.com/tidemark-lab/tidemark/internal/version.Version=1.2.3"
// The default "main" marks a development build.
var Version = "main"

// GetVersion returns the current version of the library.
func GetVersion() string {
	return Version
}
