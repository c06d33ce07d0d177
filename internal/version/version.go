package version

import "fmt"

// Set at build time with -ldflags "-X".
var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the build identity for -version and startup logs.
func String() string {
	return fmt.Sprintf("ndt-mapping %s (%s, built %s)", Version, GitSHA, BuildTime)
}
