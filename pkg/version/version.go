// Package version carries build metadata stamped at link time.
package version

import "runtime/debug"

// Version and CommitSHA can be set via:
// -ldflags="-X 'github.com/modelguard/modelguard/pkg/version.Version=$TAG'"
var (
	Version   string
	CommitSHA string
)

func init() {
	if Version == "" {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		Version = info.Main.Version
	}
}
