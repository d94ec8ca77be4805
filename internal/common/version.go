package common

// Version is overridden at build time via
// -ldflags "-X github.com/ternarybob/colligo/internal/common.Version=..."
var Version = "0.1.0-dev"

// GetVersion returns the build version string
func GetVersion() string {
	return Version
}
