package common

import "fmt"

// Set via -ldflags "-X github.com/ternarybob/dracma/internal/common.Version=..."
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// GetVersion returns the release version
func GetVersion() string {
	return Version
}

// GetFullVersion returns the version with build metadata
func GetFullVersion() string {
	return fmt.Sprintf("%s (build: %s, commit: %s)", Version, Build, GitCommit)
}
