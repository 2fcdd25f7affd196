// Package version holds build-time identification for the edged binary.
package version

import "fmt"

// Version, GitCommit and BuildDate are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/edged/edged/pkg/version.Version=v1.0.0 \
//	  -X github.com/edged/edged/pkg/version.GitCommit=abc1234 \
//	  -X github.com/edged/edged/pkg/version.BuildDate=2026-01-01T00:00:00Z"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns a single-line human-readable version string, suitable for
// --version output and for the agent_version field of the provisioning
// registration payload.
func Info() string {
	return fmt.Sprintf("edged %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
