// Package buildinfo carries version details stamped in at link time with
// -ldflags "-X github.com/poirot-research/poirot/internal/buildinfo.Version=...".
package buildinfo

var (
	Version   = "dev"
	Revision  = "unknown"
	BuildDate = "unknown"
)
