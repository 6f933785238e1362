// Package buildinfo holds version metadata set at link time:
//
//	go build -ldflags "-X github.com/modoterra/droidwatch/internal/buildinfo.Version=v0.3.0"
package buildinfo

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the build metadata for a binary named name.
func String(name string) string {
	return name + " " + Version + " (" + Commit + ") built " + Date
}
