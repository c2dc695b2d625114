// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/wsclient/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/wsclient/internal/version.Commit=$(git rev-parse --short HEAD)" \
//	         ./cmd/wsclient
package version

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns a formatted version string.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// UserAgent is the default User-Agent sent with the opening handshake.
func UserAgent() string {
	return "wsclient/" + Version
}
