package version

// Version is stamped at build time:
// go build -ldflags "-X git.home.luguber.info/inful/assetbuilder/internal/version.Version=v0.4.0".
var Version = "unknown"

// Build metadata, also stamped via ldflags.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String renders the version line printed by --version.
func String() string {
	return "assetbuilder " + Version + " (commit " + GitCommit + ", built " + BuildTime + ")"
}
