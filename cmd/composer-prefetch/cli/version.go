package cli

// Version information (set by main)
var (
	Version = "0.0.0-dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	return Version
}

// GetFullVersion returns version, commit and build date
func GetFullVersion() string {
	return "composer-prefetch version " + Version + "\n" +
		"commit: " + Commit + "\n" +
		"built: " + Date
}
