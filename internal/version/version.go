package version

var (
	// Version is the firmware version reported to the backend when the store
	// holds none.
	Version = "1.0.0"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"

	// DefaultServerURL and DefaultAPIKey are build-time fallbacks for the
	// backend. Empty means the operator must configure them.
	DefaultServerURL = ""
	DefaultAPIKey    = ""
)
