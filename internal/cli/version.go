package cli

// Build metadata, set with -ldflags "-X github.com/nmalaguti/karma-coverage/internal/cli.Version=..."
var (
	// Version is the semantic version (e.g., "0.3.1")
	Version = "dev"
	// Commit is the git commit SHA
	Commit = "unknown"
	// Date is the build date
	Date = "unknown"
)
