package observability

// Build identification, stamped via -ldflags at release time.
var (
	Version = "dev"  // release version
	Commit  = "none" // short commit hash
	Date    = ""     // ISO8601 UTC build time
)
