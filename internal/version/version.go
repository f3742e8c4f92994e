package version

import "fmt"

// Set at build time with -ldflags "-X".
var (
	CLIName    = "dustsweep"
	CLIVersion = "0.1.0"
	Commit     = "unknown"
	BuildDate  = "unknown"
)

func Long() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s)", CLIName, CLIVersion, Commit, BuildDate)
}

// UserAgent is sent on every provider request so upstream APIs can attribute
// dust-sweep traffic.
func UserAgent() string {
	return CLIName + "/" + CLIVersion
}
