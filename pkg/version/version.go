// Package version provides version information for the omni-oracle application.
package version

// Version is the current version of the omni-oracle application.
const Version = "0.3.1"

// AgentString returns the full agent string with versioning.
// Format: @omni-oracle/engine@v{version}
func AgentString() string {
	return "@omni-oracle/engine@v" + Version
}
