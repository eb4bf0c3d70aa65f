// Package version carries the build identity stamped on outbound
// operations and logs.
package version

import "fmt"

// Overridden at link time via -ldflags.
var (
	semanticVersion = "0.1.0"
	gitCommit       = ""
)

// AgentName identifies this implementation to the control plane.
const AgentName = "GATEKIT"

// SemanticVersion returns the release version.
func SemanticVersion() string {
	return semanticVersion
}

// Version returns the full human-readable build identity.
func Version() string {
	if gitCommit == "" {
		return semanticVersion
	}
	return fmt.Sprintf("%s (%s)", semanticVersion, gitCommit)
}

// ServiceAgent returns the agent string operations carry, e.g.
// "GATEKIT/0.1.0".
func ServiceAgent() string {
	return AgentName + "/" + semanticVersion
}
