// Package role classifies the execution context a messenger runs in.
package role

// Role is the part a process plays in the messaging topology. It is computed
// once at startup and never changes for the lifetime of the process.
type Role int

const (
	// Standalone has no messaging capability; the messenger is inert.
	Standalone Role = iota
	// Orchestrator is the long-lived, privileged background surface.
	Orchestrator
	// ControlPanel is the short-lived user-facing surface (the popup).
	ControlPanel
	// PageAgent is a script attached to one page or frame.
	PageAgent
)

// String returns the lower-case role name used in logs and subjects.
func (r Role) String() string {
	switch r {
	case Orchestrator:
		return "orchestrator"
	case ControlPanel:
		return "panel"
	case PageAgent:
		return "page"
	default:
		return "standalone"
	}
}

// IsExtension reports whether the role can enumerate tabs and address them
// directly (orchestrator and control panel).
func (r Role) IsExtension() bool {
	return r == Orchestrator || r == ControlPanel
}

// RuntimePeer returns the surface a runtime-addressed send from r reaches.
// The orchestrator talks to the control panel; everyone else talks to the
// orchestrator.
func (r Role) RuntimePeer() Role {
	if r == Orchestrator {
		return ControlPanel
	}
	return Orchestrator
}

// Parse is the inverse of String. Unknown names parse as Standalone.
func Parse(name string) Role {
	switch name {
	case "orchestrator":
		return Orchestrator
	case "panel":
		return ControlPanel
	case "page":
		return PageAgent
	default:
		return Standalone
	}
}
