// Package events defines presence change events and the publishers that
// deliver them to observers.
package events

// PresenceKind names a presence transition.
type PresenceKind string

const (
	// PresenceConnected is emitted when a page-agent instance attaches.
	PresenceConnected PresenceKind = "connected"
	// PresenceDisconnected is emitted when one instance closes explicitly.
	PresenceDisconnected PresenceKind = "disconnected"
	// PresenceTabClosed is emitted when a whole tab goes away.
	PresenceTabClosed PresenceKind = "tab-closed"
)

// PresenceChangedEvent is emitted by the orchestrator whenever its
// connection registry changes.
type PresenceChangedEvent struct {
	Kind         PresenceKind `json:"kind"`
	Group        string       `json:"group,omitempty"`
	TabID        int          `json:"tabId"`
	FrameID      *int         `json:"frameId,omitempty"`
	InstanceID   string       `json:"instanceId,omitempty"`
	AgentVersion string       `json:"agentVersion,omitempty"`
	Timestamp    string       `json:"timestamp"`
}
