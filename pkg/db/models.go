package db

import "time"

// PresenceEvent represents a row in the presence_events table.
type PresenceEvent struct {
	ID           string    `json:"id"`
	Group        string    `json:"group"`
	Kind         string    `json:"kind"`
	TabID        int       `json:"tabId"`
	FrameID      *int      `json:"frameId,omitempty"`
	InstanceID   *string   `json:"instanceId,omitempty"`
	AgentVersion *string   `json:"agentVersion,omitempty"`
	Occurred     time.Time `json:"occurred"`
	Created      time.Time `json:"created"`
}

// TabRow represents a row in the tabs table.
type TabRow struct {
	ID       int       `json:"id"`
	WindowID int       `json:"windowId"`
	Active   bool      `json:"active"`
	Focused  bool      `json:"focused"`
	URL      *string   `json:"url,omitempty"`
	Title    *string   `json:"title,omitempty"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}
