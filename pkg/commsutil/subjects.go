package commsutil

import (
	"fmt"
	"strings"
)

// DefaultGroup is the subject namespace used when none is configured.
const DefaultGroup = "default"

// Header names carried on envelope messages.
const (
	HeaderSenderRole  = "Xmsg-Sender-Role"
	HeaderSenderTab   = "Xmsg-Sender-Tab"
	HeaderSenderFrame = "Xmsg-Sender-Frame"
	HeaderTargetFrame = "Xmsg-Frame-Id"
	HeaderTLSChannel  = "Xmsg-Tls-Channel"
)

// SanitizeGroup makes a group usable as a single subject token.
func SanitizeGroup(group string) string {
	g := strings.TrimSpace(group)
	if g == "" {
		return DefaultGroup
	}
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(g)
}

// BuildRuntimeSubject builds the runtime-addressed subject a surface listens
// on, e.g. "xmsg.default.runtime.orchestrator".
func BuildRuntimeSubject(group, surface string) string {
	return fmt.Sprintf("xmsg.%s.runtime.%s", SanitizeGroup(group), surface)
}

// BuildTabSubject builds the subject every page-agent of a tab listens on.
func BuildTabSubject(group string, tabID int) string {
	return fmt.Sprintf("xmsg.%s.tab.%d", SanitizeGroup(group), tabID)
}

// BuildTabFrameSubject builds the subject the page-agent of one frame of a
// tab listens on, e.g. "xmsg.default.tab.42.frame.0".
func BuildTabFrameSubject(group string, tabID, frameID int) string {
	return fmt.Sprintf("xmsg.%s.tab.%d.frame.%d", SanitizeGroup(group), tabID, frameID)
}

// BuildTabsQuerySubject builds the tab enumeration request subject.
func BuildTabsQuerySubject(group string) string {
	return fmt.Sprintf("xmsg.%s.tabs.query", SanitizeGroup(group))
}

// BuildPresenceSubject builds the global presence change subject.
func BuildPresenceSubject(group string) string {
	return fmt.Sprintf("xmsg.%s.presence.changed", SanitizeGroup(group))
}

// BuildTabPresenceSubject builds the granular per-tab presence subject.
func BuildTabPresenceSubject(group string, tabID int) string {
	return fmt.Sprintf("xmsg.%s.presence.changed.tab.%d", SanitizeGroup(group), tabID)
}
