package role

import (
	"fmt"
	"log/slog"
	"strings"
)

const logPrefix = "role:classify"

// Probe exposes the host capabilities the classifier inspects.
type Probe interface {
	// BackgroundCheck reports whether the current surface is the background
	// surface. ok is false when the host does not offer the check at all.
	BackgroundCheck() (isBackground bool, ok bool)
	// MessagingAvailable reports whether any extension-style messaging
	// capability is present.
	MessagingAvailable() bool
}

// Classify resolves the role of the current process. The explicit
// background check is consulted first so a detached control panel is never
// mistaken for a page.
func Classify(p Probe) Role {
	if p == nil {
		return Standalone
	}
	isBackground, ok := p.BackgroundCheck()
	messaging := p.MessagingAvailable()
	var r Role
	switch {
	case ok && isBackground:
		r = Orchestrator
	case ok && !isBackground && messaging:
		r = ControlPanel
	case !messaging:
		r = Standalone
	default:
		r = PageAgent
	}
	slog.Debug(fmt.Sprintf("%s - classified as %s", logPrefix, r))
	return r
}

// Surface names accepted by EnvProbe.
const (
	SurfaceBackground = "background"
	SurfacePopup      = "popup"
	SurfacePage       = "page"
)

// EnvProbe derives host capabilities from process configuration: the declared
// surface and whether a messaging endpoint is configured.
type EnvProbe struct {
	Surface   string
	Messaging bool
}

// BackgroundCheck is only offered to extension surfaces (background, popup).
func (p EnvProbe) BackgroundCheck() (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(p.Surface)) {
	case SurfaceBackground:
		return true, true
	case SurfacePopup:
		return false, true
	default:
		return false, false
	}
}

// MessagingAvailable reports whether a messaging endpoint is configured.
func (p EnvProbe) MessagingAvailable() bool {
	return p.Messaging
}

// StaticProbe is a fixed Probe, mostly useful in tests.
type StaticProbe struct {
	HasCheck     bool
	IsBackground bool
	Messaging    bool
}

// BackgroundCheck returns the fixed answer.
func (p StaticProbe) BackgroundCheck() (bool, bool) {
	return p.IsBackground, p.HasCheck
}

// MessagingAvailable returns the fixed answer.
func (p StaticProbe) MessagingAvailable() bool {
	return p.Messaging
}
