package messenger

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/morezero/crossmessenger/pkg/dispatcher"
	"github.com/morezero/crossmessenger/pkg/envelope"
)

const metaLogPrefix = "messenger:meta"

// connectData is the payload of a Connect meta-event.
type connectData struct {
	Version string `json:"version"`
}

// installMetaHandlers wires the reserved events into the orchestrator's
// dispatch table. The registry is reachable only through them.
func (m *Messenger) installMetaHandlers() {
	m.table.AddHandlers(map[string]dispatcher.Handler{
		envelope.EventConnect:             m.handleConnect,
		envelope.EventMessengerDisconnect: m.handleMessengerDisconnect,
		envelope.EventTabDisconnect:       m.handleTabDisconnect,
		envelope.EventForward:             m.handleForward,
	})
}

// notifyConnect announces this page-agent to the orchestrator.
func (m *Messenger) notifyConnect() {
	m.SendToOrchestrator(m.ctx, envelope.EventConnect, connectData{Version: m.cfg.Version}, nil)
}

func (m *Messenger) handleConnect(data json.RawMessage, c *Context) {
	if !c.Sender.FromTab() {
		slog.Warn(fmt.Sprintf("%s - connect from %s without a tab; ignoring", metaLogPrefix, c.Sender.Role))
		return
	}

	var cd connectData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &cd); err != nil {
			slog.Warn(fmt.Sprintf("%s - malformed connect data from %s: %v", metaLogPrefix, c.Envelope.SourceID, err))
		}
	}
	m.checkVersion(c.Envelope.SourceID, cd.Version)

	m.registry.Connect(m.ctx, c.Sender.TabID, c.Sender.FrameID, c.Envelope.SourceID, cd.Version)
}

// checkVersion logs agents whose protocol version falls outside the
// accepted range. They are still registered.
func (m *Messenger) checkVersion(instanceID, version string) {
	if version == "" {
		slog.Warn(fmt.Sprintf("%s - agent %s did not announce a protocol version", metaLogPrefix, instanceID))
		return
	}
	ok, err := m.checker.Check(version)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - agent %s: %v", metaLogPrefix, instanceID, err))
		return
	}
	if !ok {
		slog.Warn(fmt.Sprintf("%s - agent %s speaks protocol %s, outside %s",
			metaLogPrefix, instanceID, version, m.checker))
	}
}

func (m *Messenger) handleMessengerDisconnect(_ json.RawMessage, c *Context) {
	if !c.Sender.FromTab() {
		slog.Warn(fmt.Sprintf("%s - disconnect from %s without a tab; ignoring", metaLogPrefix, c.Sender.Role))
		return
	}
	m.registry.MessengerDisconnect(m.ctx, c.Sender.TabID, c.Sender.FrameID, c.Envelope.SourceID)
}

func (m *Messenger) handleTabDisconnect(_ json.RawMessage, c *Context) {
	if !c.Sender.FromTab() {
		slog.Warn(fmt.Sprintf("%s - tab disconnect from %s without a tab; ignoring", metaLogPrefix, c.Sender.Role))
		return
	}
	m.registry.TabDisconnect(m.ctx, c.Sender.TabID)
}
