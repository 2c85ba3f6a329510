package messenger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/crossmessenger/pkg/envelope"
	"github.com/morezero/crossmessenger/pkg/role"
)

const sendLogPrefix = "messenger:send"

// The send operations never return errors. Delivery failures reach only
// opts.Callback; without one they are logged and dropped.

// Send publishes event to every other surface: page-agents, the
// orchestrator and the control panel, excluding the caller's own surface.
func (m *Messenger) Send(ctx context.Context, event string, data any, opts *envelope.SendOptions) {
	if !m.ready() {
		return
	}
	switch m.role {
	case role.PageAgent:
		m.SendToPageAgents(ctx, event, data, opts)
		m.SendToOrchestrator(ctx, event, data, opts)
		m.SendToControlPanel(ctx, event, data, opts)
	case role.Orchestrator:
		m.SendToPageAgents(ctx, event, data, opts)
		m.SendToControlPanel(ctx, event, data, opts)
	case role.ControlPanel:
		m.SendToOrchestrator(ctx, event, data, opts)
		m.SendToPageAgents(ctx, event, data, opts)
	}
}

// SendToOrchestrator delivers event to the orchestrator.
func (m *Messenger) SendToOrchestrator(_ context.Context, event string, data any, opts *envelope.SendOptions) {
	if !m.ready() {
		return
	}
	if m.role == role.Orchestrator {
		slog.Warn(fmt.Sprintf("%s - SendToOrchestrator called from the orchestrator; ignoring %q", sendLogPrefix, event))
		return
	}
	env, err := m.buildEnvelope(event, data, nil, nil)
	if err != nil {
		m.fail(opts, err)
		return
	}
	m.doSend(0, env, opts)
}

// SendToPageAgents delivers event to the page-agents of the active tabs.
// A page-agent cannot enumerate tabs, so it asks the orchestrator to
// forward.
func (m *Messenger) SendToPageAgents(ctx context.Context, event string, data any, opts *envelope.SendOptions) {
	if !m.ready() {
		return
	}
	env, err := m.buildEnvelope(event, data, nil, &envelope.MessageOptions{
		ForwardType:    envelope.ForwardActiveTab,
		ForwardOptions: opts.WithoutCallback(),
	})
	if err != nil {
		m.fail(opts, err)
		return
	}
	if m.role == role.PageAgent {
		m.doSend(0, env, opts)
		return
	}
	m.doSendToActive(ctx, env, opts)
}

// SendToControlPanel delivers event to the control panel.
func (m *Messenger) SendToControlPanel(_ context.Context, event string, data any, opts *envelope.SendOptions) {
	if !m.ready() {
		return
	}
	if m.role == role.ControlPanel {
		slog.Warn(fmt.Sprintf("%s - SendToControlPanel called from the control panel; ignoring %q", sendLogPrefix, event))
		return
	}
	env, err := m.buildEnvelope(event, data, nil, &envelope.MessageOptions{
		ForwardType:    envelope.ForwardControlPanel,
		ForwardOptions: opts.WithoutCallback(),
	})
	if err != nil {
		m.fail(opts, err)
		return
	}
	m.doSend(0, env, opts)
}

// SendToAll broadcasts event to every tab and every other surface. The
// caller never receives its own broadcast.
func (m *Messenger) SendToAll(ctx context.Context, event string, data any, opts *envelope.SendOptions) {
	if !m.ready() {
		return
	}

	if m.role == role.PageAgent {
		env, err := m.buildEnvelope(event, data, nil, &envelope.MessageOptions{
			ForwardType:    envelope.ForwardAll,
			ForwardOptions: opts.WithoutCallback(),
		})
		if err != nil {
			m.fail(opts, err)
			return
		}
		m.doSend(0, env, opts)
		m.SendToOrchestrator(ctx, event, data, opts)
		m.SendToControlPanel(ctx, event, data, opts)
		return
	}

	env, err := m.buildEnvelope(event, data, nil, nil)
	if err != nil {
		m.fail(opts, err)
		return
	}
	m.doSendToAll(ctx, env, opts)
	if m.role == role.Orchestrator {
		m.SendToControlPanel(ctx, event, data, opts)
	} else {
		m.SendToOrchestrator(ctx, event, data, opts)
	}
}

// SendByID delivers event to the page-agents of one tab.
func (m *Messenger) SendByID(ctx context.Context, tabID int, event string, data any, opts *envelope.SendOptions) {
	m.SendToTabIDList(ctx, []int{tabID}, event, data, opts)
}

// SendToTabIDList delivers event to the page-agents of exactly the given
// tabs.
func (m *Messenger) SendToTabIDList(_ context.Context, ids []int, event string, data any, opts *envelope.SendOptions) {
	if !m.ready() {
		return
	}
	env, err := m.buildEnvelope(event, data, nil, &envelope.MessageOptions{
		ForwardType:    envelope.ForwardTabIDList,
		ForwardOptions: opts.WithoutCallback(),
		ForwardIDList:  append([]int(nil), ids...),
	})
	if err != nil {
		m.fail(opts, err)
		return
	}
	if m.role.IsExtension() {
		m.doSendByIDList(ids, env, opts)
		return
	}
	m.doSend(0, env, opts)
}

// ready reports whether sends are possible. Inert and closed messengers
// drop every send.
func (m *Messenger) ready() bool {
	if m.inert() {
		return false
	}
	if m.isClosed() {
		slog.Debug(fmt.Sprintf("%s - messenger %s is closed; dropping send", sendLogPrefix, m.id))
		return false
	}
	return true
}

// fail reports a send failure to the caller's callback or the log.
func (m *Messenger) fail(opts *envelope.SendOptions, err error) {
	if cb := opts.CallbackOrNil(); cb != nil {
		cb(nil, err)
		return
	}
	slog.Debug(fmt.Sprintf("%s - send failed: %v", sendLogPrefix, err))
}
