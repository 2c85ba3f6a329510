package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/morezero/crossmessenger/pkg/envelope"
	"github.com/morezero/crossmessenger/pkg/role"
	"github.com/morezero/crossmessenger/pkg/tabs"
)

const forwardLogPrefix = "messenger:forward"

// buildEnvelope creates the envelope for an outbound event. When fwd is set
// and the caller is a page-agent the envelope is wrapped in a Forward
// envelope for the orchestrator to re-route; other roles send directly.
func (m *Messenger) buildEnvelope(event string, data any, parent *envelope.Envelope, fwd *envelope.MessageOptions) (*envelope.Envelope, error) {
	env, err := envelope.New(m.id, event, data, parent)
	if err != nil {
		return nil, err
	}
	if fwd == nil || m.role != role.PageAgent {
		return env, nil
	}
	return envelope.Wrap(m.id, env, *fwd)
}

// doSend hands env to the host. A positive tabID from an extension surface
// uses the tab primitive; everything else goes over the runtime channel.
func (m *Messenger) doSend(tabID int, env *envelope.Envelope, opts *envelope.SendOptions) {
	cb := opts.CallbackOrNil()

	var err error
	if tabID > 0 && m.role.IsExtension() {
		tabOpts, dropped := opts.TabsOptions()
		m.logDropped(env, "tab", dropped)
		err = m.transport.SendToTab(tabID, env, tabOpts, cb)
	} else {
		runtimeOpts, dropped := opts.RuntimeOptions()
		m.logDropped(env, "runtime", dropped)
		err = m.transport.SendRuntime(env, runtimeOpts, cb)
	}
	if err != nil {
		m.fail(opts, fmt.Errorf("%s - send %q failed: %w", forwardLogPrefix, env.Event, err))
	}
}

func (m *Messenger) logDropped(env *envelope.Envelope, primitive string, dropped []string) {
	// Forward envelopes carry the full option set for the orchestrator.
	if len(dropped) == 0 || env.IsForward() {
		return
	}
	slog.Debug(fmt.Sprintf("%s - %s primitive does not accept %s; dropped for %q",
		forwardLogPrefix, primitive, strings.Join(dropped, ", "), env.Event))
}

func (m *Messenger) doSendByIDList(ids []int, env *envelope.Envelope, opts *envelope.SendOptions) {
	for _, id := range ids {
		m.doSend(id, env, opts)
	}
}

// doSendToActive resolves the active tabs and sends to each. The send
// happens whenever the enumeration completes.
func (m *Messenger) doSendToActive(ctx context.Context, env *envelope.Envelope, opts *envelope.SendOptions) {
	m.fanOut(ctx, tabs.ActiveFilter(), env, opts)
}

// doSendToAll resolves every open tab and sends to each.
func (m *Messenger) doSendToAll(ctx context.Context, env *envelope.Envelope, opts *envelope.SendOptions) {
	m.fanOut(ctx, tabs.Filter{}, env, opts)
}

func (m *Messenger) fanOut(ctx context.Context, f tabs.Filter, env *envelope.Envelope, opts *envelope.SendOptions) {
	if ctx == nil {
		ctx = m.ctx
	}
	m.pending.Add(1)
	m.tabs.QueryTabs(ctx, f, func(ids []int, err error) {
		defer m.pending.Done()
		if err != nil {
			m.fail(opts, fmt.Errorf("%s - tab enumeration failed: %w", forwardLogPrefix, err))
			return
		}
		if m.isClosed() {
			return
		}
		m.doSendByIDList(ids, env, opts)
	})
}

// handleForward re-routes the envelope a page-agent wrapped. It runs only
// in the orchestrator. Malformed forwards are logged and dropped.
func (m *Messenger) handleForward(_ json.RawMessage, c *Context) {
	outer := c.Envelope
	inner, err := outer.Unwrap()
	if err != nil {
		slog.Error(fmt.Sprintf("%s - undecodable forward from %s: %v", forwardLogPrefix, outer.SourceID, err))
		return
	}
	if outer.Options == nil {
		slog.Error(fmt.Sprintf("%s - forward without options from %s: %s", forwardLogPrefix, outer.SourceID, describe(outer)))
		return
	}

	fo := outer.Options.ForwardOptions.WithoutCallback()
	switch outer.Options.ForwardType {
	case envelope.ForwardActiveTab:
		m.doSendToActive(m.ctx, inner, fo)
	case envelope.ForwardAll:
		m.doSendToAll(m.ctx, inner, fo)
	case envelope.ForwardTabIDList:
		m.doSendByIDList(outer.Options.ForwardIDList, inner, fo)
	case envelope.ForwardControlPanel:
		m.doSend(0, inner, fo)
	default:
		slog.Error(fmt.Sprintf("%s - unknown forward type %q from %s: %s",
			forwardLogPrefix, outer.Options.ForwardType, outer.SourceID, describe(outer)))
	}
}

func describe(env *envelope.Envelope) string {
	data, err := envelope.Encode(env)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}
