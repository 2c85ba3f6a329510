package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/crossmessenger/pkg/commsutil"
	"github.com/morezero/crossmessenger/pkg/envelope"
	"github.com/morezero/crossmessenger/pkg/role"
)

const commsLogPrefix = "transport:comms"

// CommsParams identifies the process on the COMMS bus.
type CommsParams struct {
	Group   string
	Role    role.Role
	TabID   int
	FrameID int
}

// Comms is a Transport over a COMMS connection. The connection is owned by
// the caller and is not closed by Close.
type Comms struct {
	nc     *comms.Conn
	params CommsParams

	mu     sync.Mutex
	subs   []*comms.Subscription
	closed bool
}

// NewComms creates a COMMS transport.
func NewComms(nc *comms.Conn, p CommsParams) (*Comms, error) {
	if nc == nil {
		return nil, fmt.Errorf("%s - connection is required", commsLogPrefix)
	}
	if p.Role == role.Standalone {
		return nil, fmt.Errorf("%s - standalone processes have no transport", commsLogPrefix)
	}
	if p.Role == role.PageAgent && p.TabID <= 0 {
		return nil, fmt.Errorf("%s - page-agent requires a tab id, got %d", commsLogPrefix, p.TabID)
	}
	if p.Group == "" {
		p.Group = commsutil.DefaultGroup
	}
	return &Comms{nc: nc, params: p}, nil
}

func (c *Comms) sender() commsutil.Sender {
	return commsutil.Sender{
		Role:    c.params.Role.String(),
		TabID:   c.params.TabID,
		FrameID: c.params.FrameID,
	}
}

func (c *Comms) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SendToTab publishes env on the tab subject. A frame restriction is sent
// on the subject of that frame only, so a missing frame agent is reported
// to cb as ErrNoReceiver like a missing tab.
func (c *Comms) SendToTab(tabID int, env *envelope.Envelope, opts envelope.TabsOptions, cb envelope.ReplyFunc) error {
	if c.isClosed() {
		return ErrClosed
	}
	if !c.params.Role.IsExtension() {
		return ErrNotPermitted
	}
	subject := commsutil.BuildTabSubject(c.params.Group, tabID)
	if opts.FrameID != nil {
		subject = commsutil.BuildTabFrameSubject(c.params.Group, tabID, *opts.FrameID)
	}
	msg, err := commsutil.NewEnvelopeMsg(subject, env, c.sender())
	if err != nil {
		return err
	}
	if opts.FrameID != nil {
		msg.Header.Set(commsutil.HeaderTargetFrame, strconv.Itoa(*opts.FrameID))
	}
	return c.publish(msg, cb)
}

// SendRuntime publishes env on the runtime subject of the peer surface.
// opts.ExtensionID, when set, replaces the configured group.
func (c *Comms) SendRuntime(env *envelope.Envelope, opts envelope.RuntimeOptions, cb envelope.ReplyFunc) error {
	if c.isClosed() {
		return ErrClosed
	}
	group := c.params.Group
	if opts.ExtensionID != "" {
		group = opts.ExtensionID
	}
	subject := commsutil.BuildRuntimeSubject(group, c.params.Role.RuntimePeer().String())
	msg, err := commsutil.NewEnvelopeMsg(subject, env, c.sender())
	if err != nil {
		return err
	}
	if opts.IncludeTLSChannelID {
		msg.Header.Set(commsutil.HeaderTLSChannel, "true")
	}
	return c.publish(msg, cb)
}

// publish sends msg. With a callback, a private inbox collects the first
// reply. There is no reply deadline.
func (c *Comms) publish(msg *comms.Msg, cb envelope.ReplyFunc) error {
	if cb == nil {
		if err := c.nc.PublishMsg(msg); err != nil {
			return fmt.Errorf("%s - failed to publish to %s: %w", commsLogPrefix, msg.Subject, err)
		}
		return nil
	}

	inbox := c.nc.NewRespInbox()
	sub, err := c.nc.Subscribe(inbox, func(reply *comms.Msg) {
		if isNoResponders(reply) {
			cb(nil, ErrNoReceiver)
			return
		}
		cb(json.RawMessage(reply.Data), nil)
	})
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe reply inbox: %w", commsLogPrefix, err)
	}
	if err := sub.AutoUnsubscribe(1); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("%s - failed to arm reply inbox: %w", commsLogPrefix, err)
	}

	msg.Reply = inbox
	if err := c.nc.PublishMsg(msg); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("%s - failed to publish to %s: %w", commsLogPrefix, msg.Subject, err)
	}
	return nil
}

// Listen subscribes to the subjects the process role receives on and passes
// every decoded envelope to h. A page-agent listens on its tab and on its
// own frame. Envelopes restricted to another frame are dropped without
// acknowledgement.
func (c *Comms) Listen(h InboundHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	var subjects []string
	switch c.params.Role {
	case role.Orchestrator, role.ControlPanel:
		subjects = []string{commsutil.BuildRuntimeSubject(c.params.Group, c.params.Role.String())}
	case role.PageAgent:
		subjects = []string{
			commsutil.BuildTabSubject(c.params.Group, c.params.TabID),
			commsutil.BuildTabFrameSubject(c.params.Group, c.params.TabID, c.params.FrameID),
		}
	}

	for _, subject := range subjects {
		sub, err := c.nc.Subscribe(subject, func(msg *comms.Msg) {
			c.handle(msg, h)
		})
		if err != nil {
			return fmt.Errorf("%s - failed to subscribe to %s: %w", commsLogPrefix, subject, err)
		}
		c.subs = append(c.subs, sub)
		slog.Info(fmt.Sprintf("%s - Listening on %s as %s", commsLogPrefix, subject, c.params.Role))
	}
	return nil
}

func (c *Comms) handle(msg *comms.Msg, h InboundHandler) {
	if frame, ok := commsutil.TargetFrame(msg); ok && frame != c.params.FrameID {
		return
	}

	respond := replier(msg)

	env, from, err := commsutil.DecodeEnvelopeMsg(msg)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - dropping undecodable message on %s: %v", commsLogPrefix, msg.Subject, err))
		respond(struct{}{})
		return
	}

	h(env, SenderInfo{
		Role:    role.Parse(from.Role),
		TabID:   from.TabID,
		FrameID: from.FrameID,
	}, respond)
}

func replier(msg *comms.Msg) Responder {
	var once sync.Once
	return func(response any) {
		once.Do(func() {
			if msg.Reply == "" {
				return
			}
			data, err := commsutil.EncodePayload(response)
			if err != nil {
				slog.Error(fmt.Sprintf("%s - failed to encode response: %v", commsLogPrefix, err))
				return
			}
			if err := msg.Respond(data); err != nil {
				slog.Warn(fmt.Sprintf("%s - failed to respond on %s: %v", commsLogPrefix, msg.Subject, err))
			}
		})
	}
}

// Close unsubscribes the listener. Sends after Close fail with ErrClosed.
func (c *Comms) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to unsubscribe %s: %v", commsLogPrefix, sub.Subject, err))
		}
	}
	c.subs = nil
	return nil
}

func isNoResponders(msg *comms.Msg) bool {
	return len(msg.Data) == 0 && msg.Header != nil && msg.Header.Get("Status") == "503"
}
