package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/crossmessenger/internal/config"
	"github.com/morezero/crossmessenger/pkg/envelope"
	"github.com/morezero/crossmessenger/pkg/role"
)

const publishLogPrefix = "server:publish"

// Publish targets.
const (
	TargetOthers       = "others"
	TargetAll          = "all"
	TargetOrchestrator = "orchestrator"
	TargetPanel        = "panel"
	TargetPages        = "pages"
	TargetTabs         = "tabs"
)

// ErrNoReply is returned by Publish when nothing answered within Wait.
var ErrNoReply = errors.New("server: no reply")

// PublishParams describes one event sent by the publish command.
type PublishParams struct {
	Event  string
	Data   json.RawMessage
	Target string
	// TabIDs are the destinations of TargetTabs.
	TabIDs []int
	// FrameID restricts tab deliveries to one frame when set.
	FrameID *int
	// Wait bounds how long Publish waits for the first reply. Zero sends
	// without waiting.
	Wait time.Duration
}

// Publish joins the bus as the configured surface, sends one event and
// returns the first reply.
func Publish(ctx context.Context, cfg *config.Config, p PublishParams) (json.RawMessage, error) {
	if p.Event == "" {
		return nil, fmt.Errorf("%s - event is required", publishLogPrefix)
	}
	if envelope.IsMetaEvent(p.Event) {
		return nil, fmt.Errorf("%s - %q is reserved", publishLogPrefix, p.Event)
	}
	if cfg.Role() == role.Standalone {
		return nil, fmt.Errorf("%s - MESSENGER_SURFACE must be set to publish", publishLogPrefix)
	}
	if p.Target == TargetTabs && len(p.TabIDs) == 0 {
		return nil, fmt.Errorf("%s - target %q needs at least one tab id", publishLogPrefix, TargetTabs)
	}

	ns, nc, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		nc.Close()
		if ns != nil {
			ns.Shutdown()
		}
	}()

	m, err := newMessenger(cfg, nc, nil)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	type reply struct {
		resp json.RawMessage
		err  error
	}
	replies := make(chan reply, 16)
	opts := &envelope.SendOptions{FrameID: p.FrameID}
	if p.Wait > 0 {
		opts.Callback = func(resp json.RawMessage, err error) {
			select {
			case replies <- reply{resp: resp, err: err}:
			default:
			}
		}
	}

	var data any
	if len(p.Data) > 0 {
		data = p.Data
	}

	switch p.Target {
	case TargetOthers, "":
		m.Send(ctx, p.Event, data, opts)
	case TargetAll:
		m.SendToAll(ctx, p.Event, data, opts)
	case TargetOrchestrator:
		m.SendToOrchestrator(ctx, p.Event, data, opts)
	case TargetPanel:
		m.SendToControlPanel(ctx, p.Event, data, opts)
	case TargetPages:
		m.SendToPageAgents(ctx, p.Event, data, opts)
	case TargetTabs:
		m.SendToTabIDList(ctx, p.TabIDs, p.Event, data, opts)
	default:
		return nil, fmt.Errorf("%s - unknown target %q", publishLogPrefix, p.Target)
	}
	slog.Info(fmt.Sprintf("%s - Sent %q to %s as %s", publishLogPrefix, p.Event, p.Target, m.Role()))

	if p.Wait <= 0 {
		// Tab fan-outs resolve asynchronously; let them reach the
		// connection before it is flushed and closed.
		drainCtx, cancel := context.WithTimeout(ctx, drainTimeout(cfg))
		defer cancel()
		if err := m.Drain(drainCtx); err != nil {
			return nil, err
		}
		return nil, nc.Flush()
	}

	// One send can fan out to several destinations. The first answer wins;
	// delivery errors are only returned when nothing answers in time.
	timer := time.NewTimer(p.Wait)
	defer timer.Stop()
	var lastErr error
	for {
		select {
		case r := <-replies:
			if r.err == nil {
				return r.resp, nil
			}
			slog.Debug(fmt.Sprintf("%s - delivery error: %v", publishLogPrefix, r.err))
			lastErr = r.err
		case <-timer.C:
			if lastErr != nil {
				return nil, fmt.Errorf("%w: %w", ErrNoReply, lastErr)
			}
			return nil, ErrNoReply
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// drainTimeout bounds the wait for pending tab enumerations. The enumerator
// gives up after TabsQueryTimeout, so a short margin is enough.
func drainTimeout(cfg *config.Config) time.Duration {
	if cfg.TabsQueryTimeout <= 0 {
		return 5 * time.Second
	}
	return cfg.TabsQueryTimeout + time.Second
}
