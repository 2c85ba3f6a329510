package tabs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/crossmessenger/pkg/commsutil"
)

const commsLogPrefix = "tabs:comms"

// queryResponse is the reply body of a tab enumeration request.
type queryResponse struct {
	IDs   []int  `json:"ids"`
	Error string `json:"error,omitempty"`
}

// CommsEnumerator resolves tabs by asking the tab host over COMMS. The
// request is asynchronous: QueryTabs returns immediately and cb runs on the
// COMMS delivery goroutine.
type CommsEnumerator struct {
	nc      *comms.Conn
	subject string
	timeout time.Duration
}

// NewCommsEnumerator creates an enumerator for group. timeout bounds a single
// query; zero means the context alone decides.
func NewCommsEnumerator(nc *comms.Conn, group string, timeout time.Duration) *CommsEnumerator {
	return &CommsEnumerator{
		nc:      nc,
		subject: commsutil.BuildTabsQuerySubject(group),
		timeout: timeout,
	}
}

// QueryTabs publishes the filter and delivers the first reply to cb.
func (e *CommsEnumerator) QueryTabs(ctx context.Context, f Filter, cb func([]int, error)) {
	var cancel context.CancelFunc
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	var once sync.Once
	finish := func(ids []int, err error) {
		once.Do(func() {
			cancel()
			cb(ids, err)
		})
	}

	payload, err := commsutil.EncodePayload(f)
	if err != nil {
		finish(nil, fmt.Errorf("%s - failed to encode filter: %w", commsLogPrefix, err))
		return
	}

	inbox := e.nc.NewRespInbox()
	sub, err := e.nc.Subscribe(inbox, func(msg *comms.Msg) {
		if isNoResponders(msg) {
			finish(nil, ErrNoHost)
			return
		}
		var resp queryResponse
		if err := commsutil.DecodePayload(msg.Data, &resp); err != nil {
			finish(nil, fmt.Errorf("%s - failed to decode reply: %w", commsLogPrefix, err))
			return
		}
		if resp.Error != "" {
			finish(nil, fmt.Errorf("%s - tab host: %s", commsLogPrefix, resp.Error))
			return
		}
		finish(resp.IDs, nil)
	})
	if err != nil {
		finish(nil, fmt.Errorf("%s - failed to subscribe reply inbox: %w", commsLogPrefix, err))
		return
	}
	if err := sub.AutoUnsubscribe(1); err != nil {
		_ = sub.Unsubscribe()
		finish(nil, fmt.Errorf("%s - failed to arm reply inbox: %w", commsLogPrefix, err))
		return
	}

	context.AfterFunc(ctx, func() {
		_ = sub.Unsubscribe()
		finish(nil, ctx.Err())
	})

	if err := e.nc.PublishRequest(e.subject, inbox, payload); err != nil {
		finish(nil, fmt.Errorf("%s - failed to publish query: %w", commsLogPrefix, err))
	}
}

// Host answers tab enumeration requests from a Store.
type Host struct {
	nc      *comms.Conn
	store   Store
	subject string
	sub     *comms.Subscription
	timeout time.Duration
}

// NewHost creates a tab host for group.
func NewHost(nc *comms.Conn, group string, store Store) *Host {
	return &Host{
		nc:      nc,
		store:   store,
		subject: commsutil.BuildTabsQuerySubject(group),
		timeout: 5 * time.Second,
	}
}

// Start subscribes to the query subject.
func (h *Host) Start() error {
	sub, err := h.nc.Subscribe(h.subject, h.handle)
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", commsLogPrefix, h.subject, err)
	}
	h.sub = sub
	slog.Info(fmt.Sprintf("%s - Tab host subscribed to %s", commsLogPrefix, h.subject))
	return nil
}

// Stop unsubscribes.
func (h *Host) Stop() error {
	if h.sub == nil {
		return nil
	}
	return h.sub.Unsubscribe()
}

func (h *Host) handle(msg *comms.Msg) {
	var f Filter
	if len(msg.Data) > 0 {
		if err := commsutil.DecodePayload(msg.Data, &f); err != nil {
			h.respond(msg, queryResponse{Error: "invalid filter"})
			return
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	list, err := h.store.ListTabs(ctx, f)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - ListTabs failed: %v", commsLogPrefix, err))
		h.respond(msg, queryResponse{Error: err.Error()})
		return
	}
	h.respond(msg, queryResponse{IDs: IDs(list)})
}

func (h *Host) respond(msg *comms.Msg, resp queryResponse) {
	data, err := commsutil.EncodePayload(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode reply: %v", commsLogPrefix, err))
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to respond: %v", commsLogPrefix, err))
	}
}

// isNoResponders detects the server status reply sent when nobody is
// subscribed to a request subject.
func isNoResponders(msg *comms.Msg) bool {
	return len(msg.Data) == 0 && msg.Header != nil && msg.Header.Get("Status") == "503"
}
