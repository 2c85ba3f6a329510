package transport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/morezero/crossmessenger/pkg/envelope"
	"github.com/morezero/crossmessenger/pkg/role"
	"github.com/morezero/crossmessenger/pkg/tabs"
)

type recorded struct {
	env    *envelope.Envelope
	sender SenderInfo
}

func record(t *testing.T, e *Endpoint, reply any) *[]recorded {
	t.Helper()
	var got []recorded
	if err := e.Listen(func(env *envelope.Envelope, sender SenderInfo, respond Responder) {
		got = append(got, recorded{env, sender})
		respond(reply)
	}); err != nil {
		t.Fatalf("transport:memory_test - Listen failed: %v", err)
	}
	return &got
}

func mustEnvelope(t *testing.T, event string) *envelope.Envelope {
	t.Helper()
	env, err := envelope.New("src", event, map[string]int{"n": 1}, nil)
	if err != nil {
		t.Fatalf("transport:memory_test - envelope.New failed: %v", err)
	}
	return env
}

func TestHub_RuntimeReachesPeerOnly(t *testing.T) {
	hub := NewHub("ext")
	orch := hub.Attach(role.Orchestrator, 0, 0)
	panel := hub.Attach(role.ControlPanel, 0, 0)
	page := hub.Attach(role.PageAgent, 4, 2)

	orchGot := record(t, orch, struct{}{})
	panelGot := record(t, panel, struct{}{})

	if err := page.SendRuntime(mustEnvelope(t, "hello"), envelope.RuntimeOptions{}, nil); err != nil {
		t.Fatalf("transport:memory_test - SendRuntime failed: %v", err)
	}

	if len(*orchGot) != 1 || len(*panelGot) != 0 {
		t.Fatalf("transport:memory_test - orchestrator got %d, panel got %d", len(*orchGot), len(*panelGot))
	}
	r := (*orchGot)[0]
	if r.env.Event != "hello" {
		t.Errorf("transport:memory_test - event = %q", r.env.Event)
	}
	if r.sender.Role != role.PageAgent || r.sender.TabID != 4 || r.sender.FrameID != 2 {
		t.Errorf("transport:memory_test - sender = %+v", r.sender)
	}

	if err := orch.SendRuntime(mustEnvelope(t, "to-panel"), envelope.RuntimeOptions{}, nil); err != nil {
		t.Fatalf("transport:memory_test - SendRuntime failed: %v", err)
	}
	if len(*panelGot) != 1 || len(*orchGot) != 1 {
		t.Errorf("transport:memory_test - orchestrator runtime send should reach only the panel")
	}
}

func TestHub_SendToTab(t *testing.T) {
	hub := NewHub("ext")
	orch := hub.Attach(role.Orchestrator, 0, 0)
	top := hub.Attach(role.PageAgent, 4, 0)
	sub := hub.Attach(role.PageAgent, 4, 7)
	other := hub.Attach(role.PageAgent, 5, 0)

	topGot := record(t, top, struct{}{})
	subGot := record(t, sub, struct{}{})
	otherGot := record(t, other, struct{}{})

	if err := orch.SendToTab(4, mustEnvelope(t, "all-frames"), envelope.TabsOptions{}, nil); err != nil {
		t.Fatalf("transport:memory_test - SendToTab failed: %v", err)
	}
	if len(*topGot) != 1 || len(*subGot) != 1 || len(*otherGot) != 0 {
		t.Fatalf("transport:memory_test - counts top=%d sub=%d other=%d", len(*topGot), len(*subGot), len(*otherGot))
	}

	if err := orch.SendToTab(4, mustEnvelope(t, "frame-7"), envelope.TabsOptions{FrameID: envelope.Frame(7)}, nil); err != nil {
		t.Fatalf("transport:memory_test - SendToTab failed: %v", err)
	}
	if len(*topGot) != 1 || len(*subGot) != 2 {
		t.Errorf("transport:memory_test - frame restriction not honoured: top=%d sub=%d", len(*topGot), len(*subGot))
	}
}

func TestHub_PageCannotSendToTab(t *testing.T) {
	hub := NewHub("ext")
	page := hub.Attach(role.PageAgent, 1, 0)
	err := page.SendToTab(2, mustEnvelope(t, "x"), envelope.TabsOptions{}, nil)
	if !errors.Is(err, ErrNotPermitted) {
		t.Errorf("transport:memory_test - err = %v, want ErrNotPermitted", err)
	}
}

func TestHub_CallbackFirstResponseWins(t *testing.T) {
	hub := NewHub("ext")
	orch := hub.Attach(role.Orchestrator, 0, 0)
	record(t, hub.Attach(role.PageAgent, 3, 0), map[string]string{"from": "top"})
	record(t, hub.Attach(role.PageAgent, 3, 1), map[string]string{"from": "sub"})

	var replies []json.RawMessage
	err := orch.SendToTab(3, mustEnvelope(t, "q"), envelope.TabsOptions{}, func(resp json.RawMessage, err error) {
		if err != nil {
			t.Errorf("transport:memory_test - unexpected callback error: %v", err)
		}
		replies = append(replies, resp)
	})
	if err != nil {
		t.Fatalf("transport:memory_test - SendToTab failed: %v", err)
	}
	if len(replies) != 1 {
		t.Fatalf("transport:memory_test - callback invoked %d times, want 1", len(replies))
	}
	if string(replies[0]) != `{"from":"top"}` {
		t.Errorf("transport:memory_test - reply = %s", replies[0])
	}
}

func TestHub_NoReceiver(t *testing.T) {
	hub := NewHub("ext")
	page := hub.Attach(role.PageAgent, 3, 0)
	hub.Attach(role.Orchestrator, 0, 0) // attached but not listening

	var gotErr error
	if err := page.SendRuntime(mustEnvelope(t, "x"), envelope.RuntimeOptions{}, func(_ json.RawMessage, err error) {
		gotErr = err
	}); err != nil {
		t.Fatalf("transport:memory_test - SendRuntime failed: %v", err)
	}
	if !errors.Is(gotErr, ErrNoReceiver) {
		t.Errorf("transport:memory_test - callback err = %v, want ErrNoReceiver", gotErr)
	}
}

func TestHub_ForeignExtensionID(t *testing.T) {
	hub := NewHub("ext")
	page := hub.Attach(role.PageAgent, 3, 0)
	got := record(t, hub.Attach(role.Orchestrator, 0, 0), struct{}{})

	var gotErr error
	_ = page.SendRuntime(mustEnvelope(t, "x"), envelope.RuntimeOptions{ExtensionID: "other"}, func(_ json.RawMessage, err error) {
		gotErr = err
	})
	if len(*got) != 0 || !errors.Is(gotErr, ErrNoReceiver) {
		t.Errorf("transport:memory_test - foreign extension id delivered=%d err=%v", len(*got), gotErr)
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub("ext")
	page := hub.Attach(role.PageAgent, 3, 0)
	orch := hub.Attach(role.Orchestrator, 0, 0)
	got := record(t, orch, struct{}{})

	if err := orch.Close(); err != nil {
		t.Fatalf("transport:memory_test - Close failed: %v", err)
	}
	if err := orch.Close(); err != nil {
		t.Fatalf("transport:memory_test - second Close failed: %v", err)
	}

	_ = page.SendRuntime(mustEnvelope(t, "x"), envelope.RuntimeOptions{}, nil)
	if len(*got) != 0 {
		t.Error("transport:memory_test - closed endpoint received a message")
	}
	if err := orch.SendRuntime(mustEnvelope(t, "x"), envelope.RuntimeOptions{}, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("transport:memory_test - err = %v, want ErrClosed", err)
	}
	if err := orch.Listen(func(*envelope.Envelope, SenderInfo, Responder) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("transport:memory_test - Listen err = %v, want ErrClosed", err)
	}
}

func TestHub_Observe(t *testing.T) {
	hub := NewHub("ext")
	orch := hub.Attach(role.Orchestrator, 0, 0)
	record(t, hub.Attach(role.PageAgent, 9, 0), struct{}{})

	var seen []Delivery
	hub.Observe(func(d Delivery) { seen = append(seen, d) })

	_ = orch.SendToTab(9, mustEnvelope(t, "a"), envelope.TabsOptions{}, nil)
	_ = orch.SendToTab(10, mustEnvelope(t, "b"), envelope.TabsOptions{}, nil)

	if len(seen) != 2 {
		t.Fatalf("transport:memory_test - observed %d deliveries, want 2", len(seen))
	}
	if seen[0].Kind != DeliveryTab || seen[0].TabID != 9 || seen[0].Receivers != 1 || seen[0].Envelope.Event != "a" {
		t.Errorf("transport:memory_test - first delivery = %+v", seen[0])
	}
	if seen[1].Receivers != 0 {
		t.Errorf("transport:memory_test - second delivery receivers = %d", seen[1].Receivers)
	}
}

func TestHub_TabTable(t *testing.T) {
	hub := NewHub("ext")
	hub.OpenTab(tabs.Tab{ID: 1, WindowID: 1, Active: true})
	hub.OpenTab(tabs.Tab{ID: 2, WindowID: 1})
	hub.OpenTab(tabs.Tab{ID: 3, WindowID: 2, Active: true})
	hub.CloseTab(3)

	tests := []struct {
		name   string
		filter tabs.Filter
		want   []int
	}{
		{"all", tabs.Filter{}, []int{1, 2}},
		{"active", tabs.ActiveFilter(), []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []int
			hub.QueryTabs(context.Background(), tt.filter, func(ids []int, err error) {
				if err != nil {
					t.Errorf("transport:memory_test - QueryTabs failed: %v", err)
				}
				got = ids
			})
			if len(got) != len(tt.want) {
				t.Fatalf("transport:memory_test - got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("transport:memory_test - got %v, want %v", got, tt.want)
				}
			}
		})
	}
}
