package envelope

import (
	"encoding/json"
	"testing"
)

func TestNew_SerializesData(t *testing.T) {
	env, err := New("abc", "greet", map[string]string{"hello": "world"}, nil)
	if err != nil {
		t.Fatalf("envelope:envelope_test - unexpected error: %v", err)
	}
	if env.SourceID != "abc" || env.Event != "greet" {
		t.Errorf("envelope:envelope_test - got sourceId=%q event=%q", env.SourceID, env.Event)
	}
	if string(env.Data) != `{"hello":"world"}` {
		t.Errorf("envelope:envelope_test - Data = %s", env.Data)
	}
	if env.Options != nil {
		t.Error("envelope:envelope_test - base envelope must not carry options")
	}
}

func TestNew_NilDataOmitted(t *testing.T) {
	env, err := New("abc", "ping", nil, nil)
	if err != nil {
		t.Fatalf("envelope:envelope_test - unexpected error: %v", err)
	}
	b, err := Encode(env)
	if err != nil {
		t.Fatalf("envelope:envelope_test - encode failed: %v", err)
	}
	if string(b) != `{"sourceId":"abc","event":"ping"}` {
		t.Errorf("envelope:envelope_test - encoded = %s", b)
	}
}

func TestNew_UnserializableData(t *testing.T) {
	if _, err := New("abc", "bad", make(chan int), nil); err == nil {
		t.Fatal("envelope:envelope_test - expected error for channel data")
	}
}

func TestWrap_ForwardEnvelope(t *testing.T) {
	inner, err := New("abc", "greet", 42, nil)
	if err != nil {
		t.Fatalf("envelope:envelope_test - unexpected error: %v", err)
	}
	outer, err := Wrap("abc", inner, MessageOptions{
		ForwardType:   ForwardTabIDList,
		ForwardIDList: []int{3, 4},
	})
	if err != nil {
		t.Fatalf("envelope:envelope_test - wrap failed: %v", err)
	}
	if !outer.IsForward() {
		t.Fatalf("envelope:envelope_test - outer event = %q, want forward", outer.Event)
	}
	if outer.Options == nil || outer.Options.ForwardType != ForwardTabIDList {
		t.Fatalf("envelope:envelope_test - outer options = %+v", outer.Options)
	}
	if outer.Parent == nil || outer.Parent.Event != "greet" {
		t.Errorf("envelope:envelope_test - outer parent = %+v", outer.Parent)
	}
	if outer.Parent == inner {
		t.Error("envelope:envelope_test - parent must be a copy, not the same pointer")
	}

	got, err := outer.Unwrap()
	if err != nil {
		t.Fatalf("envelope:envelope_test - unwrap failed: %v", err)
	}
	if got.Event != "greet" || string(got.Data) != "42" || got.SourceID != "abc" {
		t.Errorf("envelope:envelope_test - unwrapped = %+v", got)
	}
}

func TestUnwrap_NotForward(t *testing.T) {
	env := &Envelope{SourceID: "a", Event: "x"}
	if _, err := env.Unwrap(); err == nil {
		t.Fatal("envelope:envelope_test - expected error unwrapping a plain envelope")
	}
}

func TestDecode_LegacyChannel(t *testing.T) {
	env, err := Decode([]byte(`{"sourceId":"s","channel":"legacy","data":{"a":1}}`))
	if err != nil {
		t.Fatalf("envelope:envelope_test - decode failed: %v", err)
	}
	if env.Event != "legacy" {
		t.Errorf("envelope:envelope_test - Event = %q, want legacy", env.Event)
	}
	var data map[string]int
	if err := env.DecodeData(&data); err != nil {
		t.Fatalf("envelope:envelope_test - DecodeData failed: %v", err)
	}
	if data["a"] != 1 {
		t.Errorf("envelope:envelope_test - data = %v", data)
	}
}

func TestDecode_EventWinsOverChannel(t *testing.T) {
	env, err := Decode([]byte(`{"sourceId":"s","event":"new","channel":"old"}`))
	if err != nil {
		t.Fatalf("envelope:envelope_test - decode failed: %v", err)
	}
	if env.Event != "new" {
		t.Errorf("envelope:envelope_test - Event = %q, want new", env.Event)
	}
}

func TestDecode_NestedParentNormalized(t *testing.T) {
	env, err := Decode([]byte(`{"sourceId":"s","event":"e","parent":{"sourceId":"p","channel":"old"}}`))
	if err != nil {
		t.Fatalf("envelope:envelope_test - decode failed: %v", err)
	}
	if env.Parent == nil || env.Parent.Event != "old" {
		t.Errorf("envelope:envelope_test - parent = %+v", env.Parent)
	}
}

func TestDecode_Invalid(t *testing.T) {
	for _, payload := range []string{"", "{invalid}"} {
		if _, err := Decode([]byte(payload)); err == nil {
			t.Errorf("envelope:envelope_test - expected error for %q", payload)
		}
	}
}

func TestEncodeDecode_ForwardOptions(t *testing.T) {
	inner, _ := New("abc", "greet", "hi", nil)
	outer, err := Wrap("abc", inner, MessageOptions{
		ForwardType:    ForwardActiveTab,
		ForwardOptions: &SendOptions{FrameID: Frame(0), Callback: func(json.RawMessage, error) {}},
	})
	if err != nil {
		t.Fatalf("envelope:envelope_test - wrap failed: %v", err)
	}
	b, err := Encode(outer)
	if err != nil {
		t.Fatalf("envelope:envelope_test - encode failed: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("envelope:envelope_test - decode failed: %v", err)
	}
	if got.Options.ForwardType != ForwardActiveTab {
		t.Errorf("envelope:envelope_test - forwardType = %q", got.Options.ForwardType)
	}
	if got.Options.ForwardOptions == nil || got.Options.ForwardOptions.FrameID == nil || *got.Options.ForwardOptions.FrameID != 0 {
		t.Errorf("envelope:envelope_test - forwardOptions = %+v", got.Options.ForwardOptions)
	}
}

func TestIsMetaEvent(t *testing.T) {
	for _, e := range []string{EventConnect, EventMessengerDisconnect, EventTabDisconnect, EventForward} {
		if !IsMetaEvent(e) {
			t.Errorf("envelope:envelope_test - %q should be a meta event", e)
		}
	}
	if IsMetaEvent("connect") {
		t.Error("envelope:envelope_test - plain name must not be a meta event")
	}
}

func TestForwardType_Valid(t *testing.T) {
	if !ForwardControlPanel.Valid() || ForwardType("bogus").Valid() {
		t.Error("envelope:envelope_test - ForwardType.Valid mismatch")
	}
}
