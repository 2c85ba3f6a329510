// Package envelope defines the wire-level message exchanged between messenger
// instances and the reserved meta-events the orchestrator understands.
package envelope

import (
	"encoding/json"
	"fmt"
)

const logPrefix = "envelope:envelope"

// Reserved meta-event names. They are namespaced so application events never
// collide with them.
const (
	// EventConnect tells the orchestrator a page-agent is attached.
	EventConnect = "^cross-content-messenger-connect$"
	// EventMessengerDisconnect tells the orchestrator one messenger instance
	// closed; the tab itself may still host other instances.
	EventMessengerDisconnect = "^cross-content-messenger-disconnect$"
	// EventTabDisconnect tells the orchestrator the whole tab went away.
	EventTabDisconnect = "^cross-content-tab-disconnect$"
	// EventForward asks the orchestrator to re-route the wrapped envelope.
	EventForward = "^cross-content-messenger-forward$"
)

// IsMetaEvent reports whether event is one of the reserved names.
func IsMetaEvent(event string) bool {
	switch event {
	case EventConnect, EventMessengerDisconnect, EventTabDisconnect, EventForward:
		return true
	}
	return false
}

// ForwardType selects how the orchestrator re-routes a forwarded envelope.
type ForwardType string

const (
	ForwardAll          ForwardType = "all"
	ForwardActiveTab    ForwardType = "active-tab"
	ForwardTabIDList    ForwardType = "tab-id-list"
	ForwardControlPanel ForwardType = "popup"
)

// Valid reports whether t is a known forward type.
func (t ForwardType) Valid() bool {
	switch t {
	case ForwardAll, ForwardActiveTab, ForwardTabIDList, ForwardControlPanel:
		return true
	}
	return false
}

// MessageOptions is carried only by Forward envelopes.
type MessageOptions struct {
	ForwardType    ForwardType  `json:"forwardType,omitempty"`
	ForwardOptions *SendOptions `json:"forwardOptions,omitempty"`
	ForwardIDList  []int        `json:"forwardIdList,omitempty"`
}

// Envelope is the JSON message exchanged over the host transport.
type Envelope struct {
	SourceID string          `json:"sourceId"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
	Options  *MessageOptions `json:"options,omitempty"`
	Parent   *Envelope       `json:"parent,omitempty"`
}

// New builds a base envelope, serializing data to JSON. A nil data value
// produces an envelope without a data field.
func New(sourceID, event string, data any, parent *Envelope) (*Envelope, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		SourceID: sourceID,
		Event:    event,
		Data:     raw,
		Parent:   parent.Clone(),
	}, nil
}

// Wrap builds a Forward envelope around inner. The outer envelope carries
// inner both as its data and as its parent.
func Wrap(sourceID string, inner *Envelope, opts MessageOptions) (*Envelope, error) {
	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode inner envelope: %w", logPrefix, err)
	}
	o := opts
	return &Envelope{
		SourceID: sourceID,
		Event:    EventForward,
		Data:     raw,
		Options:  &o,
		Parent:   inner.Clone(),
	}, nil
}

// Unwrap decodes the envelope carried in the data of a Forward envelope.
func (e *Envelope) Unwrap() (*Envelope, error) {
	if e.Event != EventForward {
		return nil, fmt.Errorf("%s - envelope %q is not a forward", logPrefix, e.Event)
	}
	return Decode(e.Data)
}

// IsForward reports whether e is a Forward envelope.
func (e *Envelope) IsForward() bool {
	return e != nil && e.Event == EventForward
}

// DecodeData unmarshals the envelope data into v.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s - envelope %q has no data", logPrefix, e.Event)
	}
	return json.Unmarshal(e.Data, v)
}

// Clone returns a deep copy so derived envelopes own their parent by value.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	c := *e
	if e.Data != nil {
		c.Data = append(json.RawMessage(nil), e.Data...)
	}
	if e.Options != nil {
		o := *e.Options
		if e.Options.ForwardIDList != nil {
			o.ForwardIDList = append([]int(nil), e.Options.ForwardIDList...)
		}
		if e.Options.ForwardOptions != nil {
			fo := *e.Options.ForwardOptions
			o.ForwardOptions = &fo
		}
		c.Options = &o
	}
	c.Parent = e.Parent.Clone()
	return &c
}

func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode data: %w", logPrefix, err)
	}
	return raw, nil
}
