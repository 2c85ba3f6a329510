package envelope

import (
	"encoding/json"
	"fmt"
)

const codecLogPrefix = "envelope:codec"

// wireEnvelope is the inbound shape. Older senders used "channel" instead of
// "event".
type wireEnvelope struct {
	SourceID string          `json:"sourceId"`
	Event    string          `json:"event"`
	Channel  string          `json:"channel,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Options  *MessageOptions `json:"options,omitempty"`
	Parent   *Envelope       `json:"parent,omitempty"`
}

// UnmarshalJSON normalizes the legacy channel field into Event.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	event := w.Event
	if event == "" {
		event = w.Channel
	}
	*e = Envelope{
		SourceID: w.SourceID,
		Event:    event,
		Data:     w.Data,
		Options:  w.Options,
		Parent:   w.Parent,
	}
	return nil
}

// Encode serializes an envelope to JSON bytes.
func Encode(e *Envelope) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("%s - nil envelope", codecLogPrefix)
	}
	return json.Marshal(e)
}

// Decode deserializes JSON bytes into an envelope.
func Decode(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%s - empty payload", codecLogPrefix)
	}
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%s - failed to decode envelope: %w", codecLogPrefix, err)
	}
	return &e, nil
}
