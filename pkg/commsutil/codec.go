package commsutil

import (
	"encoding/json"
	"fmt"
	"strconv"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/crossmessenger/pkg/envelope"
)

const codecLogPrefix = "commsutil:codec"

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Sender identifies the origin of an envelope message.
type Sender struct {
	Role    string
	TabID   int
	FrameID int
}

// NewEnvelopeMsg encodes env into a COMMS message on subject, stamping the
// sender headers.
func NewEnvelopeMsg(subject string, env *envelope.Envelope, from Sender) (*comms.Msg, error) {
	data, err := envelope.Encode(env)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode envelope: %w", codecLogPrefix, err)
	}
	msg := comms.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(HeaderSenderRole, from.Role)
	if from.TabID > 0 {
		msg.Header.Set(HeaderSenderTab, strconv.Itoa(from.TabID))
		msg.Header.Set(HeaderSenderFrame, strconv.Itoa(from.FrameID))
	}
	return msg, nil
}

// DecodeEnvelopeMsg decodes the envelope and sender carried by msg.
func DecodeEnvelopeMsg(msg *comms.Msg) (*envelope.Envelope, Sender, error) {
	env, err := envelope.Decode(msg.Data)
	if err != nil {
		return nil, Sender{}, err
	}
	from := Sender{}
	if msg.Header != nil {
		from.Role = msg.Header.Get(HeaderSenderRole)
		from.TabID, _ = strconv.Atoi(msg.Header.Get(HeaderSenderTab))
		from.FrameID, _ = strconv.Atoi(msg.Header.Get(HeaderSenderFrame))
	}
	return env, from, nil
}

// TargetFrame returns the frame a tab message is restricted to, if any.
func TargetFrame(msg *comms.Msg) (int, bool) {
	if msg.Header == nil {
		return 0, false
	}
	v := msg.Header.Get(HeaderTargetFrame)
	if v == "" {
		return 0, false
	}
	id, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return id, true
}
