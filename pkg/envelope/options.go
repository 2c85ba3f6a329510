package envelope

import "encoding/json"

// ReplyFunc receives the first response to a send, or the transport error
// that prevented delivery.
type ReplyFunc func(response json.RawMessage, err error)

// SendOptions is the superset of options either host primitive accepts.
type SendOptions struct {
	Callback            ReplyFunc `json:"-"`
	ExtensionID         string    `json:"extensionId,omitempty"`
	IncludeTLSChannelID bool      `json:"includeTlsChannelId,omitempty"`
	FrameID             *int      `json:"frameId,omitempty"`
}

// RuntimeOptions are the options the runtime-addressed primitive accepts.
type RuntimeOptions struct {
	ExtensionID         string `json:"extensionId,omitempty"`
	IncludeTLSChannelID bool   `json:"includeTlsChannelId,omitempty"`
}

// TabsOptions are the options the tab-addressed primitive accepts.
type TabsOptions struct {
	FrameID *int `json:"frameId,omitempty"`
}

// Frame returns a pointer suitable for SendOptions.FrameID.
func Frame(id int) *int {
	return &id
}

// RuntimeOptions extracts the runtime subset. dropped lists the fields that
// were set but are not accepted by the runtime primitive.
func (o *SendOptions) RuntimeOptions() (opts RuntimeOptions, dropped []string) {
	if o == nil {
		return RuntimeOptions{}, nil
	}
	if o.FrameID != nil {
		dropped = append(dropped, "frameId")
	}
	return RuntimeOptions{
		ExtensionID:         o.ExtensionID,
		IncludeTLSChannelID: o.IncludeTLSChannelID,
	}, dropped
}

// TabsOptions extracts the tab subset. dropped lists the fields that were set
// but are not accepted by the tab primitive.
func (o *SendOptions) TabsOptions() (opts TabsOptions, dropped []string) {
	if o == nil {
		return TabsOptions{}, nil
	}
	if o.IncludeTLSChannelID {
		dropped = append(dropped, "includeTlsChannelId")
	}
	if o.ExtensionID != "" {
		dropped = append(dropped, "extensionId")
	}
	var frame *int
	if o.FrameID != nil {
		frame = Frame(*o.FrameID)
	}
	return TabsOptions{FrameID: frame}, dropped
}

// CallbackOrNil returns the callback, tolerating a nil receiver.
func (o *SendOptions) CallbackOrNil() ReplyFunc {
	if o == nil {
		return nil
	}
	return o.Callback
}

// WithoutCallback returns a copy suitable for embedding in a forward envelope.
func (o *SendOptions) WithoutCallback() *SendOptions {
	if o == nil {
		return nil
	}
	c := *o
	c.Callback = nil
	return &c
}
