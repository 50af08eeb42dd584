package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/parleychat/parley/internal/common"
)

// Frame is the wire representation of one event in either direction:
// {"event": <name>, "data": <payload>}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeFrame parses a raw websocket text message into a Frame. Anything
// that is not a JSON object with a non-empty event name is rejected here,
// before any handler runs.
func DecodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: not a valid frame", common.ErrValidation)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("%w: missing event name", common.ErrValidation)
	}
	return &f, nil
}

// Bind unmarshals the frame payload into dst and validates it. A frame
// with no data binds as an empty object so events like get_groups need no
// payload at all.
func (f *Frame) Bind(dst Validator) error {
	data := f.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: bad %s payload", common.ErrValidation, f.Event)
	}
	return dst.Validate()
}

// EncodeFrame marshals an outgoing event.
func EncodeFrame(event string, data any) ([]byte, error) {
	var (
		raw json.RawMessage
		err error
	)
	if data != nil {
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", event, err)
		}
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// MustEncodeFrame is EncodeFrame for payloads built from our own structs,
// where a marshal error is a programming bug.
func MustEncodeFrame(event string, data any) []byte {
	b, err := EncodeFrame(event, data)
	if err != nil {
		panic(err)
	}
	return b
}

// ErrorFrame builds the error push for a failed client operation.
func ErrorFrame(reason string) []byte {
	return MustEncodeFrame(EventError, ErrorPayload{Message: reason})
}
