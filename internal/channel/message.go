package channel

import (
	"encoding/json"
	"fmt"
)

// Type discriminates wire messages.
type Type string

const (
	TypeRequest  Type = "request"
	TypeResponse Type = "response"
	TypeEvent    Type = "event"
)

// Message is the envelope exchanged with the embedded context:
//
//	{"type":"request"|"response"|"event","id":"...","name":"...","payload":{...}}
//
// ID is set on requests and responses only.
type Message struct {
	Type    Type            `json:"type"`
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate reports whether m can be routed.
func (m Message) Validate() error {
	switch m.Type {
	case TypeRequest:
		if m.ID == "" {
			return fmt.Errorf("%w: request without id", ErrMalformed)
		}
		if m.Name == "" {
			return fmt.Errorf("%w: request without name", ErrMalformed)
		}
	case TypeResponse:
		if m.ID == "" {
			return fmt.Errorf("%w: response without id", ErrMalformed)
		}
	case TypeEvent:
		if m.Name == "" {
			return fmt.Errorf("%w: event without name", ErrMalformed)
		}
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
	return nil
}

// Encode validates and serialises m.
func (m Message) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// DecodeMessage parses and validates a wire message.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// EncodePayload converts a Go value into a wire payload. nil stays empty and
// json.RawMessage is passed through after a validity check.
func EncodePayload(v interface{}) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(p) == 0 {
			return nil, nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: invalid raw payload", ErrMalformed)
		}
		return p, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
