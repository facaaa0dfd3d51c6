// Package protocol defines the JSON messages exchanged over the state WebSocket.
//
// Every frame is a JSON object with a mandatory "type" field; the remaining fields depend on
// the type. Brightness values on the wire use the 0-255 light scale.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Path is the well-known WebSocket path on the server.
const Path = "/ws"

var (
	// ErrMalformed is returned for frames that are not a JSON object.
	ErrMalformed = errors.New("malformed message")
	// ErrMissingType is returned for frames without a "type" field.
	ErrMissingType = errors.New("message has no type")
	// ErrUnknownType is returned for frames with an unrecognized "type".
	ErrUnknownType = errors.New("unknown message type")
)

// Type is the discriminator of a message.
type Type string

// Client to server.
const (
	TypeTurnOn        Type = "turn_on"
	TypeTurnOff       Type = "turn_off"
	TypeSetBrightness Type = "set_brightness"
	TypeSetLight      Type = "set_light"
	TypeUpdateConfig  Type = "update_config"
	TypeReset         Type = "reset"
	TypeGetHistory    Type = "get_history"
	TypePing          Type = "ping"
)

// Server to client.
const (
	TypeInit        Type = "init"
	TypeStateUpdate Type = "state_update"
	TypeLog         Type = "log"
	TypeHistory     Type = "history"
	TypePong        Type = "pong"
)

// Message is implemented by every wire message.
type Message interface {
	MessageType() Type
}

// TurnOn turns the combined light on, optionally at a brightness (0-255).
type TurnOn struct {
	Brightness *int `json:"brightness,omitempty"`
}

// TurnOff turns every light off.
type TurnOff struct{}

// SetBrightness turns the combined light on at a brightness (0-255).
type SetBrightness struct {
	Brightness int `json:"brightness"`
}

// SetLight overrides a single light's brightness (0-255).
type SetLight struct {
	EntityID   string `json:"entity_id"`
	Brightness int    `json:"brightness"`
}

// UpdateConfig carries a partial configuration update, e.g. {"stage_2_curve": "cubic"}.
type UpdateConfig struct {
	Config map[string]json.RawMessage `json:"config"`
}

// Reset restores the server to its initial state.
type Reset struct{}

// GetHistory requests the full event history.
type GetHistory struct{}

// Ping requests a Pong.
type Ping struct{}

// Init is the full snapshot sent once per connection.
type Init struct {
	State json.RawMessage `json:"state"`
}

// StateUpdate is a full snapshot sent after every authoritative change.
type StateUpdate struct {
	State json.RawMessage `json:"state"`
}

// Log is an advisory server log line.
type Log struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Name    string `json:"name"`
}

// History is the reply to GetHistory.
type History struct {
	History json.RawMessage `json:"history"`
}

// Pong is the reply to Ping.
type Pong struct{}

func (TurnOn) MessageType() Type        { return TypeTurnOn }
func (TurnOff) MessageType() Type       { return TypeTurnOff }
func (SetBrightness) MessageType() Type { return TypeSetBrightness }
func (SetLight) MessageType() Type      { return TypeSetLight }
func (UpdateConfig) MessageType() Type  { return TypeUpdateConfig }
func (Reset) MessageType() Type         { return TypeReset }
func (GetHistory) MessageType() Type    { return TypeGetHistory }
func (Ping) MessageType() Type          { return TypePing }
func (Init) MessageType() Type          { return TypeInit }
func (StateUpdate) MessageType() Type   { return TypeStateUpdate }
func (Log) MessageType() Type           { return TypeLog }
func (History) MessageType() Type       { return TypeHistory }
func (Pong) MessageType() Type          { return TypePong }

// NewConfigUpdate builds an UpdateConfig from plain Go values.
func NewConfigUpdate(values map[string]any) (UpdateConfig, error) {
	cfg := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return UpdateConfig{}, fmt.Errorf("failed to encode config key %q: %w", k, err)
		}
		cfg[k] = raw
	}
	return UpdateConfig{Config: cfg}, nil
}

// Encode serializes a message with its "type" field.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.MessageType(), err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.MessageType(), err)
	}
	typ, _ := json.Marshal(m.MessageType())
	fields["type"] = typ

	return json.Marshal(fields)
}

// header is used to read the discriminator before decoding the body.
type header struct {
	Type *Type `json:"type"`
}

// PeekType returns the "type" field of a frame without decoding the rest.
func PeekType(data []byte) (Type, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if h.Type == nil || *h.Type == "" {
		return "", ErrMissingType
	}
	return *h.Type, nil
}

// Decode parses a frame into its concrete message type.
func Decode(data []byte) (Message, error) {
	t, err := PeekType(data)
	if err != nil {
		return nil, err
	}

	var m Message
	switch t {
	case TypeTurnOn:
		m = &TurnOn{}
	case TypeTurnOff:
		m = &TurnOff{}
	case TypeSetBrightness:
		m = &SetBrightness{}
	case TypeSetLight:
		m = &SetLight{}
	case TypeUpdateConfig:
		m = &UpdateConfig{}
	case TypeReset:
		m = &Reset{}
	case TypeGetHistory:
		m = &GetHistory{}
	case TypePing:
		m = &Ping{}
	case TypeInit:
		m = &Init{}
	case TypeStateUpdate:
		m = &StateUpdate{}
	case TypeLog:
		m = &Log{}
	case TypeHistory:
		m = &History{}
	case TypePong:
		m = &Pong{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, t, err)
	}
	return m, nil
}
