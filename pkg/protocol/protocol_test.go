package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_AddsType(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"turn off", TurnOff{}, `{"type":"turn_off"}`},
		{"reset", Reset{}, `{"type":"reset"}`},
		{"turn on without brightness", TurnOn{}, `{"type":"turn_on"}`},
		{"set light", SetLight{EntityID: "light.stage_2", Brightness: 128}, `{"brightness":128,"entity_id":"light.stage_2","type":"set_light"}`},
		{"log", Log{Level: "warning", Message: "hi", Name: "hub"}, `{"level":"warning","message":"hi","name":"hub","type":"log"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestEncode_TurnOnWithBrightness(t *testing.T) {
	b := 200
	got, err := Encode(TurnOn{Brightness: &b})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"turn_on","brightness":200}`, string(got))
}

func TestDecode_KnownTypes(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"init","state":{"is_on":true}}`))
	require.NoError(t, err)
	initMsg, ok := msg.(*Init)
	require.True(t, ok, "expected *Init, got %T", msg)
	assert.JSONEq(t, `{"is_on":true}`, string(initMsg.State))

	msg, err = Decode([]byte(`{"type":"set_light","entity_id":"light.stage_1","brightness":10}`))
	require.NoError(t, err)
	assert.Equal(t, &SetLight{EntityID: "light.stage_1", Brightness: 10}, msg)

	msg, err = Decode([]byte(`{"type":"log","level":"error","message":"boom","name":"coordinator"}`))
	require.NoError(t, err)
	assert.Equal(t, &Log{Level: "error", Message: "boom", Name: "coordinator"}, msg)

	msg, err = Decode([]byte(`{"type":"pong"}`))
	require.NoError(t, err)
	assert.Equal(t, TypePong, msg.MessageType())
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"not json", `hello`, ErrMalformed},
		{"array", `[1,2]`, ErrMalformed},
		{"numeric type", `{"type":5}`, ErrMalformed},
		{"missing type", `{"state":{}}`, ErrMissingType},
		{"empty type", `{"type":""}`, ErrMissingType},
		{"unknown type", `{"type":"dance"}`, ErrUnknownType},
		{"bad body", `{"type":"set_light","brightness":"high"}`, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode(%s) error = %v, want %v", tt.data, err, tt.wantErr)
			}
		})
	}
}

func TestRoundTrip_UpdateConfig(t *testing.T) {
	update, err := NewConfigUpdate(map[string]any{
		"stage_2_curve": "cubic",
		"breakpoints":   []int{20, 50, 80},
	})
	require.NoError(t, err)

	data, err := Encode(update)
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	got, ok := msg.(*UpdateConfig)
	require.True(t, ok)

	var kind string
	require.NoError(t, json.Unmarshal(got.Config["stage_2_curve"], &kind))
	assert.Equal(t, "cubic", kind)

	var breakpoints []float64
	require.NoError(t, json.Unmarshal(got.Config["breakpoints"], &breakpoints))
	assert.Equal(t, []float64{20, 50, 80}, breakpoints)
}

func TestPeekType(t *testing.T) {
	typ, err := PeekType([]byte(`{"type":"state_update","state":null}`))
	require.NoError(t, err)
	assert.Equal(t, TypeStateUpdate, typ)
}
