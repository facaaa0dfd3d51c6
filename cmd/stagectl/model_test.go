package main

import (
	"encoding/json"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/combinedlights-go/internal/logging"
	"github.com/bbernstein/combinedlights-go/internal/services/app"
	"github.com/bbernstein/combinedlights-go/internal/services/clientstate"
	"github.com/bbernstein/combinedlights-go/internal/services/connection"
	"github.com/bbernstein/combinedlights-go/internal/services/curve"
	"github.com/bbernstein/combinedlights-go/internal/services/engine"
	"github.com/bbernstein/combinedlights-go/internal/services/pubsub"
	"github.com/bbernstein/combinedlights-go/internal/services/stage"
	"github.com/bbernstein/combinedlights-go/pkg/protocol"
)

type fakeConn struct {
	open bool
	sent []protocol.Message
}

func (f *fakeConn) Send(msg protocol.Message) bool {
	if !f.open {
		return false
	}
	f.sent = append(f.sent, msg)
	return true
}

const snapshotJSON = `{
	"is_on": true,
	"brightness_pct": 40,
	"current_stage": 2,
	"lights": [
		{"entity_id": "light.stage_1", "stage": 1, "state": "on", "brightness": 102, "brightness_pct": 40},
		{"entity_id": "light.stage_2", "stage": 2, "state": "on", "brightness": 36, "brightness_pct": 14},
		{"entity_id": "light.stage_3", "stage": 3, "state": "off", "brightness": 0, "brightness_pct": 0},
		{"entity_id": "light.stage_4", "stage": 4, "state": "off", "brightness": 0, "brightness_pct": 0}
	],
	"config": {"stage_1_curve": "linear", "stage_2_curve": "linear", "stage_3_curve": "linear", "stage_4_curve": "linear"},
	"history": [{"id": "a", "timestamp": 1700000000, "event_type": "auto", "description": "ON at 40%"}],
	"timestamp": 1700000000
}`

func newTestModel(t *testing.T) (model, *app.Controller, *fakeConn) {
	t.Helper()
	stages, err := stage.NewStore(stage.DefaultRoster())
	require.NoError(t, err)

	bus := pubsub.New()
	store := clientstate.NewStore(bus)
	conn := &fakeConn{open: true}
	store.SetDispatcher(conn)

	ctrl := app.New(stages, store, bus, app.Options{Logger: logging.Discard()})
	return newModel(ctrl), ctrl, conn
}

func press(t *testing.T, m model, keys ...string) model {
	t.Helper()
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "left":
			msg = tea.KeyMsg{Type: tea.KeyLeft}
		case "right":
			msg = tea.KeyMsg{Type: tea.KeyRight}
		case "up":
			msg = tea.KeyMsg{Type: tea.KeyUp}
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		case "tab":
			msg = tea.KeyMsg{Type: tea.KeyTab}
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		next, _ := m.Update(msg)
		m = next.(model)
	}
	return m
}

func update(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(model)
}

func TestModel_SliderKeys(t *testing.T) {
	m, ctrl, conn := newTestModel(t)

	m = press(t, m, "right", "right", ".")
	assert.InDelta(t, 11, ctrl.PreviewGlobal(), 1e-9)
	require.Len(t, conn.sent, 3)
	assert.Equal(t, protocol.SetBrightness{Brightness: app.PercentToLevel(11)}, conn.sent[2])

	m = press(t, m, "left", "left", "left")
	assert.Equal(t, 0.0, ctrl.PreviewGlobal())
	assert.Equal(t, protocol.TurnOff{}, conn.sent[len(conn.sent)-1])
	assert.Empty(t, m.status)
}

func TestModel_OnOffReset(t *testing.T) {
	m, _, conn := newTestModel(t)

	press(t, m, "o", "x", "R")
	assert.Equal(t, []protocol.Message{protocol.TurnOn{}, protocol.TurnOff{}, protocol.Reset{}}, conn.sent)
}

func TestModel_NotConnectedStatus(t *testing.T) {
	m, _, conn := newTestModel(t)
	conn.open = false

	m = press(t, m, "o")
	assert.Contains(t, m.status, "not connected")
	assert.Contains(t, m.View(), "not connected")
}

func TestModel_CycleCurve(t *testing.T) {
	m, ctrl, conn := newTestModel(t)

	m = press(t, m, "3", "c")
	assert.Equal(t, 3, m.stageID)

	var got curve.Kind
	for _, s := range ctrl.Stages() {
		if s.ID == 3 {
			got = s.Curve
		}
	}
	assert.Equal(t, curve.SquareRoot, got, "linear is followed by sqrt")

	require.Len(t, conn.sent, 1)
	upd, ok := conn.sent[0].(protocol.UpdateConfig)
	require.True(t, ok)
	assert.JSONEq(t, `"sqrt"`, string(upd.Config["stage_3_curve"]))
}

func TestModel_ServerMessages(t *testing.T) {
	m, ctrl, _ := newTestModel(t)

	m = update(t, m, stateMsg(connection.Open))
	assert.False(t, ctrl.Disconnected())

	m = update(t, m, serverMsg{msg: &protocol.Init{State: json.RawMessage(snapshotJSON)}})
	lights, ok := ctrl.Authoritative()
	require.True(t, ok)
	assert.Len(t, lights, 4)

	m = update(t, m, serverMsg{msg: &protocol.Log{Level: "warning", Message: "light unavailable", Name: "combined_lights"}})

	view := m.View()
	assert.Contains(t, view, "connected")
	assert.Contains(t, view, "40%")
	assert.Contains(t, view, "light unavailable")
}

func TestModel_LightEditing(t *testing.T) {
	m, ctrl, conn := newTestModel(t)
	m = update(t, m, serverMsg{msg: &protocol.Init{State: json.RawMessage(snapshotJSON)}})

	m = press(t, m, "tab")
	local := ctrl.Local()
	assert.Equal(t, "light.stage_1", local.SelectedLight)
	require.NotNil(t, local.DialogValue)
	assert.Equal(t, 40, *local.DialogValue)

	m = press(t, m, "tab", "up", "up")
	local = ctrl.Local()
	assert.Equal(t, "light.stage_2", local.SelectedLight)
	assert.Equal(t, 24, *local.DialogValue)
	assert.Contains(t, m.View(), "light.stage_2")

	press(t, m, "enter")
	require.Len(t, conn.sent, 1)
	assert.Equal(t, protocol.SetLight{EntityID: "light.stage_2", Brightness: app.PercentToLevel(24)}, conn.sent[0])
	assert.Nil(t, ctrl.Local().DialogValue)

	m = press(t, m, "esc")
	assert.Empty(t, ctrl.Local().SelectedLight)
}

func TestModel_EditWithoutSelection(t *testing.T) {
	m, _, conn := newTestModel(t)

	m = press(t, m, "up")
	assert.Contains(t, m.status, "select a light")
	assert.Empty(t, conn.sent)
}

func TestModel_History(t *testing.T) {
	m, _, conn := newTestModel(t)
	m = update(t, m, serverMsg{msg: &protocol.Init{State: json.RawMessage(snapshotJSON)}})

	m = press(t, m, "H")
	assert.True(t, m.showHistory)
	assert.Equal(t, []protocol.Message{protocol.GetHistory{}}, conn.sent)
	assert.Contains(t, m.View(), "ON at 40%")

	m = update(t, m, serverMsg{msg: &protocol.History{History: json.RawMessage(`[{"id":"b","timestamp":1700000001,"event_type":"manual","description":"Stage 2: 10% → 30%"}]`)}})
	assert.Contains(t, m.View(), "Stage 2: 10% → 30%")
}

func TestModel_Quit(t *testing.T) {
	m, _, _ := newTestModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestModel_DisconnectedView(t *testing.T) {
	m, _, _ := newTestModel(t)
	m = update(t, m, stateMsg(connection.ClosedRetrying))
	assert.Contains(t, m.View(), "disconnected")
}

func TestSparkline(t *testing.T) {
	ds := engine.Dataset{
		{Global: 0, Stages: map[int]float64{1: 0}},
		{Global: 50, Stages: map[int]float64{1: 50}},
		{Global: 100, Stages: map[int]float64{1: 100}},
	}
	assert.Equal(t, " ▄█", sparkline(ds, 1))
	assert.Equal(t, "   ", sparkline(ds, 2))
}

func TestBar(t *testing.T) {
	plain := func(s string) string {
		return strings.Map(func(r rune) rune {
			if r == '█' || r == '░' {
				return r
			}
			return -1
		}, s)
	}
	assert.Equal(t, "█████░░░░░", plain(bar(50, 10)))
	assert.Equal(t, "░░░░░░░░░░", plain(bar(-5, 10)))
	assert.Equal(t, "██████████", plain(bar(120, 10)))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestProgramRenderer(t *testing.T) {
	var got []tea.Msg
	r := programRenderer{send: func(m tea.Msg) { got = append(got, m) }}
	r.Render(app.ReasonSnapshot)
	assert.Equal(t, []tea.Msg{renderMsg(app.ReasonSnapshot)}, got)
}
