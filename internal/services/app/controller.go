// Package app ties the stage roster, the client state store and the connection together.
//
// The controller is independent of any rendering technology. User intents go in through its
// methods; server messages and connection state come in through HandleMessage and
// HandleState; a Renderer is told what changed.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/bbernstein/combinedlights-go/internal/services/clientstate"
	"github.com/bbernstein/combinedlights-go/internal/services/connection"
	"github.com/bbernstein/combinedlights-go/internal/services/curve"
	"github.com/bbernstein/combinedlights-go/internal/services/engine"
	"github.com/bbernstein/combinedlights-go/internal/services/pubsub"
	"github.com/bbernstein/combinedlights-go/internal/services/stage"
	"github.com/bbernstein/combinedlights-go/pkg/protocol"
)

// DefaultChartStep is the dataset sampling step used when none is configured.
const DefaultChartStep = 5.0

// Reason says what kind of state changed.
type Reason string

const (
	ReasonSnapshot   Reason = "snapshot"
	ReasonLocal      Reason = "local"
	ReasonStages     Reason = "stages"
	ReasonConnection Reason = "connection"
	ReasonLog        Reason = "log"
	ReasonHistory    Reason = "history"
)

var topicReasons = map[pubsub.Topic]Reason{
	pubsub.TopicSnapshotApplied:   ReasonSnapshot,
	pubsub.TopicLocalStateChanged: ReasonLocal,
	pubsub.TopicStagesChanged:     ReasonStages,
	pubsub.TopicConnectionChanged: ReasonConnection,
	pubsub.TopicServerLog:         ReasonLog,
	pubsub.TopicHistoryReceived:   ReasonHistory,
}

// Renderer is notified after every state change.
type Renderer interface {
	Render(reason Reason)
}

// Options configures a Controller.
type Options struct {
	// ChartStep is the sampling step for Dataset. Defaults to DefaultChartStep.
	ChartStep float64
	Logger    *slog.Logger
}

// Controller is the client application core.
type Controller struct {
	stages *stage.Store
	store  *clientstate.Store
	bus    *pubsub.PubSub
	step   float64
	logger *slog.Logger

	mu         sync.Mutex
	connState  connection.State
	lastLog    *protocol.Log
	dataset    engine.Dataset
	datasetVer uint64
	datasetOK  bool
}

// New creates a controller over an existing roster and store. bus must be the bus the store
// publishes on.
func New(stages *stage.Store, store *clientstate.Store, bus *pubsub.PubSub, opts Options) *Controller {
	if opts.ChartStep <= 0 {
		opts.ChartStep = DefaultChartStep
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		stages:    stages,
		store:     store,
		bus:       bus,
		step:      opts.ChartStep,
		logger:    opts.Logger,
		connState: connection.ClosedRetrying,
	}
}

// Run forwards change notifications to r until ctx is cancelled.
func (c *Controller) Run(ctx context.Context, r Renderer) error {
	if c.bus == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	merged := make(chan Reason, 64)
	var wg sync.WaitGroup
	for topic, reason := range topicReasons {
		sub := c.bus.Subscribe(topic, 16)
		wg.Add(1)
		go func(sub *pubsub.Subscriber, reason Reason) {
			defer wg.Done()
			defer c.bus.Unsubscribe(sub)
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-sub.Channel:
					if !ok {
						return
					}
					select {
					case merged <- reason:
					case <-ctx.Done():
						return
					}
				}
			}
		}(sub, reason)
	}

	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case reason := <-merged:
			r.Render(reason)
		}
	}
}

// Intents

// Drag moves the local slider and asks the server for the matching brightness. Dragging to
// zero turns the light off. It reports whether the intent reached the server.
func (c *Controller) Drag(value float64) bool {
	c.store.SetSlider(value)
	pct := c.store.Local().SliderValue

	if pct <= 0 {
		return c.store.Dispatch(protocol.TurnOff{})
	}
	return c.store.Dispatch(protocol.SetBrightness{Brightness: PercentToLevel(pct)})
}

// TurnOn turns the combined light on at its last target brightness.
func (c *Controller) TurnOn() bool {
	return c.store.Dispatch(protocol.TurnOn{})
}

// TurnOff turns every light off.
func (c *Controller) TurnOff() bool {
	return c.dispatchAndRelease(protocol.TurnOff{})
}

// SetCurve changes one stage's curve locally and on the server. Validation errors are
// returned and nothing is sent.
func (c *Controller) SetCurve(stageID int, kind curve.Kind) error {
	if err := c.stages.SetCurve(stageID, kind); err != nil {
		return err
	}
	c.publish(pubsub.TopicStagesChanged, stageID)

	update, err := protocol.NewConfigUpdate(map[string]any{
		stage.CurveKey(stageID): string(kind),
	})
	if err != nil {
		return err
	}
	c.store.Dispatch(update)
	return nil
}

// SetLight overrides one light. pct is on the 0-100 scale.
func (c *Controller) SetLight(entityID string, pct float64) bool {
	c.store.ClearDialog()
	level := 0
	if pct > 0 {
		level = PercentToLevel(pct)
	}
	return c.store.Dispatch(protocol.SetLight{EntityID: entityID, Brightness: level})
}

// Reset asks the server to return to its initial state.
func (c *Controller) Reset() bool {
	return c.dispatchAndRelease(protocol.Reset{})
}

// dispatchAndRelease sends an intent that gives the brightness back to the server. A dropped
// intent leaves the slider alone.
func (c *Controller) dispatchAndRelease(msg protocol.Message) bool {
	if !c.store.Dispatch(msg) {
		return false
	}
	c.store.ReleaseSlider()
	return true
}

// RequestHistory asks the server for its full event log.
func (c *Controller) RequestHistory() bool {
	return c.store.Dispatch(protocol.GetHistory{})
}

// SelectLight changes the selected light. An empty ID clears the selection.
func (c *Controller) SelectLight(entityID string) {
	c.store.SelectLight(entityID)
}

// EditLight records an in-progress brightness edit for the selected light.
func (c *Controller) EditLight(pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	c.store.SetDialogValue(pct)
}

// Inbound

// HandleMessage applies one server message. It must be called in arrival order.
func (c *Controller) HandleMessage(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Init:
		c.applySnapshot(m.State)
	case *protocol.StateUpdate:
		c.applySnapshot(m.State)
	case *protocol.History:
		if err := c.store.ApplyHistory(m.History); err != nil {
			c.logger.Warn("ignoring history", "error", err)
		}
	case *protocol.Log:
		c.handleLog(m)
	case *protocol.Pong:
		c.logger.Debug("pong")
	default:
		c.logger.Warn("ignoring unexpected message", "type", msg.MessageType())
	}
}

// HandleState records a connection state transition.
func (c *Controller) HandleState(s connection.State) {
	c.mu.Lock()
	c.connState = s
	c.mu.Unlock()

	c.publish(pubsub.TopicConnectionChanged, s)
}

func (c *Controller) applySnapshot(raw json.RawMessage) {
	prev := c.store.Snapshot()
	if err := c.store.Apply(raw); err != nil {
		c.logger.Warn("ignoring snapshot", "error", err)
		return
	}
	snap := c.store.Snapshot()
	// The light going off, from any client, ends the local slider override.
	if !snap.View.IsOn && (prev == nil || prev.View.IsOn) && c.store.Local().SliderTouched {
		c.store.ReleaseSlider()
	}
	if c.stages.SyncCurves(snap.View.Curves()) {
		c.publish(pubsub.TopicStagesChanged, nil)
	}
}

func (c *Controller) handleLog(m *protocol.Log) {
	entry := *m
	c.mu.Lock()
	c.lastLog = &entry
	c.mu.Unlock()

	attrs := []any{"server_logger", m.Name}
	switch m.Level {
	case "error":
		c.logger.Error(m.Message, attrs...)
	case "warning", "warn":
		c.logger.Warn(m.Message, attrs...)
	case "debug":
		c.logger.Debug(m.Message, attrs...)
	default:
		c.logger.Info(m.Message, attrs...)
	}
	c.publish(pubsub.TopicServerLog, entry)
}

// Reads

// ConnectionState returns the last reported connection state.
func (c *Controller) ConnectionState() connection.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

// Disconnected reports whether the UI should show the disconnected indicator.
func (c *Controller) Disconnected() bool {
	return c.ConnectionState() != connection.Open
}

// LastLog returns the most recent server log line, if any.
func (c *Controller) LastLog() (protocol.Log, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastLog == nil {
		return protocol.Log{}, false
	}
	return *c.lastLog, true
}

// Stages returns the current roster.
func (c *Controller) Stages() []stage.Config {
	return c.stages.Stages()
}

// PreviewGlobal is the global brightness the preview is computed from: the local slider once
// the user has touched it, otherwise the server's brightness while on, otherwise 0.
func (c *Controller) PreviewGlobal() float64 {
	local := c.store.Local()
	if local.SliderTouched {
		return local.SliderValue
	}
	if snap := c.store.Snapshot(); snap != nil && snap.View.IsOn {
		return snap.View.BrightnessPct
	}
	return 0
}

// Preview returns the optimistic per-stage outputs for PreviewGlobal.
func (c *Controller) Preview() []engine.StageOutput {
	return engine.Outputs(c.PreviewGlobal(), c.stages.Stages())
}

// Authoritative returns the lights as last reported by the server. ok is false before the
// first snapshot.
func (c *Controller) Authoritative() (lights []clientstate.Light, ok bool) {
	snap := c.store.Snapshot()
	if snap == nil {
		return nil, false
	}
	lights = make([]clientstate.Light, len(snap.View.Lights))
	copy(lights, snap.View.Lights)
	return lights, true
}

// Snapshot returns the current server snapshot or nil.
func (c *Controller) Snapshot() *clientstate.Snapshot {
	return c.store.Snapshot()
}

// Local returns the local UI state.
func (c *Controller) Local() clientstate.LocalState {
	return c.store.Local()
}

// History returns the last full history reply.
func (c *Controller) History() []clientstate.HistoryEntry {
	return c.store.History()
}

// Dataset returns the chart dataset for the current roster. It is rebuilt only when the
// roster has changed since the last call.
func (c *Controller) Dataset() (engine.Dataset, error) {
	ver := c.stages.Version()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.datasetOK && c.datasetVer == ver {
		return c.dataset, nil
	}

	ds, err := engine.BuildDataset(c.stages.Stages(), c.step)
	if err != nil {
		return nil, fmt.Errorf("build dataset: %w", err)
	}
	c.dataset = ds
	c.datasetVer = ver
	c.datasetOK = true
	return ds, nil
}

func (c *Controller) publish(topic pubsub.Topic, msg interface{}) {
	if c.bus != nil {
		c.bus.Publish(topic, msg)
	}
}

// PercentToLevel converts a 0-100 percentage to the 1-255 light scale.
func PercentToLevel(pct float64) int {
	level := int(math.Round(pct / 100 * 255))
	if level < 1 {
		return 1
	}
	if level > 255 {
		return 255
	}
	return level
}

// LevelToPercent converts a 0-255 light level to a percentage.
func LevelToPercent(level int) float64 {
	if level <= 0 {
		return 0
	}
	return float64(level) / 255 * 100
}
