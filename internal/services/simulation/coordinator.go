// Package simulation holds the server's authoritative combined-light state.
//
// A Coordinator drives four simulated lights, one per stage, from a single target brightness.
// Every change is recorded in the history log and announced to listeners, which the WebSocket
// hub uses to push fresh snapshots to clients.
package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bbernstein/combinedlights-go/internal/database/models"
	"github.com/bbernstein/combinedlights-go/internal/services/curve"
	"github.com/bbernstein/combinedlights-go/internal/services/engine"
	"github.com/bbernstein/combinedlights-go/internal/services/stage"
)

// MaxLevel is the top of the 0-255 light brightness scale.
const MaxLevel = 255

const (
	// DefaultHistoryLimit is how many events the log keeps.
	DefaultHistoryLimit = 50
	// DefaultSnapshotHistory is how many recent events each snapshot carries.
	DefaultSnapshotHistory = 20
)

// Config keys accepted by UpdateConfig besides the per-stage curve keys.
const (
	KeyBreakpoints     = "breakpoints"
	KeyBackPropagation = "back_propagation"
	// Accepted as an alias of KeyBackPropagation.
	KeyEnableBackPropagation = "enable_back_propagation"
)

var (
	// ErrInvalidBreakpoints is returned for breakpoints that are not three strictly
	// increasing values in (0, 100).
	ErrInvalidBreakpoints = errors.New("invalid breakpoints")
	// ErrUnknownLight is returned for an entity ID that is not simulated.
	ErrUnknownLight = errors.New("unknown light")
	// ErrInvalidConfig is returned for config values of the wrong type.
	ErrInvalidConfig = errors.New("invalid config value")
)

// HistoryStore persists the event log.
type HistoryStore interface {
	Append(ctx context.Context, event *models.HistoryEvent) error
	All(ctx context.Context) ([]models.HistoryEvent, error)
	Recent(ctx context.Context, n int) ([]models.HistoryEvent, error)
	Trim(ctx context.Context, keep int) error
	Clear(ctx context.Context) error
}

// Config is the adjustable simulation configuration.
type Config struct {
	Breakpoints     []float64
	BackPropagation bool
	Curves          map[int]curve.Kind
}

// DefaultConfig returns breakpoints 30/60/85, all-linear curves and no back-propagation.
func DefaultConfig() Config {
	return Config{
		Breakpoints: append([]float64(nil), stage.DefaultBreakpoints...),
		Curves:      map[int]curve.Kind{},
	}
}

// Options configures a Coordinator.
type Options struct {
	History         HistoryStore
	HistoryLimit    int
	SnapshotHistory int
	Logger          *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Light is one simulated light.
type Light struct {
	EntityID   string
	Stage      int
	On         bool
	Brightness int
}

// BrightnessPct returns the light's brightness on the 0-100 scale.
func (l Light) BrightnessPct() float64 {
	if l.Brightness <= 0 {
		return 0
	}
	return float64(l.Brightness) / MaxLevel * 100
}

// Coordinator owns the simulated state. It is safe for concurrent use.
type Coordinator struct {
	history      HistoryStore
	historyLimit int
	snapshotN    int
	logger       *slog.Logger
	now          func() time.Time

	mu     sync.Mutex
	cfg    Config
	stages []stage.Config
	isOn   bool
	target int
	lights []*Light

	listenerMu   sync.Mutex
	listeners    map[int]func()
	nextListener int
}

// New creates a coordinator with all lights off and a full target brightness.
func New(cfg Config, opts Options) (*Coordinator, error) {
	if opts.History == nil {
		return nil, errors.New("simulation: history store is required")
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.SnapshotHistory <= 0 {
		opts.SnapshotHistory = DefaultSnapshotHistory
	}
	if opts.SnapshotHistory > opts.HistoryLimit {
		opts.SnapshotHistory = opts.HistoryLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if err := validateBreakpoints(cfg.Breakpoints); err != nil {
		return nil, err
	}
	curves := make(map[int]curve.Kind, stage.Count)
	for id, k := range cfg.Curves {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: stage %d curve %q", curve.ErrUnknownCurve, id, k)
		}
		curves[id] = k
	}
	cfg.Curves = curves
	cfg.Breakpoints = append([]float64(nil), cfg.Breakpoints...)

	stages, err := stage.FromBreakpoints(cfg.Breakpoints, cfg.Curves)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		history:      opts.History,
		historyLimit: opts.HistoryLimit,
		snapshotN:    opts.SnapshotHistory,
		logger:       opts.Logger,
		now:          opts.Now,
		cfg:          cfg,
		stages:       stages,
		target:       MaxLevel,
		listeners:    make(map[int]func()),
	}
	for i := 1; i <= stage.Count; i++ {
		c.lights = append(c.lights, &Light{EntityID: EntityID(i), Stage: i})
	}
	return c, nil
}

// EntityID returns the simulated light's entity ID for a stage.
func EntityID(stageID int) string {
	return fmt.Sprintf("light.stage_%d", stageID)
}

// AddListener registers fn to be called after every change. The returned function removes
// it. Listeners run on the goroutine that made the change, after the state lock is released.
func (c *Coordinator) AddListener(fn func()) (remove func()) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	c.nextListener++
	id := c.nextListener
	c.listeners[id] = fn

	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Coordinator) notify() {
	c.listenerMu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.listenerMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// TurnOn turns the combined light on. A nil brightness keeps the current target; otherwise
// the target is clamped to [1, 255].
func (c *Coordinator) TurnOn(ctx context.Context, brightness *int) error {
	c.mu.Lock()
	if brightness != nil {
		c.target = clampLevel(*brightness, 1)
	}
	c.isOn = true
	c.applyLocked()

	c.record(ctx, models.EventAuto, fmt.Sprintf("ON at %.0f%%", c.targetPctLocked()))
	for _, l := range c.lights {
		if l.Brightness > 0 {
			c.record(ctx, models.EventAuto, fmt.Sprintf("  Stage %d: %.0f%%", l.Stage, l.BrightnessPct()))
		}
	}
	c.mu.Unlock()

	c.notify()
	return nil
}

// SetBrightness turns the combined light on at a level (0-255, clamped to [1, 255]).
func (c *Coordinator) SetBrightness(ctx context.Context, level int) error {
	return c.TurnOn(ctx, &level)
}

// TurnOff turns every light off. The target brightness is kept for the next TurnOn.
func (c *Coordinator) TurnOff(ctx context.Context) error {
	c.mu.Lock()
	c.isOn = false
	for _, l := range c.lights {
		l.On = false
		l.Brightness = 0
	}
	c.record(ctx, models.EventAuto, "OFF")
	c.mu.Unlock()

	c.notify()
	return nil
}

// SetLight overrides one light (0-255). The target brightness is re-estimated from that
// light alone; other lights change only when back-propagation is enabled.
func (c *Coordinator) SetLight(ctx context.Context, entityID string, brightness int) error {
	c.mu.Lock()

	light := c.lightLocked(entityID)
	if light == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownLight, entityID)
	}

	brightness = clampLevel(brightness, 0)
	oldPct := light.BrightnessPct()
	light.Brightness = brightness
	light.On = brightness > 0

	c.isOn = false
	for _, l := range c.lights {
		if l.On {
			c.isOn = true
			break
		}
	}

	overall := 0.0
	if c.isOn {
		overall = c.estimateOverallLocked(light.Stage, light.BrightnessPct())
		c.target = clampLevel(int(overall/100*MaxLevel), 1)
	}

	if brightness > 0 {
		c.record(ctx, models.EventManual, fmt.Sprintf("Stage %d: %.0f%% → %.0f%%", light.Stage, oldPct, light.BrightnessPct()))
	} else {
		c.record(ctx, models.EventManual, fmt.Sprintf("Stage %d: OFF", light.Stage))
	}
	c.record(ctx, models.EventManual, fmt.Sprintf("  → Overall: %.0f%%", overall))

	if c.cfg.BackPropagation && c.isOn {
		for _, l := range c.applyExceptLocked(entityID) {
			if l.Brightness > 0 {
				c.record(ctx, models.EventBackprop, fmt.Sprintf("Stage %d: %.0f%%", l.Stage, l.BrightnessPct()))
			} else {
				c.record(ctx, models.EventBackprop, fmt.Sprintf("Stage %d: OFF", l.Stage))
			}
		}
	}
	c.mu.Unlock()

	c.logger.Info("manual light change", "entity_id", entityID, "brightness", brightness, "overall_pct", math.Round(overall))
	c.notify()
	return nil
}

// UpdateConfig applies a partial configuration update. Recognized keys are "breakpoints",
// "back_propagation" (or "enable_back_propagation") and "stage_N_curve". The update is
// validated as a whole; on error nothing changes. Unknown keys are ignored.
func (c *Coordinator) UpdateConfig(ctx context.Context, updates map[string]json.RawMessage) error {
	c.mu.Lock()

	next := Config{
		Breakpoints:     append([]float64(nil), c.cfg.Breakpoints...),
		BackPropagation: c.cfg.BackPropagation,
		Curves:          make(map[int]curve.Kind, stage.Count),
	}
	for id, k := range c.cfg.Curves {
		next.Curves[id] = k
	}

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var applied, ignored []string
	for _, key := range keys {
		raw := updates[key]
		switch {
		case key == KeyBreakpoints:
			var bps []float64
			if err := json.Unmarshal(raw, &bps); err != nil {
				c.mu.Unlock()
				return fmt.Errorf("%w: %s: %v", ErrInvalidBreakpoints, key, err)
			}
			if err := validateBreakpoints(bps); err != nil {
				c.mu.Unlock()
				return err
			}
			next.Breakpoints = bps
		case key == KeyBackPropagation || key == KeyEnableBackPropagation:
			var on bool
			if err := json.Unmarshal(raw, &on); err != nil {
				c.mu.Unlock()
				return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
			}
			next.BackPropagation = on
		default:
			id, ok := curveKeyID(key)
			if !ok {
				ignored = append(ignored, key)
				continue
			}
			var name string
			if err := json.Unmarshal(raw, &name); err != nil {
				c.mu.Unlock()
				return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
			}
			kind, err := curve.Parse(name)
			if err != nil {
				c.mu.Unlock()
				return fmt.Errorf("%s: %w", key, err)
			}
			next.Curves[id] = kind
		}
		applied = append(applied, fmt.Sprintf("%s=%s", key, strings.TrimSpace(string(raw))))
	}

	stages, err := stage.FromBreakpoints(next.Breakpoints, next.Curves)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	c.cfg = next
	c.stages = stages
	if c.isOn {
		c.applyLocked()
	}
	if len(applied) > 0 {
		c.record(ctx, models.EventConfig, "Config: "+strings.Join(applied, ", "))
	}
	c.mu.Unlock()

	if len(ignored) > 0 {
		c.logger.Warn("ignoring unknown config keys", "keys", ignored)
	}
	c.notify()
	return nil
}

// Reset turns everything off, restores the full target brightness and clears the history.
// The configuration is kept.
func (c *Coordinator) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.isOn = false
	c.target = MaxLevel
	for _, l := range c.lights {
		l.On = false
		l.Brightness = 0
	}
	err := c.history.Clear(ctx)
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	c.notify()
	return nil
}

// IsOn reports whether the combined light is on.
func (c *Coordinator) IsOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOn
}

// TargetBrightness returns the target level (0-255).
func (c *Coordinator) TargetBrightness() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// CurrentStage returns the highest stage (1-4) the target brightness reaches, or 0 when off.
func (c *Coordinator) CurrentStage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentStageLocked()
}

// Lights returns a copy of every light in stage order.
func (c *Coordinator) Lights() []Light {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Light, len(c.lights))
	for i, l := range c.lights {
		out[i] = *l
	}
	return out
}

// Stages returns the roster derived from the current configuration.
func (c *Coordinator) Stages() []stage.Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]stage.Config, len(c.stages))
	copy(out, c.stages)
	return out
}

func (c *Coordinator) lightLocked(entityID string) *Light {
	for _, l := range c.lights {
		if l.EntityID == entityID {
			return l
		}
	}
	return nil
}

func (c *Coordinator) targetPctLocked() float64 {
	return float64(c.target) / MaxLevel * 100
}

func (c *Coordinator) currentStageLocked() int {
	if !c.isOn {
		return 0
	}
	pct := c.targetPctLocked()
	for i, bp := range c.cfg.Breakpoints {
		if pct <= bp {
			return i + 1
		}
	}
	return stage.Count
}

// levelFor maps a stage's output at the current target onto the light scale. An active stage
// never drops below level 1.
func (c *Coordinator) levelFor(s stage.Config) int {
	pct := engine.ComputeExact(c.targetPctLocked(), s)
	if pct <= 0 {
		return 0
	}
	return clampLevel(int(pct/100*MaxLevel), 1)
}

func (c *Coordinator) applyLocked() {
	c.applyExceptLocked("")
}

// applyExceptLocked sets every light but the excluded one from the target brightness and
// returns the lights it touched.
func (c *Coordinator) applyExceptLocked(exclude string) []Light {
	var touched []Light
	for _, l := range c.lights {
		if l.EntityID == exclude {
			continue
		}
		level := c.levelFor(c.stages[l.Stage-1])
		l.Brightness = level
		l.On = level > 0
		touched = append(touched, *l)
	}
	return touched
}

// estimateOverallLocked returns the global brightness at which a stage would show pct.
// An off light maps to the highest global brightness that keeps its stage off.
func (c *Coordinator) estimateOverallLocked(stageID int, pct float64) float64 {
	s := c.stages[stageID-1]
	if pct <= 0 {
		return s.Threshold
	}
	progress := curve.Invert(s.Curve, math.Min(pct/100, 1))
	overall := s.Threshold + progress*(stage.MaxBrightness-s.Threshold)
	return math.Max(0, math.Min(stage.MaxBrightness, overall))
}

// record appends to the history log. Failures are logged; the log is advisory.
func (c *Coordinator) record(ctx context.Context, eventType, description string) {
	event := &models.HistoryEvent{
		Timestamp:   models.UnixSeconds(c.now()),
		EventType:   eventType,
		Description: description,
	}
	if err := c.history.Append(ctx, event); err != nil {
		c.logger.Error("failed to record history event", "error", err)
		return
	}
	if err := c.history.Trim(ctx, c.historyLimit); err != nil {
		c.logger.Error("failed to trim history", "error", err)
	}
}

func clampLevel(level, min int) int {
	if level < min {
		return min
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

func validateBreakpoints(bps []float64) error {
	if len(bps) != stage.Count-1 {
		return fmt.Errorf("%w: need %d values, got %d", ErrInvalidBreakpoints, stage.Count-1, len(bps))
	}
	for i, bp := range bps {
		if math.IsNaN(bp) || bp <= 0 || bp >= stage.MaxBrightness {
			return fmt.Errorf("%w: %v is outside (0, 100)", ErrInvalidBreakpoints, bp)
		}
		if i > 0 && bp <= bps[i-1] {
			return fmt.Errorf("%w: %v must be greater than %v", ErrInvalidBreakpoints, bp, bps[i-1])
		}
	}
	return nil
}

// curveKeyID parses "stage_N_curve" for N in 1..4.
func curveKeyID(key string) (int, bool) {
	if !strings.HasPrefix(key, "stage_") || !strings.HasSuffix(key, "_curve") {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(key, "stage_"), "_curve"))
	if err != nil || id < 1 || id > stage.Count {
		return 0, false
	}
	return id, true
}
