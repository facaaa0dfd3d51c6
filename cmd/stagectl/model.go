package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bbernstein/combinedlights-go/internal/services/app"
	"github.com/bbernstein/combinedlights-go/internal/services/connection"
	"github.com/bbernstein/combinedlights-go/internal/services/curve"
	"github.com/bbernstein/combinedlights-go/internal/services/engine"
	"github.com/bbernstein/combinedlights-go/pkg/protocol"
)

const (
	sliderStep = 5.0
	fineStep   = 1.0
	barWidth   = 30
	historyMax = 12
)

// Messages fed into the program from outside the UI goroutine.
type (
	serverMsg struct{ msg protocol.Message }
	stateMsg  connection.State
	renderMsg app.Reason
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Bold(true)
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	headerStyle = lipgloss.NewStyle().Underline(true)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type model struct {
	ctrl *app.Controller
	keys keyMap
	help help.Model

	width       int
	stageID     int
	showHistory bool
	status      string
}

func newModel(ctrl *app.Controller) model {
	return model{
		ctrl:    ctrl,
		keys:    keys,
		help:    help.New(),
		stageID: 1,
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case serverMsg:
		m.ctrl.HandleMessage(msg.msg)
		return m, nil

	case stateMsg:
		m.ctrl.HandleState(connection.State(msg))
		return m, nil

	case renderMsg:
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.status = ""

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Down):
		m.drag(-sliderStep)
	case key.Matches(msg, m.keys.Up):
		m.drag(sliderStep)
	case key.Matches(msg, m.keys.FineDown):
		m.drag(-fineStep)
	case key.Matches(msg, m.keys.FineUp):
		m.drag(fineStep)
	case key.Matches(msg, m.keys.On):
		m.sent(m.ctrl.TurnOn())
	case key.Matches(msg, m.keys.Off):
		m.sent(m.ctrl.TurnOff())
	case key.Matches(msg, m.keys.Stage):
		m.stageID = int(msg.String()[0] - '0')
	case key.Matches(msg, m.keys.Curve):
		m.cycleCurve()
	case key.Matches(msg, m.keys.NextLight):
		m.nextLight()
	case key.Matches(msg, m.keys.EditDown):
		m.editLight(-sliderStep)
	case key.Matches(msg, m.keys.EditUp):
		m.editLight(sliderStep)
	case key.Matches(msg, m.keys.Apply):
		m.applyLight()
	case key.Matches(msg, m.keys.Cancel):
		m.ctrl.SelectLight("")
	case key.Matches(msg, m.keys.History):
		m.showHistory = !m.showHistory
		if m.showHistory {
			m.sent(m.ctrl.RequestHistory())
		}
	case key.Matches(msg, m.keys.Reset):
		m.sent(m.ctrl.Reset())
	}
	return m, nil
}

func (m *model) drag(delta float64) {
	m.sent(m.ctrl.Drag(m.ctrl.PreviewGlobal() + delta))
}

func (m *model) sent(ok bool) {
	if !ok {
		m.status = "not connected, change not sent"
	}
}

func (m *model) cycleCurve() {
	var current curve.Kind
	for _, s := range m.ctrl.Stages() {
		if s.ID == m.stageID {
			current = s.Curve
		}
	}
	kinds := curve.Kinds()
	next := kinds[0]
	for i, k := range kinds {
		if k == current {
			next = kinds[(i+1)%len(kinds)]
			break
		}
	}
	if err := m.ctrl.SetCurve(m.stageID, next); err != nil {
		m.status = err.Error()
		return
	}
	if m.ctrl.Disconnected() {
		m.status = "curve changed locally; server not connected"
	}
}

func (m *model) nextLight() {
	lights, ok := m.ctrl.Authoritative()
	if !ok || len(lights) == 0 {
		m.status = "no lights yet"
		return
	}
	selected := m.ctrl.Local().SelectedLight
	idx := 0
	for i, l := range lights {
		if l.EntityID == selected {
			idx = (i + 1) % len(lights)
			break
		}
	}
	l := lights[idx]
	m.ctrl.SelectLight(l.EntityID)
	m.ctrl.EditLight(int(math.Round(l.BrightnessPct)))
}

func (m *model) editLight(delta float64) {
	local := m.ctrl.Local()
	if local.SelectedLight == "" {
		m.status = "select a light with tab first"
		return
	}
	v := 0
	if local.DialogValue != nil {
		v = *local.DialogValue
	}
	m.ctrl.EditLight(v + int(delta))
}

func (m *model) applyLight() {
	local := m.ctrl.Local()
	if local.SelectedLight == "" || local.DialogValue == nil {
		return
	}
	m.sent(m.ctrl.SetLight(local.SelectedLight, float64(*local.DialogValue)))
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Combined Lights"))
	b.WriteString("  ")
	b.WriteString(m.connectionView())
	b.WriteString("\n\n")

	global := m.ctrl.PreviewGlobal()
	fmt.Fprintf(&b, "Brightness %s %3.0f%%\n\n", bar(global, barWidth), global)

	b.WriteString(m.stagesView())
	b.WriteString("\n")
	b.WriteString(m.chartView())

	if v := m.lightEditView(); v != "" {
		b.WriteString("\n")
		b.WriteString(v)
	}
	if l, ok := m.ctrl.LastLog(); ok {
		b.WriteString("\n")
		b.WriteString(logStyle(l.Level).Render(fmt.Sprintf("[%s] %s: %s", l.Level, l.Name, l.Message)))
	}
	if m.showHistory {
		b.WriteString("\n")
		b.WriteString(m.historyView())
	}
	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render(m.status))
	}

	b.WriteString("\n\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m model) connectionView() string {
	switch s := m.ctrl.ConnectionState(); s {
	case connection.Open:
		return okStyle.Render("● connected")
	case connection.Connecting:
		return warnStyle.Render("◌ connecting…")
	default:
		return errStyle.Render("○ disconnected, retrying")
	}
}

func (m model) stagesView() string {
	lights, haveServer := m.ctrl.Authoritative()
	server := make(map[int]string, len(lights))
	for _, l := range lights {
		if l.IsOn() {
			server[l.Stage] = fmt.Sprintf("%3.0f%%", l.BrightnessPct)
		} else {
			server[l.Stage] = "off"
		}
	}

	preview := make(map[int]float64)
	for _, o := range m.ctrl.Preview() {
		preview[o.StageID] = o.LocalBrightness
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("  %-5s %-14s %-9s %5s  %-*s %5s  %s", "stage", "label", "curve", "from", barWidth/2, "preview", "", "server")))
	b.WriteString("\n")
	for _, s := range m.ctrl.Stages() {
		cursor := "  "
		if s.ID == m.stageID {
			cursor = selStyle.Render("> ")
		}
		srv := dimStyle.Render("-")
		if haveServer {
			if v, ok := server[s.ID]; ok {
				srv = v
			}
		}
		fmt.Fprintf(&b, "%s%-5d %-14s %-9s %4.0f%%  %s %4.0f%%  %s\n",
			cursor, s.ID, truncate(s.Label, 14), s.Curve, s.Threshold,
			bar(preview[s.ID], barWidth/2), preview[s.ID], srv)
	}
	return b.String()
}

func (m model) chartView() string {
	ds, err := m.ctrl.Dataset()
	if err != nil {
		return errStyle.Render(err.Error())
	}

	var b strings.Builder
	for _, s := range m.ctrl.Stages() {
		fmt.Fprintf(&b, "%d │%s│\n", s.ID, sparkline(ds, s.ID))
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("   0%%%*s", len(ds)-1, "100%")))
	return boxStyle.Render(b.String())
}

func (m model) lightEditView() string {
	local := m.ctrl.Local()
	if local.SelectedLight == "" {
		return ""
	}
	value := "-"
	if local.DialogValue != nil {
		value = fmt.Sprintf("%d%%", *local.DialogValue)
	}
	return selStyle.Render(fmt.Sprintf("%s → %s", local.SelectedLight, value)) +
		dimStyle.Render("  (enter to apply, esc to cancel)")
}

func (m model) historyView() string {
	entries := m.ctrl.History()
	if len(entries) == 0 {
		if snap := m.ctrl.Snapshot(); snap != nil {
			entries = snap.View.History
		}
	}
	if len(entries) > historyMax {
		entries = entries[len(entries)-historyMax:]
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("History"))
	for _, e := range entries {
		ts := time.Unix(0, int64(e.Timestamp*float64(time.Second))).Format("15:04:05")
		fmt.Fprintf(&b, "\n%s %-8s %s", dimStyle.Render(ts), e.EventType, e.Description)
	}
	return b.String()
}

func logStyle(level string) lipgloss.Style {
	switch level {
	case "error":
		return errStyle
	case "warning":
		return warnStyle
	default:
		return dimStyle
	}
}

// bar renders pct (0-100) as a horizontal bar of the given width.
func bar(pct float64, width int) string {
	filled := int(math.Round(pct / 100 * float64(width)))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return barStyle.Render(strings.Repeat("█", filled)) + dimStyle.Render(strings.Repeat("░", width-filled))
}

var sparks = []rune(" ▁▂▃▄▅▆▇█")

// sparkline renders one stage's column of the dataset, one rune per sample.
func sparkline(ds engine.Dataset, stageID int) string {
	out := make([]rune, len(ds))
	for i, s := range ds {
		v := s.Stages[stageID]
		idx := int(math.Round(v / 100 * float64(len(sparks)-1)))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparks) {
			idx = len(sparks) - 1
		}
		out[i] = sparks[idx]
	}
	return string(out)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// programRenderer wakes the program after controller state changes.
type programRenderer struct {
	send func(tea.Msg)
}

func (r programRenderer) Render(reason app.Reason) {
	r.send(renderMsg(reason))
}
