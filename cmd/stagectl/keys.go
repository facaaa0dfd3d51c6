package main

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Down      key.Binding
	Up        key.Binding
	FineDown  key.Binding
	FineUp    key.Binding
	On        key.Binding
	Off       key.Binding
	Stage     key.Binding
	Curve     key.Binding
	NextLight key.Binding
	EditDown  key.Binding
	EditUp    key.Binding
	Apply     key.Binding
	Cancel    key.Binding
	History   key.Binding
	Reset     key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Down, k.Up, k.On, k.Off, k.Curve, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Down, k.Up, k.FineDown, k.FineUp, k.On, k.Off},
		{k.Stage, k.Curve, k.History, k.Reset},
		{k.NextLight, k.EditDown, k.EditUp, k.Apply, k.Cancel},
		{k.Help, k.Quit},
	}
}

var keys = keyMap{
	Down: key.NewBinding(
		key.WithKeys("left", "h"),
		key.WithHelp("←/h", "dim 5%"),
	),
	Up: key.NewBinding(
		key.WithKeys("right", "l"),
		key.WithHelp("→/l", "brighten 5%"),
	),
	FineDown: key.NewBinding(
		key.WithKeys(","),
		key.WithHelp(",", "dim 1%"),
	),
	FineUp: key.NewBinding(
		key.WithKeys("."),
		key.WithHelp(".", "brighten 1%"),
	),
	On: key.NewBinding(
		key.WithKeys("o"),
		key.WithHelp("o", "on"),
	),
	Off: key.NewBinding(
		key.WithKeys("x"),
		key.WithHelp("x", "off"),
	),
	Stage: key.NewBinding(
		key.WithKeys("1", "2", "3", "4"),
		key.WithHelp("1-4", "pick stage"),
	),
	Curve: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "next curve"),
	),
	NextLight: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "select light"),
	),
	EditDown: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "light -5%"),
	),
	EditUp: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "light +5%"),
	),
	Apply: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "set light"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "deselect"),
	),
	History: key.NewBinding(
		key.WithKeys("H"),
		key.WithHelp("H", "history"),
	),
	Reset: key.NewBinding(
		key.WithKeys("R"),
		key.WithHelp("R", "reset"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q/ctrl+c", "quit"),
	),
}
