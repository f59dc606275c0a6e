package cli

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/fahmaliyi/ferrisvault/internal/i18n"
)

type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	Toggle    key.Binding
	Copy      key.Binding
	Delete    key.Binding
	Retry     key.Binding
	Generate  key.Binding
	Longer    key.Binding
	Shorter   key.Binding
	Upper     key.Binding
	Numbers   key.Binding
	Symbols   key.Binding
	Save      key.Binding
	Lock      key.Binding
	Quit      key.Binding
	ForceQuit key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", i18n.T("keys.up"))),
		Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", i18n.T("keys.down"))),
		Toggle:    key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", i18n.T("keys.toggle"))),
		Copy:      key.NewBinding(key.WithKeys("c"), key.WithHelp("c", i18n.T("keys.copy"))),
		Delete:    key.NewBinding(key.WithKeys("d"), key.WithHelp("d", i18n.T("keys.delete"))),
		Retry:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", i18n.T("keys.retry"))),
		Generate:  key.NewBinding(key.WithKeys("g"), key.WithHelp("g", i18n.T("keys.generate"))),
		Longer:    key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+/-", i18n.T("keys.length"))),
		Shorter:   key.NewBinding(key.WithKeys("-", "_")),
		Upper:     key.NewBinding(key.WithKeys("u"), key.WithHelp("u", i18n.T("keys.upper"))),
		Numbers:   key.NewBinding(key.WithKeys("n"), key.WithHelp("n", i18n.T("keys.numbers"))),
		Symbols:   key.NewBinding(key.WithKeys("y"), key.WithHelp("y", i18n.T("keys.symbols"))),
		Save:      key.NewBinding(key.WithKeys("w"), key.WithHelp("w", i18n.T("keys.save"))),
		Lock:      key.NewBinding(key.WithKeys("L"), key.WithHelp("L", i18n.T("keys.lock"))),
		Quit:      key.NewBinding(key.WithKeys("q"), key.WithHelp("q", i18n.T("keys.quit"))),
		ForceQuit: key.NewBinding(key.WithKeys("ctrl+c")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Copy, k.Generate, k.Save, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Toggle, k.Copy},
		{k.Delete, k.Retry, k.Lock, k.Quit},
		{k.Generate, k.Longer, k.Upper, k.Numbers, k.Symbols, k.Save},
	}
}
