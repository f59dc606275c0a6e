package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fahmaliyi/ferrisvault/internal/config"
	"github.com/fahmaliyi/ferrisvault/internal/i18n"
	"github.com/fahmaliyi/ferrisvault/internal/logging"
	"github.com/fahmaliyi/ferrisvault/vault"
)

type screen int

const (
	screenUnlock screen = iota
	screenMain
)

type model struct {
	vault   *vault.Vault
	session *vault.Session
	sink    *ClipboardSink
	cfg     config.Config
	keys    keyMap
	help    help.Model

	screen screen
	// While busy an unlock command owns the vault; Update must not touch it.
	busy    bool
	setup   bool
	input   textinput.Model
	authErr string

	gen       vault.GeneratorOptions
	password  string
	title     textinput.Model
	titleOpen bool

	titles []string
	cursor int
	shown  map[string]bool
	msg    string
	msgErr bool
}

type unlockedMsg struct {
	session *vault.Session
	err     error
}

type resultsMsg struct{}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
	msgStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("57")).Foreground(lipgloss.Color("0"))
	codeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// RunTUI starts the interactive interface and, once it exits, waits briefly
// for pending saves before locking the vault.
func RunTUI(v *vault.Vault, sink *ClipboardSink, cfg config.Config, log logging.Logger) error {
	p := tea.NewProgram(newModel(v, sink, cfg), tea.WithAltScreen())
	_, runErr := p.Run()

	if s, err := v.Session(); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		events, err := s.Await(ctx)
		cancel()
		if err != nil {
			log.Warnf("some operations did not finish before exit: %v", err)
		}
		for _, ev := range events {
			if ev.Kind == vault.EventSaveFailed {
				log.Errorf("%s", eventText(ev, cfg))
			}
		}
	}
	sink.Flush()
	v.Lock()
	return runErr
}

func newModel(v *vault.Vault, sink *ClipboardSink, cfg config.Config) model {
	in := textinput.New()
	in.EchoMode = textinput.EchoPassword
	in.EchoCharacter = '•'
	in.Placeholder = i18n.T("unlock.placeholder")
	in.Focus()

	title := textinput.New()
	title.Placeholder = i18n.T("save.placeholder")
	title.CharLimit = 128

	return model{
		vault:  v,
		sink:   sink,
		cfg:    cfg,
		keys:   newKeyMap(),
		help:   help.New(),
		screen: screenUnlock,
		setup:  !v.Initialized(),
		input:  in,
		title:  title,
		gen: vault.GeneratorOptions{
			Length:    vault.ClampLength(cfg.Generator.Length),
			Uppercase: cfg.Generator.Uppercase,
			Numbers:   cfg.Generator.Numbers,
			Symbols:   cfg.Generator.Symbols,
		},
		shown: map[string]bool{},
	}
}

func unlockCmd(v *vault.Vault, passphrase string, setup bool) tea.Cmd {
	return func() tea.Msg {
		var (
			s   *vault.Session
			err error
		)
		if setup {
			s, err = v.Setup(passphrase)
		} else {
			s, err = v.Unlock(passphrase)
		}
		return unlockedMsg{session: s, err: err}
	}
}

// listen waits for the next worker result. The ready channel is taken now,
// before the caller drains, so nothing posted afterwards is missed.
func listen(s *vault.Session) tea.Cmd {
	ready := s.Ready()
	return func() tea.Msg {
		select {
		case <-ready:
			return resultsMsg{}
		case <-s.Done():
			return nil
		}
	}
}

// --- Tea Model interface ---
func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil
	case unlockedMsg:
		return m.unlocked(msg)
	case resultsMsg:
		if m.session == nil {
			return m, nil
		}
		cmd := listen(m.session)
		m.apply(m.session.Drain())
		return m, cmd
	}

	switch m.screen {
	case screenUnlock:
		return updateUnlock(m, msg)
	case screenMain:
		if m.titleOpen {
			return updateSaveTitle(m, msg)
		}
		return updateMain(m, msg)
	default:
		return m, nil
	}
}

func (m model) View() string {
	switch m.screen {
	case screenUnlock:
		return viewUnlock(m)
	case screenMain:
		return viewMain(m)
	default:
		return "Unknown state"
	}
}

// --- Unlock ---
func updateUnlock(m model, msg tea.Msg) (model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(km, m.keys.ForceQuit), km.Type == tea.KeyEsc:
			return m, tea.Quit
		case km.Type == tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			pass := m.input.Value()
			m.input.Reset()
			if len(pass) < vault.MinPassphraseLen {
				m.authErr = errText(vault.ErrPassphraseTooShort)
				return m, nil
			}
			m.authErr = ""
			m.busy = true
			return m, unlockCmd(m.vault, pass, m.setup)
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) unlocked(msg unlockedMsg) (model, tea.Cmd) {
	m.busy = false
	if msg.err != nil {
		m.authErr = errText(msg.err)
		m.setup = !m.vault.Initialized()
		return m, nil
	}
	m.session = msg.session
	m.screen = screenMain
	m.setup = false
	m.authErr = ""
	m.input.Blur()
	m.refresh()
	return m, listen(m.session)
}

func viewUnlock(m model) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(i18n.T("unlock.heading")) + "\n\n")
	if m.setup {
		b.WriteString(i18n.T("unlock.set_hint") + "\n\n")
	} else {
		b.WriteString(i18n.T("unlock.enter_hint") + "\n\n")
	}
	b.WriteString(m.input.View() + "\n")
	if m.busy {
		b.WriteString("\n" + dimStyle.Render(i18n.T("unlock.busy")) + "\n")
	}
	if m.authErr != "" {
		b.WriteString("\n" + errStyle.Render(m.authErr) + "\n")
	}
	if m.setup {
		b.WriteString("\n" + dimStyle.Render(i18n.T("unlock.set_button")))
	} else {
		b.WriteString("\n" + dimStyle.Render(i18n.T("unlock.enter_button")))
	}
	return b.String()
}

// --- Main ---
func updateMain(m model, msg tea.Msg) (model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(km, m.keys.Quit), key.Matches(km, m.keys.ForceQuit):
		return m, tea.Quit
	case key.Matches(km, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(km, m.keys.Down):
		if m.cursor < len(m.titles)-1 {
			m.cursor++
		}
	case key.Matches(km, m.keys.Generate):
		pw, err := vault.Generate(m.gen)
		if err != nil {
			m.setMsg(errText(err), true)
			break
		}
		m.password = pw
	case key.Matches(km, m.keys.Longer):
		m.gen.Length = vault.ClampLength(m.gen.Length + 1)
	case key.Matches(km, m.keys.Shorter):
		m.gen.Length = vault.ClampLength(m.gen.Length - 1)
	case key.Matches(km, m.keys.Upper):
		m.gen.Uppercase = !m.gen.Uppercase
	case key.Matches(km, m.keys.Numbers):
		m.gen.Numbers = !m.gen.Numbers
	case key.Matches(km, m.keys.Symbols):
		m.gen.Symbols = !m.gen.Symbols
	case key.Matches(km, m.keys.Save):
		if m.password == "" {
			m.setMsg(i18n.T("save.nothing"), true)
			break
		}
		m.titleOpen = true
		cmd := m.title.Focus()
		return m, cmd
	case key.Matches(km, m.keys.Toggle):
		if t, ok := m.selected(); ok {
			m.shown[t] = !m.shown[t]
			if m.shown[t] {
				m.session.RequestReveal(t)
			}
		}
	case key.Matches(km, m.keys.Copy):
		if t, ok := m.selected(); ok {
			if _, err := m.session.RequestCopy(t); err != nil {
				m.setMsg(errText(err), true)
			}
		}
	case key.Matches(km, m.keys.Retry):
		if t, ok := m.selected(); ok {
			m.session.Retry(t)
			if m.shown[t] {
				m.session.RequestReveal(t)
			}
		}
	case key.Matches(km, m.keys.Delete):
		if t, ok := m.selected(); ok {
			if err := m.session.Delete(t); err != nil {
				m.setMsg(errText(err), true)
				break
			}
			delete(m.shown, t)
			m.refresh()
			m.setMsg(i18n.T("delete.done", t), false)
		}
	case key.Matches(km, m.keys.Lock):
		m.vault.Lock()
		m.session = nil
		m.screen = screenUnlock
		m.password = ""
		m.shown = map[string]bool{}
		m.titles = nil
		m.cursor = 0
		m.msg = ""
		cmd := m.input.Focus()
		return m, cmd
	}
	return m, nil
}

func updateSaveTitle(m model, msg tea.Msg) (model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch km.Type {
		case tea.KeyEsc:
			m.titleOpen = false
			m.title.Blur()
			return m, nil
		case tea.KeyEnter:
			title := m.title.Value()
			if _, err := m.session.RequestSave(title, m.password); err != nil {
				m.setMsg(errText(err), true)
				return m, nil
			}
			m.setMsg(i18n.T("save.pending", strings.TrimSpace(title)), false)
			m.title.Reset()
			m.title.Blur()
			m.titleOpen = false
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.title, cmd = m.title.Update(msg)
	return m, cmd
}

func (m *model) apply(events []vault.Event) {
	for _, ev := range events {
		switch ev.Kind {
		case vault.EventSaved:
			m.shown[ev.Title] = false
			m.refresh()
			m.setMsg(eventText(ev, m.cfg), false)
		case vault.EventCopied:
			m.setMsg(eventText(ev, m.cfg), false)
		case vault.EventSaveFailed, vault.EventCopyFailed:
			m.setMsg(eventText(ev, m.cfg), true)
		}
	}
	// A reveal dropped as stale leaves a shown title with no state; ask again.
	for t, on := range m.shown {
		if on {
			m.session.RequestReveal(t)
		}
	}
}

func (m *model) refresh() {
	m.titles = m.session.Titles()
	if m.cursor >= len(m.titles) {
		m.cursor = max(len(m.titles)-1, 0)
	}
}

func (m model) selected() (string, bool) {
	if m.session == nil || len(m.titles) == 0 {
		return "", false
	}
	return m.titles[m.cursor], true
}

func (m *model) setMsg(s string, isErr bool) {
	m.msg = s
	m.msgErr = isErr
}

func check(on bool) string {
	if on {
		return "[x]"
	}
	return "[ ]"
}

func viewMain(m model) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(i18n.T("main.generator_heading")) + "\n\n")
	fmt.Fprintf(&b, "%s %d   %s %s   %s %s   %s %s\n",
		i18n.T("main.length"), m.gen.Length,
		check(m.gen.Uppercase), i18n.T("main.uppercase"),
		check(m.gen.Numbers), i18n.T("main.numbers"),
		check(m.gen.Symbols), i18n.T("main.symbols"))

	if m.password != "" {
		b.WriteString("\n" + i18n.T("main.generated") + " " + codeStyle.Render(m.password) + "\n")
	}
	if m.titleOpen {
		b.WriteString("\n" + i18n.T("save.prompt") + " " + m.title.View() + "\n")
	}

	if len(m.titles) > 0 {
		b.WriteString("\n" + titleStyle.Render(i18n.T("main.saved_heading")) + "\n\n")
		for i, t := range m.titles {
			line := fmt.Sprintf("%-24s %s", t+":", m.secretText(t))
			if i == m.cursor {
				line = selectedStyle.Render(line)
			}
			b.WriteString(line + "\n")
		}
	} else {
		b.WriteString("\n" + dimStyle.Render(i18n.T("main.empty")) + "\n")
	}

	if m.msg != "" {
		style := msgStyle
		if m.msgErr {
			style = errStyle
		}
		b.WriteString("\n" + style.Render(m.msg) + "\n")
	}
	b.WriteString("\n" + m.help.View(m.keys))
	return b.String()
}

func (m model) secretText(title string) string {
	if !m.shown[title] {
		return "••••••••••"
	}
	pt, state := m.session.Peek(title)
	switch state {
	case vault.RevealReady:
		return codeStyle.Render(pt)
	case vault.RevealFailed:
		return errStyle.Render(i18n.T("reveal.failed"))
	default:
		return dimStyle.Render(i18n.T("reveal.pending"))
	}
}
