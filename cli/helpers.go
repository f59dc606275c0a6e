package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/briandowns/spinner"
	"github.com/fahmaliyi/ferrisvault/internal/config"
	"github.com/fahmaliyi/ferrisvault/internal/i18n"
	"github.com/fahmaliyi/ferrisvault/internal/logging"
	"github.com/fahmaliyi/ferrisvault/vault"
	"golang.org/x/term"
)

var errInterrupted = errors.New("interrupted")

// Prompter reads lines and passphrases. Passphrases are masked when the
// input is a terminal and read as plain lines otherwise.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool
}

func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
		p.tty = true
	}
	return p
}

// ReadLine returns the next input line without its line ending. io.EOF is
// returned only when nothing was read.
func (p *Prompter) ReadLine(prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(p.out, prompt)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *Prompter) ReadPassword(prompt string) (string, error) {
	if !p.tty {
		line, err := p.ReadLine(prompt)
		if prompt != "" {
			fmt.Fprintln(p.out)
		}
		return line, err
	}
	fmt.Fprint(p.out, prompt)
	state, err := term.MakeRaw(p.fd)
	if err != nil {
		return "", err
	}
	defer term.Restore(p.fd, state)

	var input []rune
	for {
		var buf [utf8.UTFMax]byte
		n, err := p.in.Read(buf[:1])
		if err != nil {
			return "", err
		}
		for n < utf8.UTFMax && !utf8.FullRune(buf[:n]) {
			m, err := p.in.Read(buf[n : n+1])
			if err != nil {
				return "", err
			}
			n += m
		}

		switch buf[0] {
		case '\r', '\n':
			fmt.Fprint(p.out, "\r\n")
			return string(input), nil
		case 3: // ctrl+c
			fmt.Fprint(p.out, "\r\n")
			return "", errInterrupted
		case 127, 8:
			if len(input) > 0 {
				input = input[:len(input)-1]
				fmt.Fprint(p.out, "\b \b")
			}
		default:
			r, _ := utf8.DecodeRune(buf[:n])
			input = append(input, r)
			fmt.Fprint(p.out, "*")
		}
	}
}

// unlockVault asks for the master passphrase, or for a new one twice on
// first run, and opens a session.
func unlockVault(v *vault.Vault, p *Prompter, log logging.Logger) (*vault.Session, error) {
	if !v.Initialized() {
		fmt.Fprintln(p.out, i18n.T("cli.first_run"))
		pass, err := p.ReadPassword(i18n.T("cli.new_passphrase"))
		if err != nil {
			return nil, err
		}
		confirm, err := p.ReadPassword(i18n.T("cli.confirm_passphrase"))
		if err != nil {
			return nil, err
		}
		if pass != confirm {
			return nil, errors.New(i18n.T("cli.mismatch"))
		}
		return withSpinner(log, i18n.T("cli.deriving"), func() (*vault.Session, error) {
			return v.Setup(pass)
		})
	}
	pass, err := p.ReadPassword(i18n.T("cli.passphrase"))
	if err != nil {
		return nil, err
	}
	return withSpinner(log, i18n.T("cli.deriving"), func() (*vault.Session, error) {
		return v.Unlock(pass)
	})
}

func withSpinner[T any](log logging.Logger, message string, fn func() (T, error)) (T, error) {
	log.Debugf("starting spinner: %s", message)
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	if err := s.Color("cyan"); err != nil {
		log.Warnf("failed to set spinner color: %v", err)
	}
	if !log.Verbose && !log.Debug {
		s.Start()
		defer s.Stop()
	}
	return fn()
}

// errText renders err for a person reading the terminal.
func errText(err error) string {
	switch {
	case errors.Is(err, vault.ErrPassphraseTooShort):
		return i18n.T("error.too_short", vault.MinPassphraseLen)
	case errors.Is(err, vault.ErrInvalidPassphrase):
		return i18n.T("error.invalid_passphrase")
	case errors.Is(err, vault.ErrAlreadyInitialized):
		return i18n.T("error.already_initialized")
	case errors.Is(err, vault.ErrLocked):
		return i18n.T("error.locked")
	case errors.Is(err, vault.ErrDecrypt):
		return i18n.T("error.decrypt")
	case errors.Is(err, vault.ErrPersistence):
		return i18n.T("error.persistence", err)
	case errors.Is(err, vault.ErrNotFound):
		return i18n.T("error.not_found")
	case errors.Is(err, vault.ErrEmptyTitle):
		return i18n.T("error.empty_title")
	case errors.Is(err, vault.ErrNoCopySink):
		return i18n.T("error.no_clipboard")
	default:
		return err.Error()
	}
}

func eventText(ev vault.Event, cfg config.Config) string {
	switch ev.Kind {
	case vault.EventSaved:
		return i18n.T("event.saved", ev.Title)
	case vault.EventSaveFailed:
		return i18n.T("event.save_failed", ev.Title, errText(ev.Err))
	case vault.EventCopied:
		if cfg.ClipboardClear > 0 {
			return i18n.T("event.copied_clears", ev.Title, cfg.ClipboardClear)
		}
		return i18n.T("event.copied", ev.Title)
	case vault.EventCopyFailed:
		return i18n.T("event.copy_failed", ev.Title, errText(ev.Err))
	case vault.EventRevealFailed:
		return i18n.T("event.reveal_failed", ev.Title)
	default:
		return i18n.T("event.revealed", ev.Title)
	}
}
