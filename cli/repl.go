package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fahmaliyi/ferrisvault/internal/config"
	"github.com/fahmaliyi/ferrisvault/internal/i18n"
	"github.com/fahmaliyi/ferrisvault/vault"
)

// awaitTimeout bounds how long w and q wait for background work.
const awaitTimeout = 30 * time.Second

type repl struct {
	s        *vault.Session
	p        *Prompter
	out      io.Writer
	cfg      config.Config
	gen      vault.GeneratorOptions
	password string
	idMap    map[int]string
}

// RunCommands is a line oriented front end over an unlocked session.
// Results of background work are printed before every prompt.
func RunCommands(s *vault.Session, p *Prompter, cfg config.Config) error {
	r := &repl{
		s:   s,
		p:   p,
		out: p.out,
		cfg: cfg,
		gen: vault.GeneratorOptions{
			Length:    vault.ClampLength(cfg.Generator.Length),
			Uppercase: cfg.Generator.Uppercase,
			Numbers:   cfg.Generator.Numbers,
			Symbols:   cfg.Generator.Symbols,
		},
	}

	for {
		r.print(r.s.Drain())
		fmt.Fprintln(r.out, "\n"+i18n.T("repl.commands"))
		line, err := r.p.ReadLine("> ")
		if errors.Is(err, io.EOF) {
			return r.quit()
		}
		if err != nil {
			return err
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "g":
			r.handleGenerate()
		case "s":
			r.handleSave(strings.Join(args, " "))
		case "l":
			r.handleList()
		case "w":
			r.wait()
		case "v", "c", "d", "r":
			title, ok := r.lookup(args)
			if !ok {
				continue
			}
			switch cmd {
			case "v":
				r.handleReveal(title)
			case "c":
				r.handleCopy(title)
			case "d":
				r.handleDelete(title)
			case "r":
				r.s.Retry(title)
				r.handleReveal(title)
			}
		case "q":
			return r.quit()
		default:
			fmt.Fprintln(r.out, i18n.T("repl.unknown"))
		}
	}
}

func (r *repl) lookup(args []string) (string, bool) {
	if len(args) < 1 {
		fmt.Fprintln(r.out, i18n.T("repl.need_number"))
		return "", false
	}
	num, err := strconv.Atoi(args[0])
	title, ok := r.idMap[num]
	if err != nil || !ok {
		fmt.Fprintln(r.out, i18n.T("repl.bad_number"))
		return "", false
	}
	return title, true
}

// --- Individual command handlers ---

func (r *repl) handleGenerate() {
	pw, err := vault.Generate(r.gen)
	if err != nil {
		fmt.Fprintln(r.out, errText(err))
		return
	}
	r.password = pw
	fmt.Fprintln(r.out, i18n.T("main.generated"), pw)
}

func (r *repl) handleSave(title string) {
	if r.password == "" {
		fmt.Fprintln(r.out, i18n.T("save.nothing"))
		return
	}
	if _, err := r.s.RequestSave(title, r.password); err != nil {
		fmt.Fprintln(r.out, errText(err))
		return
	}
	r.idMap = nil
	fmt.Fprintln(r.out, i18n.T("save.pending", strings.TrimSpace(title)))
}

func (r *repl) handleList() {
	titles := r.s.Titles()
	if len(titles) == 0 {
		fmt.Fprintln(r.out, i18n.T("main.empty"))
	}
	r.idMap = make(map[int]string, len(titles))
	for i, t := range titles {
		num := i + 1
		r.idMap[num] = t
		fmt.Fprintf(r.out, "%d) %s\n", num, t)
	}
}

func (r *repl) handleReveal(title string) {
	pt, state := r.s.RequestReveal(title)
	switch state {
	case vault.RevealReady:
		fmt.Fprintf(r.out, "%s: %s\n", title, pt)
	case vault.RevealPending:
		fmt.Fprintf(r.out, "%s: %s\n", title, i18n.T("reveal.pending"))
	default:
		fmt.Fprintf(r.out, "%s: %s\n", title, i18n.T("reveal.failed"))
	}
}

func (r *repl) handleCopy(title string) {
	if _, err := r.s.RequestCopy(title); err != nil {
		fmt.Fprintln(r.out, errText(err))
	}
}

func (r *repl) handleDelete(title string) {
	if err := r.s.Delete(title); err != nil {
		fmt.Fprintln(r.out, errText(err))
		return
	}
	r.idMap = nil
	fmt.Fprintln(r.out, i18n.T("delete.done", title))
}

func (r *repl) wait() {
	ctx, cancel := context.WithTimeout(context.Background(), awaitTimeout)
	defer cancel()
	events, err := r.s.Await(ctx)
	r.print(events)
	if err != nil {
		fmt.Fprintln(r.out, i18n.T("repl.timeout"))
	}
}

func (r *repl) quit() error {
	r.wait()
	fmt.Fprintln(r.out, i18n.T("repl.bye"))
	return nil
}

func (r *repl) print(events []vault.Event) {
	for _, ev := range events {
		if ev.Kind == vault.EventRevealed {
			pt, _ := r.s.Peek(ev.Title)
			fmt.Fprintf(r.out, "%s: %s\n", ev.Title, pt)
			continue
		}
		fmt.Fprintln(r.out, eventText(ev, r.cfg))
	}
}
