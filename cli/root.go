package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fahmaliyi/ferrisvault/internal/config"
	"github.com/fahmaliyi/ferrisvault/internal/i18n"
	"github.com/fahmaliyi/ferrisvault/internal/logging"
	"github.com/fahmaliyi/ferrisvault/vault"
	"github.com/spf13/cobra"
)

// app carries what PersistentPreRunE resolved to the subcommands.
type app struct {
	cfg     config.Config
	log     logging.Logger
	newSink func(time.Duration) *ClipboardSink
}

// NewRootCmd builds the ferrisvault command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{newSink: NewClipboardSink})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:               "ferrisvault",
		Short:             "A local password vault with a terminal interface",
		Long:              "Ferris Vault keeps generated passwords encrypted with a key derived from a single master passphrase.",
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		RunE:              a.runTUI,
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default: user config dir, /etc/ferrisvault, or ./ferrisvault.yaml)")
	pf.String("dir", "", "directory holding the vault files")
	pf.String("lang", "", "interface language (en, es)")
	pf.BoolP("verbose", "v", false, "enable verbose output")
	pf.Bool("debug", false, "enable debug output")

	root.AddCommand(
		&cobra.Command{
			Use:   "tui",
			Short: "Open the interactive interface",
			Args:  cobra.NoArgs,
			RunE:  a.runTUI,
		},
		&cobra.Command{
			Use:   "repl",
			Short: "Run the line oriented command loop",
			Args:  cobra.NoArgs,
			RunE:  a.runREPL,
		},
		withGeneratorFlags(&cobra.Command{
			Use:   "generate",
			Short: "Print a random password without touching the vault",
			Args:  cobra.NoArgs,
			RunE:  a.runGenerate,
		}),
		&cobra.Command{
			Use:   "list",
			Short: "List stored titles",
			Args:  cobra.NoArgs,
			RunE:  a.runList,
		},
		&cobra.Command{
			Use:   "show TITLE",
			Short: "Decrypt and print one password",
			Args:  cobra.ExactArgs(1),
			RunE:  a.runShow,
		},
		&cobra.Command{
			Use:   "copy TITLE",
			Short: "Decrypt one password into the clipboard",
			Args:  cobra.ExactArgs(1),
			RunE:  a.runCopy,
		},
		withGeneratorFlags(&cobra.Command{
			Use:   "save TITLE",
			Short: "Generate a password and store it under TITLE",
			Args:  cobra.ExactArgs(1),
			RunE:  a.runSave,
		}),
		&cobra.Command{
			Use:   "delete TITLE",
			Short: "Remove a stored password",
			Args:  cobra.ExactArgs(1),
			RunE:  a.runDelete,
		},
		newConfigCmd(a),
	)
	return root
}

func withGeneratorFlags(cmd *cobra.Command) *cobra.Command {
	f := cmd.Flags()
	f.IntP("length", "l", vault.DefaultPasswordLen, fmt.Sprintf("password length (%d-%d)", vault.MinPasswordLen, vault.MaxPasswordLen))
	f.Bool("no-upper", false, "leave out uppercase letters")
	f.Bool("no-numbers", false, "leave out digits")
	f.Bool("no-symbols", false, "leave out symbols")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to a yaml file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			system, _ := cmd.Flags().GetBool("system")
			path, err := config.WriteConfigFile(a.cfg, system)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("cli.config_written", path))
			return nil
		},
	}
	initCmd.Flags().Bool("system", false, "write the system-wide file instead of the user one")
	cmd.AddCommand(initCmd)
	return cmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cmd.Flags(), configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.Logger{
		Verbose: cfg.Verbose,
		Debug:   cfg.Debug,
		Out:     cmd.OutOrStdout(),
		Err:     cmd.ErrOrStderr(),
	}
	if err := i18n.Init(cfg.Lang); err != nil {
		a.log.Warnf("loading translations: %v", err)
	}
	a.log.Debugf("config loaded: dir=%s lang=%s clipboard_clear=%s", cfg.Dir, cfg.Lang, cfg.ClipboardClear)
	return nil
}

func (a *app) openVault(log logging.Logger, opts ...vault.SessionOption) (*vault.Vault, error) {
	v, err := vault.Open(a.cfg.Dir, log, opts...)
	if err != nil {
		return nil, fmt.Errorf("open vault in %s: %w", a.cfg.Dir, err)
	}
	log.Infof("vault directory: %s (%d entries)", a.cfg.Dir, v.Len())
	return v, nil
}

// session opens the vault and unlocks it with a passphrase read from p.
func (a *app) session(p *Prompter, opts ...vault.SessionOption) (*vault.Vault, *vault.Session, error) {
	v, err := a.openVault(a.log, opts...)
	if err != nil {
		return nil, nil, err
	}
	s, err := unlockVault(v, p, a.log)
	if err != nil {
		return nil, nil, cliError(err)
	}
	return v, s, nil
}

func (a *app) generatorOptions() vault.GeneratorOptions {
	return vault.GeneratorOptions{
		Length:    vault.ClampLength(a.cfg.Generator.Length),
		Uppercase: a.cfg.Generator.Uppercase,
		Numbers:   a.cfg.Generator.Numbers,
		Symbols:   a.cfg.Generator.Symbols,
	}
}

func (a *app) runTUI(_ *cobra.Command, _ []string) error {
	log := a.log
	if !log.Debug {
		log = log.Discard()
	}
	sink := a.newSink(a.cfg.ClipboardClear)
	v, err := a.openVault(log, vault.WithCopySink(sink))
	if err != nil {
		return err
	}
	return RunTUI(v, sink, a.cfg, a.log)
}

func (a *app) runREPL(cmd *cobra.Command, _ []string) error {
	sink := a.newSink(a.cfg.ClipboardClear)
	p := prompter(cmd)
	v, s, err := a.session(p, vault.WithCopySink(sink))
	if err != nil {
		return err
	}
	defer v.Lock()
	defer sink.Flush()
	return RunCommands(s, p, a.cfg)
}

func (a *app) runGenerate(cmd *cobra.Command, _ []string) error {
	pw, err := vault.Generate(a.generatorOptions())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), pw)
	return nil
}

func (a *app) runList(cmd *cobra.Command, _ []string) error {
	v, s, err := a.session(prompter(cmd))
	if err != nil {
		return err
	}
	defer v.Lock()
	titles := s.Titles()
	if len(titles) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), i18n.T("main.empty"))
	}
	for _, t := range titles {
		fmt.Fprintln(cmd.OutOrStdout(), t)
	}
	return nil
}

func (a *app) runShow(cmd *cobra.Command, args []string) error {
	v, s, err := a.session(prompter(cmd))
	if err != nil {
		return err
	}
	defer v.Lock()

	title := args[0]
	if _, state := s.RequestReveal(title); state == vault.RevealFailed {
		return cliError(vault.ErrNotFound)
	}
	events, err := a.await(contextOf(cmd), s)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.Kind == vault.EventRevealFailed {
			return cliError(ev.Err)
		}
	}
	pt, state := s.Peek(title)
	if state != vault.RevealReady {
		return cliError(vault.ErrDecrypt)
	}
	fmt.Fprintln(cmd.OutOrStdout(), pt)
	return nil
}

func (a *app) runCopy(cmd *cobra.Command, args []string) error {
	sink := a.newSink(a.cfg.ClipboardClear)
	v, s, err := a.session(prompter(cmd), vault.WithCopySink(sink))
	if err != nil {
		return err
	}
	defer v.Lock()

	if _, err := s.RequestCopy(args[0]); err != nil {
		return cliError(err)
	}
	events, err := a.await(contextOf(cmd), s)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.Kind == vault.EventCopyFailed {
			return cliError(ev.Err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), eventText(ev, a.cfg))
	}

	// The clear timer dies with the process, so stay around for it.
	if a.cfg.ClipboardClear > 0 {
		ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt)
		defer stop()
		select {
		case <-time.After(a.cfg.ClipboardClear):
		case <-ctx.Done():
		}
	}
	sink.Flush()
	return nil
}

func (a *app) runSave(cmd *cobra.Command, args []string) error {
	v, s, err := a.session(prompter(cmd))
	if err != nil {
		return err
	}
	defer v.Lock()

	pw, err := vault.Generate(a.generatorOptions())
	if err != nil {
		return err
	}
	job, err := s.RequestSave(args[0], pw)
	if err != nil {
		return cliError(err)
	}
	events, err := a.await(contextOf(cmd), s)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.Job != job {
			continue
		}
		if ev.Kind == vault.EventSaveFailed {
			return cliError(ev.Err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), eventText(ev, a.cfg))
	}
	fmt.Fprintln(cmd.OutOrStdout(), pw)
	return nil
}

func (a *app) runDelete(cmd *cobra.Command, args []string) error {
	v, s, err := a.session(prompter(cmd))
	if err != nil {
		return err
	}
	defer v.Lock()

	if err := s.Delete(args[0]); err != nil {
		return cliError(err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), i18n.T("delete.done", args[0]))
	return nil
}

// await waits for the session's background work behind a spinner.
func (a *app) await(ctx context.Context, s *vault.Session) ([]vault.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, awaitTimeout)
	defer cancel()
	return withSpinner(a.log, i18n.T("reveal.pending"), func() ([]vault.Event, error) {
		return s.Await(ctx)
	})
}

func prompter(cmd *cobra.Command) *Prompter {
	return NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// cliError localizes err and keeps it matchable with errors.Is.
func cliError(err error) error {
	if err == nil {
		return nil
	}
	var de *displayError
	if errors.As(err, &de) {
		return err
	}
	return &displayError{msg: errText(err), err: err}
}

type displayError struct {
	msg string
	err error
}

func (e *displayError) Error() string { return e.msg }
func (e *displayError) Unwrap() error { return e.err }
