package vault

import (
	"context"
	"time"

	"github.com/fahmaliyi/ferrisvault/internal/logging"
)

// lockTimeout bounds how long Lock waits for queued saves.
const lockTimeout = 5 * time.Second

// Vault ties the authenticator, the entry store and the live session
// together. Like Session it belongs to a single control goroutine.
type Vault struct {
	auth    *Authenticator
	entries *EntryStore
	log     logging.Logger
	opts    []SessionOption
	session *Session
}

// New opens a vault over backend. opts are applied to every session the
// vault creates.
func New(backend Backend, log logging.Logger, opts ...SessionOption) *Vault {
	return &Vault{
		auth:    NewAuthenticator(backend, log),
		entries: OpenEntryStore(backend, log),
		log:     log,
		opts:    opts,
	}
}

// Open is New over the JSON files in dir.
func Open(dir string, log logging.Logger, opts ...SessionOption) (*Vault, error) {
	backend, err := NewFileBackend(dir)
	if err != nil {
		return nil, err
	}
	return New(backend, log, opts...), nil
}

func (v *Vault) State() State { return v.auth.State() }

// Initialized reports whether a master passphrase has been set.
func (v *Vault) Initialized() bool { return v.auth.State() != Uninitialized }

// Setup sets the master passphrase on first run and starts a session.
func (v *Vault) Setup(passphrase string) (*Session, error) {
	key, err := v.auth.Set(passphrase)
	if err != nil {
		return nil, err
	}
	return v.start(key)
}

// Unlock checks passphrase and starts a session. On an unlocked vault the
// passphrase is still checked and the live session is returned.
func (v *Vault) Unlock(passphrase string) (*Session, error) {
	key, err := v.auth.Attempt(passphrase)
	if err != nil {
		return nil, err
	}
	if v.session != nil {
		key.Zero()
		return v.session, nil
	}
	return v.start(key)
}

func (v *Vault) start(key SessionKey) (*Session, error) {
	s, err := NewSession(key, v.entries, v.log, v.opts...)
	if err != nil {
		key.Zero()
		v.auth.Lock()
		return nil, err
	}
	v.session = s
	return s, nil
}

// Session returns the live session, or ErrLocked.
func (v *Vault) Session() (*Session, error) {
	if v.session == nil {
		return nil, ErrLocked
	}
	return v.session, nil
}

// Lock waits up to lockTimeout for outstanding jobs so queued saves reach
// the store, then closes the session and forgets the key.
func (v *Vault) Lock() {
	if v.session != nil {
		ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
		events, err := v.session.Await(ctx)
		cancel()
		if err != nil {
			v.log.Warnf("locking with jobs still running: %v", err)
		}
		for _, ev := range events {
			if ev.Kind == EventSaveFailed {
				v.log.Warnf("save of %q failed before lock: %v", ev.Title, ev.Err)
			}
		}
		v.session.Close()
		v.session = nil
	}
	v.auth.Lock()
}

// Len is the number of stored entries. Titles are not secret, so this does
// not require an unlocked vault.
func (v *Vault) Len() int { return v.entries.Len() }
