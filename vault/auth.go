package vault

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io/fs"

	"github.com/fahmaliyi/ferrisvault/internal/logging"
)

// Authenticator guards the vault with the stored master hash. It keeps the
// hash, never the passphrase.
type Authenticator struct {
	store MasterKeyStore
	log   logging.Logger
	state State
	hash  string
}

// NewAuthenticator reads the master record once. A missing or unreadable
// record leaves the authenticator Uninitialized so the user can set one.
func NewAuthenticator(store MasterKeyStore, log logging.Logger) *Authenticator {
	a := &Authenticator{store: store, log: log, state: Uninitialized}
	rec, err := store.LoadMasterKey()
	switch {
	case err == nil:
		a.hash = rec.Hash
		a.state = Locked
	case errors.Is(err, fs.ErrNotExist):
		log.Debugf("no master key record, first run")
	default:
		log.Warnf("ignoring unreadable master key record: %v", err)
	}
	return a
}

func (a *Authenticator) State() State { return a.state }

func checkLength(passphrase string) error {
	if len(passphrase) < MinPassphraseLen {
		return ErrPassphraseTooShort
	}
	return nil
}

// Set establishes the master passphrase on first run and unlocks.
func (a *Authenticator) Set(passphrase string) (SessionKey, error) {
	if a.state != Uninitialized {
		return nil, ErrAlreadyInitialized
	}
	if err := checkLength(passphrase); err != nil {
		return nil, err
	}
	hash := HashPassphrase(passphrase)
	if err := a.store.SaveMasterKey(MasterKeyRecord{Hash: hash}); err != nil {
		return nil, fmt.Errorf("%w: save master key: %w", ErrPersistence, err)
	}
	a.hash = hash
	a.state = Unlocked
	a.log.Infof("master key set")
	return DeriveKey(passphrase), nil
}

// Attempt verifies passphrase against the stored hash and unlocks on match.
func (a *Authenticator) Attempt(passphrase string) (SessionKey, error) {
	if err := checkLength(passphrase); err != nil {
		return nil, err
	}
	got := HashPassphrase(passphrase)
	// a.hash is empty when there is no record; the compare then fails like
	// any other mismatch.
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.hash)) != 1 || a.state == Uninitialized {
		return nil, ErrInvalidPassphrase
	}
	a.state = Unlocked
	a.log.Infof("vault unlocked")
	return DeriveKey(passphrase), nil
}

// Lock returns an unlocked authenticator to Locked.
func (a *Authenticator) Lock() {
	if a.state == Unlocked {
		a.state = Locked
	}
}
