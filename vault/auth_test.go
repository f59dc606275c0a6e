package vault

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fahmaliyi/ferrisvault/internal/logging"
)

func TestAuthenticatorFlow(t *testing.T) {
	backend := NewMemoryBackend()
	a := NewAuthenticator(backend, logging.Logger{})
	if a.State() != Uninitialized {
		t.Fatalf("expected uninitialized, got %s", a.State())
	}

	key, err := a.Set("masterpass123")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if a.State() != Unlocked {
		t.Fatalf("expected unlocked after set, got %s", a.State())
	}
	if !bytes.Equal(key, DeriveKey("masterpass123")) {
		t.Fatal("set returned an unexpected session key")
	}
	rec, err := backend.LoadMasterKey()
	if err != nil || rec.Hash != HashPassphrase("masterpass123") {
		t.Fatalf("master record not persisted: %+v %v", rec, err)
	}

	// A new process sees the record and starts locked.
	a = NewAuthenticator(backend, logging.Logger{})
	if a.State() != Locked {
		t.Fatalf("expected locked, got %s", a.State())
	}
	if _, err := a.Attempt("wrongpass"); !errors.Is(err, ErrInvalidPassphrase) {
		t.Fatalf("expected ErrInvalidPassphrase, got %v", err)
	}
	if a.State() != Locked {
		t.Fatal("failed attempt must not unlock")
	}
	if _, err := a.Attempt("masterpass123"); err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if a.State() != Unlocked {
		t.Fatalf("expected unlocked, got %s", a.State())
	}
	a.Lock()
	if a.State() != Locked {
		t.Fatalf("expected locked after Lock, got %s", a.State())
	}
}

func TestAuthenticatorShortPassphrase(t *testing.T) {
	a := NewAuthenticator(NewMemoryBackend(), logging.Logger{})
	if _, err := a.Set("abc"); !errors.Is(err, ErrPassphraseTooShort) {
		t.Fatalf("expected ErrPassphraseTooShort, got %v", err)
	}
	if a.State() != Uninitialized {
		t.Fatal("rejected set must not initialize")
	}
	if _, err := a.Set("abcd"); err != nil {
		t.Fatalf("four characters must be accepted: %v", err)
	}
	a.Lock()
	if _, err := a.Attempt("abc"); !errors.Is(err, ErrPassphraseTooShort) {
		t.Fatalf("expected ErrPassphraseTooShort, got %v", err)
	}
}

func TestAuthenticatorNoRecordLooksLikeWrongGuess(t *testing.T) {
	a := NewAuthenticator(NewMemoryBackend(), logging.Logger{})
	if _, err := a.Attempt("masterpass123"); !errors.Is(err, ErrInvalidPassphrase) {
		t.Fatalf("expected ErrInvalidPassphrase, got %v", err)
	}
	if a.State() != Uninitialized {
		t.Fatalf("unexpected state %s", a.State())
	}
}

func TestAuthenticatorSetTwice(t *testing.T) {
	a := NewAuthenticator(NewMemoryBackend(), logging.Logger{})
	if _, err := a.Set("masterpass123"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := a.Set("otherpass"); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestAuthenticatorPersistFailure(t *testing.T) {
	backend := NewMemoryBackend()
	backend.SaveErr = errors.New("disk full")
	a := NewAuthenticator(backend, logging.Logger{})
	if _, err := a.Set("masterpass123"); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if a.State() != Uninitialized {
		t.Fatalf("expected uninitialized after failed save, got %s", a.State())
	}
}
