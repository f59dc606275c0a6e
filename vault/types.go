package vault

import (
	"errors"
	"fmt"
)

const (
	KeyLen           = 32
	NonceLen         = 12
	TagLen           = 16
	KDFIterations    = 100_000
	KDFSalt          = "ferris-vault-salt"
	MinPassphraseLen = 4

	MasterKeyFile = "master_key.json"
	EntriesFile   = "passwords.json"
)

// Authentication errors. ErrInvalidPassphrase is returned both for a wrong
// guess and for a missing master record.
var (
	ErrPassphraseTooShort = errors.New("vault: passphrase too short")
	ErrInvalidPassphrase  = errors.New("vault: invalid passphrase")
	ErrAlreadyInitialized = errors.New("vault: master key already set")
	ErrLocked             = errors.New("vault: locked")
)

// ErrDecrypt covers every way a blob can fail to open.
var ErrDecrypt = errors.New("vault: decryption failed")

// Store errors.
var (
	ErrPersistence = errors.New("vault: persistence failure")
	ErrNotFound    = errors.New("vault: entry not found")
	ErrEmptyTitle  = errors.New("vault: empty title")
)

// SessionKey is the PBKDF2 output used as the AES-256 key while unlocked.
type SessionKey []byte

func (k SessionKey) String() string { return "[REDACTED]" }

// Format keeps %v, %x and friends from printing key material.
func (k SessionKey) Format(f fmt.State, _ rune) { _, _ = f.Write([]byte("[REDACTED]")) }

// Zero overwrites the key in place.
func (k SessionKey) Zero() { zero(k) }

// MasterKeyRecord is the persisted one-way hash of the master passphrase.
type MasterKeyRecord struct {
	Hash string `json:"hash"`
}

type entriesDocument struct {
	Entries map[string]string `json:"entries"`
}

// State of the master-key authenticator.
type State int

const (
	Uninitialized State = iota
	Locked
	Unlocked
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
