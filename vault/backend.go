package vault

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

// EntryBackend loads and saves the whole entry collection at once.
type EntryBackend interface {
	LoadEntries() (map[string]string, error)
	SaveEntries(entries map[string]string) error
}

// MasterKeyStore persists the master key record. LoadMasterKey returns an
// error wrapping fs.ErrNotExist when no record has been written yet.
type MasterKeyStore interface {
	LoadMasterKey() (MasterKeyRecord, error)
	SaveMasterKey(rec MasterKeyRecord) error
}

// Backend is both stores, which is what a vault directory provides.
type Backend interface {
	EntryBackend
	MasterKeyStore
}

// FileBackend keeps master_key.json and passwords.json in Dir.
type FileBackend struct {
	Dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	return &FileBackend{Dir: dir}, nil
}

func (b *FileBackend) masterPath() string  { return filepath.Join(b.Dir, MasterKeyFile) }
func (b *FileBackend) entriesPath() string { return filepath.Join(b.Dir, EntriesFile) }

func (b *FileBackend) LoadMasterKey() (MasterKeyRecord, error) {
	var rec MasterKeyRecord
	data, err := os.ReadFile(b.masterPath())
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("parse %s: %w", MasterKeyFile, err)
	}
	if rec.Hash == "" {
		return rec, fmt.Errorf("parse %s: empty hash", MasterKeyFile)
	}
	return rec, nil
}

func (b *FileBackend) SaveMasterKey(rec MasterKeyRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(b.masterPath(), data, 0600)
}

func (b *FileBackend) LoadEntries() (map[string]string, error) {
	data, err := os.ReadFile(b.entriesPath())
	if err != nil {
		return nil, err
	}
	var doc entriesDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", EntriesFile, err)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]string{}
	}
	return doc.Entries, nil
}

func (b *FileBackend) SaveEntries(entries map[string]string) error {
	if entries == nil {
		entries = map[string]string{}
	}
	data, err := json.MarshalIndent(entriesDocument{Entries: entries}, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(b.entriesPath(), data, 0600)
}

// MemoryBackend is an in-process Backend. Setting SaveErr makes every save
// fail with that error.
type MemoryBackend struct {
	mu      sync.Mutex
	master  *MasterKeyRecord
	entries map[string]string
	saves   int
	SaveErr error
}

func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

func (m *MemoryBackend) LoadMasterKey() (MasterKeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.master == nil {
		return MasterKeyRecord{}, fs.ErrNotExist
	}
	return *m.master, nil
}

func (m *MemoryBackend) SaveMasterKey(rec MasterKeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.master = &rec
	return nil
}

func (m *MemoryBackend) LoadEntries() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		return nil, fs.ErrNotExist
	}
	return maps.Clone(m.entries), nil
}

func (m *MemoryBackend) SaveEntries(entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.entries = maps.Clone(entries)
	if m.entries == nil {
		m.entries = map[string]string{}
	}
	m.saves++
	return nil
}

// Saves reports how many successful entry rewrites happened.
func (m *MemoryBackend) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
