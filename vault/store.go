package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"strings"

	"github.com/fahmaliyi/ferrisvault/internal/logging"
)

// EntryStore maps titles to ciphertext blobs. Every change rewrites the
// whole collection through the backend. It is not safe for concurrent use;
// the owning control loop is its only caller.
type EntryStore struct {
	backend EntryBackend
	log     logging.Logger
	entries map[string]string
}

// OpenEntryStore loads the collection. A missing or malformed file gives an
// empty store.
func OpenEntryStore(backend EntryBackend, log logging.Logger) *EntryStore {
	s := &EntryStore{backend: backend, log: log, entries: map[string]string{}}
	loaded, err := backend.LoadEntries()
	switch {
	case err == nil:
		s.entries = loaded
	case errors.Is(err, fs.ErrNotExist):
	default:
		log.Warnf("starting with an empty vault, could not load entries: %v", err)
	}
	return s
}

// NormalizeTitle trims the title the way it is stored.
func NormalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrEmptyTitle
	}
	return title, nil
}

// Put stores ciphertext under title, replacing any previous value. On a
// failed write the store keeps its previous contents.
func (s *EntryStore) Put(title, ciphertext string) error {
	title, err := NormalizeTitle(title)
	if err != nil {
		return err
	}
	prev, existed := s.entries[title]
	s.entries[title] = ciphertext
	if err := s.flush(); err != nil {
		if existed {
			s.entries[title] = prev
		} else {
			delete(s.entries, title)
		}
		return err
	}
	return nil
}

// Delete removes title. Deleting a missing title is ErrNotFound.
func (s *EntryStore) Delete(title string) error {
	title = strings.TrimSpace(title)
	prev, ok := s.entries[title]
	if !ok {
		return ErrNotFound
	}
	delete(s.entries, title)
	if err := s.flush(); err != nil {
		s.entries[title] = prev
		return err
	}
	return nil
}

func (s *EntryStore) Get(title string) (string, bool) {
	ct, ok := s.entries[strings.TrimSpace(title)]
	return ct, ok
}

// GetAll returns a copy of the collection.
func (s *EntryStore) GetAll() map[string]string { return maps.Clone(s.entries) }

// Titles returns the stored titles in sorted order.
func (s *EntryStore) Titles() []string { return slices.Sorted(maps.Keys(s.entries)) }

func (s *EntryStore) Len() int { return len(s.entries) }

func (s *EntryStore) flush() error {
	if err := s.backend.SaveEntries(maps.Clone(s.entries)); err != nil {
		return fmt.Errorf("%w: save entries: %w", ErrPersistence, err)
	}
	return nil
}
