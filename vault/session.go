package vault

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fahmaliyi/ferrisvault/internal/logging"
	"github.com/google/uuid"
)

// resultBuffer is the capacity of each result channel. Workers block on a
// full channel until the owner drains it or the session closes.
const resultBuffer = 64

var ErrNoCopySink = errors.New("vault: no copy sink configured")

// CopySink receives plaintext requested with RequestCopy.
type CopySink interface {
	Copy(text string) error
}

type RevealState int

const (
	RevealNone RevealState = iota
	RevealPending
	RevealReady
	RevealFailed
)

func (r RevealState) String() string {
	switch r {
	case RevealPending:
		return "pending"
	case RevealReady:
		return "ready"
	case RevealFailed:
		return "failed"
	default:
		return "none"
	}
}

type EventKind int

const (
	EventRevealed EventKind = iota
	EventRevealFailed
	EventCopied
	EventCopyFailed
	EventSaved
	EventSaveFailed
)

// Event reports one result applied by Drain. Job is the id returned by the
// request that produced it.
type Event struct {
	Kind  EventKind
	Job   string
	Title string
	Err   error
}

type revealResult struct {
	job       string
	title     string
	blob      string
	plaintext string
	err       error
}

type copyResult struct {
	job       string
	title     string
	plaintext string
	err       error
}

type saveResult struct {
	job        string
	title      string
	ciphertext string
	err        error
}

// Session is an unlocked vault. Decryption and encryption run on worker
// goroutines; their results come back over channels and are applied by
// Drain. Everything except the workers must be called from one goroutine,
// which owns the cache and the pending and failed sets.
type Session struct {
	key    SessionKey
	cipher Cipher
	store  *EntryStore
	sink   CopySink
	log    logging.Logger

	cache   map[string]string
	pending map[string]struct{}
	failed  map[string]struct{}

	reveals chan revealResult
	copies  chan copyResult
	saves   chan saveResult
	done    chan struct{}

	readyMu sync.Mutex
	ready   chan struct{}

	inflight atomic.Int64
	closed   bool
}

type SessionOption func(*Session)

// WithCipher replaces the AES cipher built from the session key.
func WithCipher(c Cipher) SessionOption {
	return func(s *Session) { s.cipher = c }
}

func WithCopySink(sink CopySink) SessionOption {
	return func(s *Session) { s.sink = sink }
}

// NewSession takes ownership of key and zeroes it on Close.
func NewSession(key SessionKey, store *EntryStore, log logging.Logger, opts ...SessionOption) (*Session, error) {
	s := &Session{
		key:     key,
		store:   store,
		log:     log,
		cache:   map[string]string{},
		pending: map[string]struct{}{},
		failed:  map[string]struct{}{},
		reveals: make(chan revealResult, resultBuffer),
		copies:  make(chan copyResult, resultBuffer),
		saves:   make(chan saveResult, resultBuffer),
		done:    make(chan struct{}),
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cipher == nil {
		c, err := NewCipher(key)
		if err != nil {
			return nil, err
		}
		s.cipher = c
	}
	return s, nil
}

// Titles lists the stored entries.
func (s *Session) Titles() []string { return s.store.Titles() }

// Peek reports what is known about title without starting any work.
func (s *Session) Peek(title string) (string, RevealState) {
	title = strings.TrimSpace(title)
	if pt, ok := s.cache[title]; ok {
		return pt, RevealReady
	}
	if _, ok := s.pending[title]; ok {
		return "", RevealPending
	}
	if _, ok := s.failed[title]; ok {
		return "", RevealFailed
	}
	return "", RevealNone
}

// RequestReveal returns the cached plaintext for title, or starts a single
// background decrypt and reports RevealPending. A title whose last decrypt
// failed stays RevealFailed until Retry.
func (s *Session) RequestReveal(title string) (string, RevealState) {
	if s.closed {
		return "", RevealFailed
	}
	title = strings.TrimSpace(title)
	if pt, state := s.Peek(title); state != RevealNone {
		return pt, state
	}
	blob, ok := s.store.Get(title)
	if !ok {
		return "", RevealFailed
	}
	s.pending[title] = struct{}{}
	c := s.cipher
	s.spawn("reveal", title, func(id string) {
		pt, err := c.Open(blob)
		post(s.done, s.reveals, revealResult{job: id, title: title, blob: blob, plaintext: pt, err: err})
	})
	return "", RevealPending
}

// Retry forgets a failed reveal so the next RequestReveal decrypts again.
func (s *Session) Retry(title string) {
	delete(s.failed, strings.TrimSpace(title))
}

// RequestCopy decrypts title in the background, bypassing the cache, and
// hands the plaintext to the copy sink when drained. It returns the job id
// carried by the resulting Event.
func (s *Session) RequestCopy(title string) (string, error) {
	if s.closed {
		return "", ErrLocked
	}
	if s.sink == nil {
		return "", ErrNoCopySink
	}
	title = strings.TrimSpace(title)
	blob, ok := s.store.Get(title)
	if !ok {
		return "", ErrNotFound
	}
	c := s.cipher
	return s.spawn("copy", title, func(id string) {
		pt, err := c.Open(blob)
		post(s.done, s.copies, copyResult{job: id, title: title, plaintext: pt, err: err})
	}), nil
}

// RequestSave encrypts plaintext in the background. The ciphertext is
// written to the store when drained. It returns the job id carried by the
// resulting Event.
func (s *Session) RequestSave(title, plaintext string) (string, error) {
	if s.closed {
		return "", ErrLocked
	}
	title, err := NormalizeTitle(title)
	if err != nil {
		return "", err
	}
	c := s.cipher
	return s.spawn("save", title, func(id string) {
		ct, err := c.Seal(plaintext)
		post(s.done, s.saves, saveResult{job: id, title: title, ciphertext: ct, err: err})
	}), nil
}

// Delete removes title from the store and forgets any session state for it.
func (s *Session) Delete(title string) error {
	if s.closed {
		return ErrLocked
	}
	title = strings.TrimSpace(title)
	if err := s.store.Delete(title); err != nil {
		return err
	}
	delete(s.cache, title)
	delete(s.pending, title)
	delete(s.failed, title)
	return nil
}

// Ready returns a channel that is closed the next time a worker posts a
// result. Take it before calling Drain so no result is missed.
func (s *Session) Ready() <-chan struct{} {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	return s.ready
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.done }

// InFlight is the number of workers that have not yet posted.
func (s *Session) InFlight() int { return int(s.inflight.Load()) }

// Drain applies every queued result without blocking.
func (s *Session) Drain() []Event {
	if s.closed {
		return nil
	}
	var events []Event
	for {
		select {
		case r := <-s.reveals:
			if ev, ok := s.applyReveal(r); ok {
				events = append(events, ev)
			}
		case r := <-s.copies:
			events = append(events, s.applyCopy(r))
		case r := <-s.saves:
			events = append(events, s.applySave(r))
		default:
			return events
		}
	}
}

// Await drains until no worker is left running.
func (s *Session) Await(ctx context.Context) ([]Event, error) {
	var events []Event
	for {
		ready := s.Ready()
		events = append(events, s.Drain()...)
		if s.inflight.Load() == 0 {
			return append(events, s.Drain()...), nil
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return events, ctx.Err()
		}
	}
}

// Close clears the plaintext cache, zeroes the key and drops the cipher
// holding the expanded key schedule. Workers still running discard their
// results.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	clear(s.cache)
	clear(s.pending)
	clear(s.failed)
	s.key.Zero()
	s.cipher = nil
	s.log.Debugf("session closed")
}

func (s *Session) applyReveal(r revealResult) (Event, bool) {
	delete(s.pending, r.title)
	if cur, ok := s.store.Get(r.title); !ok || cur != r.blob {
		s.log.Debugf("dropping stale reveal for %q", r.title)
		return Event{}, false
	}
	if r.err != nil {
		s.failed[r.title] = struct{}{}
		return Event{Kind: EventRevealFailed, Job: r.job, Title: r.title, Err: r.err}, true
	}
	s.cache[r.title] = r.plaintext
	return Event{Kind: EventRevealed, Job: r.job, Title: r.title}, true
}

func (s *Session) applyCopy(r copyResult) Event {
	if r.err != nil {
		return Event{Kind: EventCopyFailed, Job: r.job, Title: r.title, Err: r.err}
	}
	if err := s.sink.Copy(r.plaintext); err != nil {
		return Event{Kind: EventCopyFailed, Job: r.job, Title: r.title, Err: err}
	}
	return Event{Kind: EventCopied, Job: r.job, Title: r.title}
}

func (s *Session) applySave(r saveResult) Event {
	if r.err != nil {
		return Event{Kind: EventSaveFailed, Job: r.job, Title: r.title, Err: r.err}
	}
	if err := s.store.Put(r.title, r.ciphertext); err != nil {
		s.log.Warnf("saving %q: %v", r.title, err)
		return Event{Kind: EventSaveFailed, Job: r.job, Title: r.title, Err: err}
	}
	delete(s.cache, r.title)
	delete(s.failed, r.title)
	return Event{Kind: EventSaved, Job: r.job, Title: r.title}
}

// spawn runs job on a new goroutine under a fresh id and returns the id.
// Jobs take the cipher as an argument captured by the caller; they never
// read Session fields the owner may change.
func (s *Session) spawn(kind, title string, job func(id string)) string {
	s.inflight.Add(1)
	id := uuid.NewString()
	s.log.Debugf("%s job %s started for %q", kind, id, title)
	go func() {
		defer func() {
			s.inflight.Add(-1)
			s.signal()
			s.log.Debugf("%s job %s finished", kind, id)
		}()
		job(id)
	}()
	return id
}

func (s *Session) signal() {
	s.readyMu.Lock()
	close(s.ready)
	s.ready = make(chan struct{})
	s.readyMu.Unlock()
}

func post[T any](done <-chan struct{}, ch chan<- T, v T) {
	select {
	case ch <- v:
	case <-done:
	}
}
