package vault

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// countingCipher wraps a real cipher, counts Open calls and can hold them
// until gate is closed.
type countingCipher struct {
	inner Cipher
	gate  chan struct{}
	opens atomic.Int32
	seals atomic.Int32
}

func (c *countingCipher) Seal(pt string) (string, error) {
	c.seals.Add(1)
	return c.inner.Seal(pt)
}

func (c *countingCipher) Open(blob string) (string, error) {
	c.opens.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.inner.Open(blob)
}

type recordingSink struct {
	mu     sync.Mutex
	copied []string
	err    error
}

func (r *recordingSink) Copy(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.copied = append(r.copied, text)
	return nil
}

const testPassphrase = "masterpass123"

var (
	testKeyOnce sync.Once
	testKey     SessionKey
)

func sessionKey() SessionKey {
	testKeyOnce.Do(func() { testKey = DeriveKey(testPassphrase) })
	return append(SessionKey(nil), testKey...)
}

func newTestSession(t *testing.T, entries map[string]string, opts ...SessionOption) (*Session, *EntryStore, *countingCipher) {
	t.Helper()
	key := sessionKey()
	base := mustCipher(key)
	store := OpenEntryStore(NewMemoryBackend(), quiet())
	for title, pt := range entries {
		blob, err := base.Seal(pt)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		if err := store.Put(title, blob); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	cc := &countingCipher{inner: base}
	s, err := NewSession(key, store, quiet(), append([]SessionOption{WithCipher(cc)}, opts...)...)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(s.Close)
	return s, store, cc
}

func await(t *testing.T, s *Session) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events, err := s.Await(ctx)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	return events
}

func TestRevealPendingDedup(t *testing.T) {
	s, _, cc := newTestSession(t, map[string]string{"github": "S3cr3t!"})
	cc.gate = make(chan struct{})

	if _, state := s.RequestReveal("github"); state != RevealPending {
		t.Fatalf("first request: expected pending, got %s", state)
	}
	if _, state := s.RequestReveal("github"); state != RevealPending {
		t.Fatalf("second request: expected pending, got %s", state)
	}
	close(cc.gate)

	events := await(t, s)
	if len(events) != 1 || events[0].Kind != EventRevealed || events[0].Title != "github" {
		t.Fatalf("unexpected events %+v", events)
	}
	if n := cc.opens.Load(); n != 1 {
		t.Fatalf("expected exactly one decrypt job, got %d", n)
	}

	first, state := s.RequestReveal("github")
	if state != RevealReady || first != "S3cr3t!" {
		t.Fatalf("unexpected reveal %q %s", first, state)
	}
	second, _ := s.Peek("github")
	if second != first {
		t.Fatalf("callers saw different plaintexts %q %q", first, second)
	}
	if n := cc.opens.Load(); n != 1 {
		t.Fatalf("cache hit must not decrypt again, got %d jobs", n)
	}
}

func TestRevealFailureIsSticky(t *testing.T) {
	s, store, cc := newTestSession(t, nil)
	if err := store.Put("broken", "AAAA"); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, state := s.RequestReveal("broken"); state != RevealPending {
		t.Fatalf("expected pending, got %s", state)
	}
	events := await(t, s)
	if len(events) != 1 || events[0].Kind != EventRevealFailed || !errors.Is(events[0].Err, ErrDecrypt) {
		t.Fatalf("unexpected events %+v", events)
	}
	if _, state := s.RequestReveal("broken"); state != RevealFailed {
		t.Fatalf("expected failed, got %s", state)
	}
	if n := cc.opens.Load(); n != 1 {
		t.Fatalf("failed reveal must not retry on its own, got %d jobs", n)
	}

	s.Retry("broken")
	if _, state := s.RequestReveal("broken"); state != RevealPending {
		t.Fatalf("expected pending after retry, got %s", state)
	}
	await(t, s)
	if n := cc.opens.Load(); n != 2 {
		t.Fatalf("expected a second job after retry, got %d", n)
	}
}

func TestRevealUnknownTitle(t *testing.T) {
	s, _, cc := newTestSession(t, nil)
	if _, state := s.RequestReveal("nope"); state != RevealFailed {
		t.Fatalf("expected failed, got %s", state)
	}
	if cc.opens.Load() != 0 {
		t.Fatal("unknown title must not start a job")
	}
}

func TestCopyBypassesCache(t *testing.T) {
	sink := &recordingSink{}
	s, _, cc := newTestSession(t, map[string]string{"github": "S3cr3t!"}, WithCopySink(sink))

	s.RequestReveal("github")
	await(t, s)

	for range 2 {
		if _, err := s.RequestCopy("github"); err != nil {
			t.Fatalf("copy: %v", err)
		}
	}
	events := await(t, s)
	if len(events) != 2 || events[0].Kind != EventCopied || events[1].Kind != EventCopied {
		t.Fatalf("unexpected events %+v", events)
	}
	if n := cc.opens.Load(); n != 3 {
		t.Fatalf("copies must decrypt every time, got %d jobs", n)
	}
	if len(sink.copied) != 2 || sink.copied[0] != "S3cr3t!" {
		t.Fatalf("unexpected sink contents %v", sink.copied)
	}

	if _, err := s.RequestCopy("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCopyWithoutSink(t *testing.T) {
	s, _, _ := newTestSession(t, map[string]string{"github": "S3cr3t!"})
	if _, err := s.RequestCopy("github"); !errors.Is(err, ErrNoCopySink) {
		t.Fatalf("expected ErrNoCopySink, got %v", err)
	}
}

func TestCopySinkError(t *testing.T) {
	sink := &recordingSink{err: errors.New("no display")}
	s, _, _ := newTestSession(t, map[string]string{"github": "S3cr3t!"}, WithCopySink(sink))
	if _, err := s.RequestCopy("github"); err != nil {
		t.Fatalf("copy: %v", err)
	}
	events := await(t, s)
	if len(events) != 1 || events[0].Kind != EventCopyFailed {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestSaveEncryptsInBackground(t *testing.T) {
	s, store, cc := newTestSession(t, map[string]string{"github": "old"})
	s.RequestReveal("github")
	await(t, s)

	if _, err := s.RequestSave(" github ", "S3cr3t!"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.RequestSave("", "x"); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}
	events := await(t, s)
	if len(events) != 1 || events[0].Kind != EventSaved || events[0].Title != "github" {
		t.Fatalf("unexpected events %+v", events)
	}
	if cc.seals.Load() != 1 {
		t.Fatalf("expected one encrypt job, got %d", cc.seals.Load())
	}
	if _, state := s.Peek("github"); state != RevealNone {
		t.Fatalf("overwritten entry must drop the cached plaintext, got %s", state)
	}

	blob, _ := store.Get("github")
	pt, err := Decrypt(blob, testPassphrase)
	if err != nil || pt != "S3cr3t!" {
		t.Fatalf("unexpected stored plaintext %q (%v)", pt, err)
	}
}

func TestSavePersistenceFailure(t *testing.T) {
	key := sessionKey()
	backend := NewMemoryBackend()
	store := OpenEntryStore(backend, quiet())
	s, err := NewSession(key, store, quiet())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Close()

	backend.SaveErr = errors.New("disk full")
	if _, err := s.RequestSave("github", "S3cr3t!"); err != nil {
		t.Fatalf("save: %v", err)
	}
	events := await(t, s)
	if len(events) != 1 || events[0].Kind != EventSaveFailed || !errors.Is(events[0].Err, ErrPersistence) {
		t.Fatalf("unexpected events %+v", events)
	}
	if store.Len() != 0 {
		t.Fatal("failed save must leave the store unchanged")
	}
}

func TestDeleteDropsLateReveal(t *testing.T) {
	s, store, cc := newTestSession(t, map[string]string{"github": "S3cr3t!"})
	cc.gate = make(chan struct{})

	s.RequestReveal("github")
	if err := s.Delete("github"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	close(cc.gate)

	if events := await(t, s); len(events) != 0 {
		t.Fatalf("late reveal for a deleted title must be dropped, got %+v", events)
	}
	if _, state := s.Peek("github"); state != RevealNone {
		t.Fatalf("expected no state for deleted title, got %s", state)
	}
	if store.Len() != 0 {
		t.Fatal("entry still stored")
	}
	if err := s.Delete("github"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReadySignalled(t *testing.T) {
	s, _, _ := newTestSession(t, map[string]string{"github": "S3cr3t!"})
	ready := s.Ready()
	s.RequestReveal("github")
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("ready was never signalled")
	}
}

func TestCloseDiscardsInFlight(t *testing.T) {
	sink := &recordingSink{}
	s, _, cc := newTestSession(t, map[string]string{"github": "S3cr3t!"}, WithCopySink(sink))
	cc.gate = make(chan struct{})

	s.RequestReveal("github")
	s.RequestCopy("github")
	s.Close()
	close(cc.gate)

	deadline := time.Now().Add(5 * time.Second)
	for s.InFlight() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("workers did not exit after close")
		}
		time.Sleep(time.Millisecond)
	}
	if events := s.Drain(); events != nil {
		t.Fatalf("closed session must not apply results, got %+v", events)
	}
	if len(sink.copied) != 0 {
		t.Fatal("closed session delivered a copy")
	}
	if _, state := s.RequestReveal("github"); state != RevealFailed {
		t.Fatalf("expected failed on closed session, got %s", state)
	}
	if _, err := s.RequestCopy("github"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if _, err := s.RequestSave("x", "y"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	for _, b := range s.key {
		if b != 0 {
			t.Fatal("session key was not zeroed")
		}
	}
	if s.cipher != nil {
		t.Fatal("closed session still holds its cipher")
	}
}

func TestEventsCarryJobIDs(t *testing.T) {
	sink := &recordingSink{}
	s, _, _ := newTestSession(t, map[string]string{"github": "S3cr3t!"}, WithCopySink(sink))

	copyJob, err := s.RequestCopy("github")
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	saveJob, err := s.RequestSave("gitlab", "hunter22")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if copyJob == saveJob {
		t.Fatalf("jobs share the id %s", copyJob)
	}
	for _, id := range []string{copyJob, saveJob} {
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("job id %q is not a uuid: %v", id, err)
		}
	}

	byJob := map[string]Event{}
	for _, ev := range await(t, s) {
		byJob[ev.Job] = ev
	}
	if ev := byJob[copyJob]; ev.Kind != EventCopied || ev.Title != "github" {
		t.Fatalf("unexpected event for copy job: %+v", ev)
	}
	if ev := byJob[saveJob]; ev.Kind != EventSaved || ev.Title != "gitlab" {
		t.Fatalf("unexpected event for save job: %+v", ev)
	}

	s.RequestReveal("github")
	events := await(t, s)
	if len(events) != 1 || events[0].Job == "" || events[0].Job == copyJob {
		t.Fatalf("reveal should carry its own job id, got %+v", events)
	}
}

func TestAwaitHonoursContext(t *testing.T) {
	s, _, cc := newTestSession(t, map[string]string{"github": "S3cr3t!"})
	cc.gate = make(chan struct{})
	defer close(cc.gate)

	s.RequestReveal("github")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
