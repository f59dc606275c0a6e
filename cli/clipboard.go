package cli

import (
	"sync"
	"time"

	"github.com/atotto/clipboard"
)

// ClipboardSink copies plaintext to the system clipboard and clears it again
// after ClearAfter, unless something else was copied in the meantime.
type ClipboardSink struct {
	ClearAfter time.Duration

	write func(string) error
	read  func() (string, error)

	mu    sync.Mutex
	last  string
	gen   int
	timer *time.Timer
}

func NewClipboardSink(clearAfter time.Duration) *ClipboardSink {
	return &ClipboardSink{
		ClearAfter: clearAfter,
		write:      clipboard.WriteAll,
		read:       clipboard.ReadAll,
	}
}

func (c *ClipboardSink) Copy(text string) error {
	if err := c.write(text); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.last = text
	c.gen++
	if c.ClearAfter > 0 {
		gen := c.gen
		c.timer = time.AfterFunc(c.ClearAfter, func() { c.clear(gen) })
	}
	return nil
}

// Flush clears a pending copy immediately.
func (c *ClipboardSink) Flush() {
	c.mu.Lock()
	pending := c.timer != nil && c.timer.Stop()
	c.timer = nil
	gen := c.gen
	c.mu.Unlock()
	if pending {
		c.clear(gen)
	}
}

// clear empties the clipboard if it still holds copy number gen.
func (c *ClipboardSink) clear(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.last == "" {
		return
	}
	if cur, err := c.read(); err == nil && cur == c.last {
		_ = c.write("")
	}
	c.last = ""
}
