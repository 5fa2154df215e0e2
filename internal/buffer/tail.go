// Package buffer keeps the most recent output of a child process so it can
// be attached to error reports.
package buffer

import (
	"bytes"
	"strings"
	"sync"
)

// DefaultTailSize is the number of bytes a Tail keeps when none is given.
const DefaultTailSize = 8 * 1024

// Tail is an io.Writer that retains only the last N bytes written to it.
type Tail struct {
	mu   sync.Mutex
	data []byte
	size int
}

// NewTail returns a Tail keeping at most size bytes. A non-positive size
// falls back to DefaultTailSize.
func NewTail(size int) *Tail {
	if size <= 0 {
		size = DefaultTailSize
	}
	return &Tail{size: size, data: make([]byte, 0, size)}
}

// Write records p, discarding the oldest bytes beyond the configured size.
func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(p) >= t.size {
		t.data = append(t.data[:0], p[len(p)-t.size:]...)
		return len(p), nil
	}

	if over := len(t.data) + len(p) - t.size; over > 0 {
		t.data = append(t.data[:0], t.data[over:]...)
	}
	t.data = append(t.data, p...)
	return len(p), nil
}

// String returns the retained output with surrounding whitespace removed.
// When older output was discarded, a leading partial line is dropped too.
func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.data
	if len(out) == t.size {
		if i := bytes.IndexByte(out, '\n'); i >= 0 && i < len(out)-1 {
			out = out[i+1:]
		}
	}
	return strings.TrimSpace(string(out))
}

// Len reports how many bytes are retained.
func (t *Tail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.data)
}

// Reset discards everything retained so far.
func (t *Tail) Reset() {
	t.mu.Lock()
	t.data = t.data[:0]
	t.mu.Unlock()
}
