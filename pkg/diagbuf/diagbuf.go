// Package diagbuf provides a small bounded ring buffer used by the
// reactor to retain the last N bytes of its own diagnostic log lines
// (EMFILE backoffs, handler panics) for post-mortem dumps, independent
// of wherever pkg/logging is currently configured to write. It is an
// adaptation of the teacher's tailbuffer package, narrowed from a
// general-purpose log tail to this one diagnostic role: Buffer
// implements io.Writer only, since the reactor never reads its own
// diagnostic log back, only snapshots it for a post-mortem dump.
package diagbuf

import (
	"sync"
)

// Buffer is a fixed-capacity ring of the most recently written bytes.
// Writes never fail and never block; once full, the oldest bytes are
// overwritten.
type Buffer struct {
	mu       sync.Mutex
	buf      []byte
	capacity uint
	size     uint
	readPos  uint
	writePos uint
}

// New returns a Buffer that retains at most capacity bytes.
func New(capacity uint) *Buffer {
	return &Buffer{
		buf:      make([]byte, capacity),
		capacity: capacity,
	}
}

// Write implements io.Writer. If p is longer than the buffer's capacity,
// only its tail is retained.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.capacity == 0 {
		return len(p), nil
	}

	written := 0
	start := 0
	if len(p) > int(b.capacity) {
		start = len(p) - int(b.capacity)
	}
	shouldAdvanceRead := b.size == b.capacity
	for _, c := range p[start:] {
		if shouldAdvanceRead {
			if b.readPos+1 < b.capacity {
				b.readPos++
			} else {
				b.readPos = 0
			}
		}
		b.buf[b.writePos] = c
		if b.writePos+1 < b.capacity {
			b.writePos++
		} else {
			b.writePos = 0
		}
		b.size++
		if b.size > b.capacity {
			b.size = b.capacity
		}
		shouldAdvanceRead = b.writePos == b.readPos
		written++
	}
	return start + written, nil
}

// Snapshot returns a copy of the currently retained bytes in write
// order, without consuming them — used for a post-mortem dump where the
// caller wants to inspect the tail without racing the next writer.
func (b *Buffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, b.size)
	pos := b.readPos
	for i := uint(0); i < b.size; i++ {
		out[i] = b.buf[pos]
		if pos+1 < b.capacity {
			pos++
		} else {
			pos = 0
		}
	}
	return out
}
