package sandbox

import (
	"bytes"
	"fmt"
	"sync"
)

// cappedBuffer keeps the first limit bytes written to it and silently drops
// the rest, so a chatty program can neither exhaust memory nor block on a
// full pipe. It is safe for concurrent use.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

// String returns the captured bytes, followed by a note when output was dropped.
func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.truncated {
		return b.buf.String() + fmt.Sprintf("\n[output truncated after %d bytes]", b.limit)
	}
	return b.buf.String()
}
