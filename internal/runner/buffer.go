package runner

import (
	"bytes"
	"fmt"
	"sync"
)

// boundedBuffer keeps the earliest limit bytes written to it and counts the
// rest. Writes never fail so a chatty process is not killed by EPIPE.
type boundedBuffer struct {
	mu      sync.Mutex
	limit   int
	buf     bytes.Buffer
	dropped int64

	sink    LineSink
	partial []byte
}

func newBoundedBuffer(limit int, sink LineSink) *boundedBuffer {
	return &boundedBuffer{limit: limit, sink: sink}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room := b.limit - b.buf.Len(); room > 0 {
		n := min(room, len(p))
		b.buf.Write(p[:n])
		b.dropped += int64(len(p) - n)
	} else {
		b.dropped += int64(len(p))
	}

	if b.sink != nil {
		b.emitLines(p)
	}
	return len(p), nil
}

func (b *boundedBuffer) emitLines(p []byte) {
	b.partial = append(b.partial, p...)
	for {
		i := bytes.IndexByte(b.partial, '\n')
		if i < 0 {
			break
		}
		b.sink(string(bytes.TrimRight(b.partial[:i], "\r")))
		b.partial = b.partial[i+1:]
	}
	// A line longer than the capture limit is emitted in pieces.
	if len(b.partial) > b.limit {
		b.sink(string(b.partial))
		b.partial = nil
	}
}

// flush emits a trailing line that had no newline.
func (b *boundedBuffer) flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sink != nil && len(b.partial) > 0 {
		b.sink(string(b.partial))
	}
	b.partial = nil
}

func (b *boundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped > 0
}

// String returns the captured output, followed by a truncation marker when
// bytes were dropped.
func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dropped == 0 {
		return b.buf.String()
	}
	return b.buf.String() + fmt.Sprintf("\n... [output truncated: %d bytes dropped]\n", b.dropped)
}
