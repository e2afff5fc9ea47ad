package simclient

import "sync"

// outbox is a bounded FIFO of encoded lines waiting for a connection.
// When full, the oldest line is evicted to make room.
type outbox struct {
	mu    sync.Mutex
	lines [][]byte
	cap   int
}

func newOutbox(capacity int) *outbox {
	return &outbox{lines: make([][]byte, 0, capacity), cap: capacity}
}

// add queues line, evicting the oldest entry when full.
func (b *outbox) add(line []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) >= b.cap {
		copy(b.lines, b.lines[1:])
		b.lines[len(b.lines)-1] = line
		return
	}
	b.lines = append(b.lines, line)
}

// drain returns every queued line and empties the outbox.
func (b *outbox) drain() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) == 0 {
		return nil
	}
	out := make([][]byte, len(b.lines))
	copy(out, b.lines)
	b.lines = b.lines[:0]
	return out
}

func (b *outbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
