package encoder

import "sync"

// LogBuffer is a fixed-capacity ring buffer of encoder output lines. Once
// full, the oldest line is dropped for each new one.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
	cap   int
	start int
	count int
}

// NewLogBuffer creates a buffer holding at most capacity lines.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = 100
	}
	return &LogBuffer{
		lines: make([]string, capacity),
		cap:   capacity,
	}
}

// Append adds a line, evicting the oldest when the buffer is full.
func (b *LogBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := (b.start + b.count) % b.cap
	b.lines[idx] = line
	if b.count < b.cap {
		b.count++
	} else {
		b.start = (b.start + 1) % b.cap
	}
}

// Lines returns the buffered lines oldest first.
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.lines[(b.start+i)%b.cap]
	}
	return out
}

// Len returns the number of buffered lines.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
