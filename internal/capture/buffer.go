package capture

import "sync"

// Buffer accumulates the frames of one utterance. Frames are appended into a
// single growing arena, so finalising is a slice hand-off rather than a
// concatenation pass.
//
// Append runs on the capture context; Finalize and Reset run on the session
// goroutine.
type Buffer struct {
	mu     sync.Mutex
	arena  []int16
	frames int
}

// NewBuffer returns a buffer with room for capacity samples before its first
// reallocation.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{arena: make([]int16, 0, capacity)}
}

// Append implements [Sink]. samples is copied.
func (b *Buffer) Append(samples []int16) {
	b.mu.Lock()
	b.arena = append(b.arena, samples...)
	b.frames++
	b.mu.Unlock()
}

// Finalize returns all retained samples in arrival order and leaves the
// buffer empty. With nothing retained it returns a non-nil zero-length slice.
func (b *Buffer) Finalize() []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.arena
	if out == nil {
		out = []int16{}
	}
	b.arena = make([]int16, 0, cap(out))
	b.frames = 0
	return out
}

// Reset discards retained samples.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.arena = b.arena[:0]
	b.frames = 0
	b.mu.Unlock()
}

// Frames returns the number of frames appended since the last Finalize or
// Reset.
func (b *Buffer) Frames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames
}

// Len returns the number of retained samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.arena)
}
