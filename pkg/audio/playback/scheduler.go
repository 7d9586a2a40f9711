// Package playback implements the streaming playback scheduler that sits
// between a pipeline producing synthesized speech and the speaker's pull
// callback.
//
// Chunks are queued in arrival order and drained by [Scheduler.Read] without
// ever skipping, duplicating or reordering samples. When the queue is empty
// Read produces silence instead of blocking. [Scheduler.Flush] discards
// everything queued, including the unread tail of a partially drained chunk,
// and starts a new ordering epoch.
//
// A Scheduler has exactly one producer (the goroutine forwarding pipeline
// audio) and one consumer (the hardware playback callback). A mutex guards
// the queue bookkeeping only; no I/O or allocation-heavy work happens under
// it on the consumer side.
package playback

import (
	"errors"
	"sync"

	"github.com/MrWong99/talkie/pkg/audio"
)

// ErrStopped is returned by [Scheduler.Enqueue] after [Scheduler.Stop].
var ErrStopped = errors.New("playback: scheduler stopped")

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithUnderrunHandler registers fn to be called when the queue runs dry while
// a response is still expected to deliver audio. fn is called at most once per
// dry spell, on the playback callback context, so it must not block.
func WithUnderrunHandler(fn func()) Option {
	return func(s *Scheduler) { s.onUnderrun = fn }
}

// WithFlushHandler registers fn to be called after every flush with the
// number of queued samples that were discarded.
func WithFlushHandler(fn func(discarded int)) Option {
	return func(s *Scheduler) { s.onFlush = fn }
}

// Scheduler is an ordered PCM16 playback queue. The zero value is not usable;
// create one with [New].
type Scheduler struct {
	mu sync.Mutex

	// chunks[0] is the head being drained; offset is the read cursor into it.
	chunks [][]int16
	offset int
	queued int

	// carry holds the odd trailing byte of the last enqueued chunk.
	carry []byte

	epoch uint64

	// expecting is true between the first Enqueue of a response and
	// EndResponse or Flush. starved marks that the current dry spell was
	// already reported.
	expecting bool
	starved   bool
	stopped   bool

	onUnderrun func()
	onFlush    func(int)
}

// New creates an empty Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue appends chunk (little-endian PCM16) to the queue. The scheduler
// takes its own copy. An odd trailing byte is held back and prefixed to the
// next chunk so sample boundaries survive arbitrary chunking.
func (s *Scheduler) Enqueue(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if len(chunk) == 0 {
		return nil
	}

	data := chunk
	if len(s.carry) > 0 {
		data = append(s.carry, chunk...)
		s.carry = nil
	}
	if len(data)%2 != 0 {
		s.carry = []byte{data[len(data)-1]}
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return nil
	}

	samples := audio.BytesToPCM16(data)
	s.chunks = append(s.chunks, samples)
	s.queued += len(samples)
	s.expecting = true
	s.starved = false
	return nil
}

// Read fills out with queued samples in arrival order and zero-fills the
// remainder. It never blocks and returns the number of queued (non-silence)
// samples written. Read is the playback device's pull callback.
func (s *Scheduler) Read(out []int16) int {
	s.mu.Lock()
	n := 0
	for n < len(out) && len(s.chunks) > 0 {
		head := s.chunks[0]
		c := copy(out[n:], head[s.offset:])
		n += c
		s.offset += c
		if s.offset == len(head) {
			s.chunks[0] = nil
			s.chunks = s.chunks[1:]
			s.offset = 0
		}
	}
	s.queued -= n
	if len(s.chunks) == 0 {
		// Release the backing array once drained.
		s.chunks = nil
	}

	underrun := false
	if n < len(out) && s.expecting && !s.starved {
		s.starved = true
		underrun = true
	}
	fn := s.onUnderrun
	s.mu.Unlock()

	clear(out[n:])
	if underrun && fn != nil {
		fn()
	}
	return n
}

// EndResponse marks that the current response has delivered all of its audio.
// Running dry after EndResponse is the natural end of playback, not an
// underrun.
func (s *Scheduler) EndResponse() {
	s.mu.Lock()
	s.expecting = false
	s.mu.Unlock()
}

// Flush discards all queued audio, including the undrained remainder of the
// head chunk, and starts a new epoch. Chunks enqueued afterwards are drained
// as if the queue had always been empty. It returns the number of discarded
// samples.
func (s *Scheduler) Flush() int {
	s.mu.Lock()
	n := s.flushLocked()
	fn := s.onFlush
	s.mu.Unlock()
	if fn != nil {
		fn(n)
	}
	return n
}

func (s *Scheduler) flushLocked() int {
	n := s.queued
	s.chunks = nil
	s.offset = 0
	s.queued = 0
	s.carry = nil
	s.expecting = false
	s.starved = false
	s.epoch++
	return n
}

// Stop flushes the queue and halts the scheduler: later Enqueue calls return
// [ErrStopped] and Read only produces silence. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.flushLocked()
	s.stopped = true
}

// Playing reports whether queued audio remains to be drained.
func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued > 0
}

// Buffered returns the number of queued samples not yet drained.
func (s *Scheduler) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued
}

// Epoch returns the number of flushes performed so far.
func (s *Scheduler) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Stopped reports whether Stop was called.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
