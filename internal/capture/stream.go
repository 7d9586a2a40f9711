package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/talkie/internal/observe"
)

// ErrUtteranceEnd is returned by [Stream.ReadChunk] together with the
// remaining samples of an utterance after [Stream.EndUtterance].
var ErrUtteranceEnd = errors.New("capture: end of utterance")

// Stream is the bounded capture queue of streaming mode. The recorder appends
// frames while the gate is open; the sender reads them back in fixed-size
// chunks. When the sender falls behind by more than the configured limit the
// oldest samples are dropped, so the hardware callback never waits.
//
// Every EndUtterance records a boundary at the current end of the queue, so
// utterances that pile up behind a slow sender are still read back one at a
// time.
type Stream struct {
	mu    sync.Mutex
	buf   []int16
	head  int
	limit int

	// ends holds the utterance boundaries still ahead of head, as indices
	// into buf, oldest first.
	ends []int
	// ended is closed and replaced by every EndUtterance.
	ended chan struct{}

	ready chan struct{}

	metrics *observe.Metrics
}

// StreamOption configures a [Stream].
type StreamOption func(*Stream)

// WithStreamMetrics counts dropped samples to m.
func WithStreamMetrics(m *observe.Metrics) StreamOption {
	return func(s *Stream) { s.metrics = m }
}

// NewStream returns a stream holding at most limit samples.
func NewStream(limit int, opts ...StreamOption) *Stream {
	s := &Stream{
		limit: max(limit, 1),
		ended: make(chan struct{}),
		ready: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Append implements [Sink]. samples is copied.
func (s *Stream) Append(samples []int16) {
	s.mu.Lock()
	s.buf = append(s.buf, samples...)
	dropped := 0
	if n := len(s.buf) - s.head; n > s.limit {
		dropped = n - s.limit
		s.head += dropped
		for i, e := range s.ends {
			s.ends[i] = max(e, s.head)
		}
	}
	s.compactLocked()
	s.mu.Unlock()

	if dropped > 0 {
		if s.metrics != nil {
			s.metrics.CaptureDroppedSamples.Add(context.Background(), int64(dropped))
		}
		slog.Debug("capture: stream full, dropped oldest samples", "dropped", dropped)
	}
	s.signal()
}

// EndUtterance marks the end of the current utterance at the current end of
// the queue.
func (s *Stream) EndUtterance() {
	s.mu.Lock()
	s.ends = append(s.ends, len(s.buf))
	close(s.ended)
	s.ended = make(chan struct{})
	s.mu.Unlock()
	s.signal()
}

// Reset discards the samples appended since the last EndUtterance. Ended
// utterances that were not read yet are kept.
func (s *Stream) Reset() {
	s.mu.Lock()
	tail := s.head
	if n := len(s.ends); n > 0 {
		tail = s.ends[n-1]
	}
	s.buf = s.buf[:tail]
	s.compactLocked()
	s.mu.Unlock()
}

// Pending returns the number of ended utterances that were not completely
// read yet, and a channel that is closed when the next one ends.
func (s *Stream) Pending() (int, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ends), s.ended
}

// ReadChunk blocks until n samples of the current utterance are queued and
// returns them. When the utterance ended with fewer than n samples left, it
// returns those (possibly zero) with [ErrUtteranceEnd], once per
// EndUtterance. It returns ctx.Err() when ctx is done.
func (s *Stream) ReadChunk(ctx context.Context, n int) ([]int16, error) {
	for {
		s.mu.Lock()
		end := len(s.buf)
		if len(s.ends) > 0 {
			end = s.ends[0]
		}
		avail := end - s.head
		if avail >= n {
			out := s.takeLocked(n)
			s.mu.Unlock()
			return out, nil
		}
		if len(s.ends) > 0 {
			s.ends = s.ends[1:]
			out := s.takeLocked(avail)
			s.mu.Unlock()
			return out, ErrUtteranceEnd
		}
		s.mu.Unlock()

		select {
		case <-s.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Buffered returns the number of queued samples.
func (s *Stream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf) - s.head
}

func (s *Stream) takeLocked(n int) []int16 {
	out := make([]int16, n)
	copy(out, s.buf[s.head:s.head+n])
	s.head += n
	s.compactLocked()
	return out
}

// compactLocked moves the unread tail to the front once the consumed prefix
// dominates the backing array. Boundaries move with it.
func (s *Stream) compactLocked() {
	if s.head == 0 {
		return
	}
	if s.head == len(s.buf) {
		s.shiftLocked(s.head)
		s.buf = s.buf[:0]
		return
	}
	if s.head > len(s.buf)/2 {
		n := copy(s.buf, s.buf[s.head:])
		s.buf = s.buf[:n]
		s.shiftLocked(s.head)
	}
}

func (s *Stream) shiftLocked(by int) {
	for i := range s.ends {
		s.ends[i] -= by
	}
	s.head -= by
}

func (s *Stream) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
