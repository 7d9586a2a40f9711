// Package capture holds the producer side of the microphone path: the
// hardware callback ([Recorder.OnFrame]) and the two sinks it feeds.
//
// [Buffer] accumulates one utterance for batch turns and is finalised into a
// single contiguous slice on the stop edge. [Stream] is a bounded FIFO read in
// send-sized chunks by the streaming sender.
//
// The callback runs on the hardware context and never blocks on a consumer:
// sinks copy the delivered frame under a short mutex and return.
package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/talkie/internal/observe"
	"github.com/MrWong99/talkie/pkg/audio"
)

// Gate reports whether captured frames should be kept. [ptt.Machine]
// satisfies it.
type Gate interface {
	Recording() bool
}

// Sink receives retained frames. Append must copy samples and must not block.
type Sink interface {
	Append(samples []int16)
}

// statusLogInterval bounds how often driver status flags are logged.
const statusLogInterval = 5 * time.Second

// Recorder is the capture callback. It checks the gate on every delivery and
// hands retained frames to its sink.
type Recorder struct {
	gate    Gate
	sink    Sink
	metrics *observe.Metrics

	mu         sync.Mutex
	lastLog    time.Time
	suppressed int
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithMetrics records frame and driver status counts to m.
func WithMetrics(m *observe.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// NewRecorder returns a recorder that forwards frames to sink while gate is
// open.
func NewRecorder(gate Gate, sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{gate: gate, sink: sink}
	for _, o := range opts {
		o(r)
	}
	return r
}

// OnFrame implements [audio.CaptureFunc]. A driver status never aborts
// capture: the condition is logged (rate limited) and counted, and the frame
// is still retained when the gate is open.
func (r *Recorder) OnFrame(in []int16, status audio.CaptureStatus) {
	if status.Err() {
		r.reportStatus(status)
	}
	retained := r.gate.Recording()
	if retained {
		r.sink.Append(in)
	}
	if r.metrics != nil {
		r.metrics.RecordCaptureFrame(retained, status)
	}
}

func (r *Recorder) reportStatus(status audio.CaptureStatus) {
	r.mu.Lock()
	now := time.Now()
	if now.Sub(r.lastLog) < statusLogInterval {
		r.suppressed++
		r.mu.Unlock()
		return
	}
	suppressed := r.suppressed
	r.suppressed = 0
	r.lastLog = now
	r.mu.Unlock()

	slog.Warn("capture: driver reported status, continuing",
		"status", status.String(),
		"suppressed", suppressed,
	)
}

var _ audio.CaptureFunc = (*Recorder)(nil).OnFrame
