// Package mock provides in-memory implementations of [audio.Device] and
// [audio.Stream] for unit tests.
//
// The mock device never touches hardware: tests drive the capture callback
// with [Device.Deliver] and the playback callback with [Device.Pull]. Every
// stream lifecycle call is appended to a shared ordered log so teardown order
// can be asserted.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	capStream, _ := dev.OpenCapture(format, 320, recorder.OnFrame)
//	dev.Deliver(make([]int16, 320), 0)
//	out := dev.Pull(480)
package mock

import (
	"errors"
	"sync"

	"github.com/MrWong99/talkie/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream].
type Stream struct {
	dev  *Device
	name string

	mu sync.Mutex

	// StartErr, StopErr and CloseErr are returned by the matching methods.
	StartErr error
	StopErr  error
	CloseErr error

	running bool
	closed  bool

	// CallCountStart, CallCountStop and CallCountClose count invocations.
	CallCountStart int
	CallCountStop  int
	CallCountClose int
}

// Start implements [audio.Stream].
func (s *Stream) Start() error {
	s.mu.Lock()
	s.CallCountStart++
	if s.StartErr == nil {
		s.running = true
	}
	err := s.StartErr
	s.mu.Unlock()
	s.dev.Record(s.name + ".start")
	return err
}

// Stop implements [audio.Stream].
func (s *Stream) Stop() error {
	s.mu.Lock()
	s.CallCountStop++
	s.running = false
	err := s.StopErr
	s.mu.Unlock()
	s.dev.Record(s.name + ".stop")
	return err
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	s.running = false
	s.closed = true
	err := s.CloseErr
	s.mu.Unlock()
	s.dev.Record(s.name + ".close")
	return err
}

// Running reports whether the stream has been started and not stopped.
func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
// Set the exported error fields before use; inspect the streams after.
type Device struct {
	mu sync.Mutex

	// OpenCaptureErr and OpenPlaybackErr make the matching Open call fail.
	OpenCaptureErr  error
	OpenPlaybackErr error

	// CloseErr is returned by [Device.Close].
	CloseErr error

	// Capture and Playback are the most recently opened streams.
	Capture  *Stream
	Playback *Stream

	// CaptureFormat and PlaybackFormat record the formats requested.
	CaptureFormat  audio.Format
	PlaybackFormat audio.Format

	// CallCountClose records how many times Close was called.
	CallCountClose int

	captureFn audio.CaptureFunc
	fillFn    audio.FillFunc
	calls     []string
}

var _ audio.Device = (*Device)(nil)

// OpenCapture implements [audio.Device].
func (d *Device) OpenCapture(f audio.Format, _ int, fn audio.CaptureFunc) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenCaptureErr != nil {
		return nil, d.OpenCaptureErr
	}
	d.CaptureFormat = f
	d.captureFn = fn
	d.Capture = &Stream{dev: d, name: "capture"}
	return d.Capture, nil
}

// OpenPlayback implements [audio.Device].
func (d *Device) OpenPlayback(f audio.Format, _ int, fn audio.FillFunc) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenPlaybackErr != nil {
		return nil, d.OpenPlaybackErr
	}
	d.PlaybackFormat = f
	d.fillFn = fn
	d.Playback = &Stream{dev: d, name: "playback"}
	return d.Playback, nil
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	d.CallCountClose++
	err := d.CloseErr
	d.mu.Unlock()
	d.Record("device.close")
	return err
}

// ErrNoCallback is returned by [Device.Deliver] before a capture stream is
// open or after it was stopped.
var ErrNoCallback = errors.New("mock: no running capture stream")

// Deliver invokes the capture callback with in, as the hardware would. The
// callback only runs while the capture stream is running.
func (d *Device) Deliver(in []int16, status audio.CaptureStatus) error {
	d.mu.Lock()
	fn, s := d.captureFn, d.Capture
	d.mu.Unlock()
	if fn == nil || s == nil || !s.Running() {
		return ErrNoCallback
	}
	fn(in, status)
	return nil
}

// Pull invokes the playback callback for n samples and returns them. When no
// playback stream is running it returns nil.
func (d *Device) Pull(n int) []int16 {
	d.mu.Lock()
	fn, s := d.fillFn, d.Playback
	d.mu.Unlock()
	if fn == nil || s == nil || !s.Running() {
		return nil
	}
	out := make([]int16, n)
	fn(out)
	return out
}

// Calls returns a copy of the ordered stream lifecycle log, e.g.
// ["capture.start", "playback.start", "playback.stop", ...].
func (d *Device) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Record appends call to the lifecycle log. Tests use it to interleave
// events from other components with the stream calls.
func (d *Device) Record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}
