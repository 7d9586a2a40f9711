// Package portaudio implements [audio.Device] on top of PortAudio's default
// input and output devices.
//
// PortAudio runs stream callbacks on its own real-time thread. The callbacks
// installed here only translate status flags and hand the buffer to the
// registered [audio.CaptureFunc] or [audio.FillFunc]; all buffering happens
// in the caller.
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/talkie/pkg/audio"
)

// Device is a PortAudio-backed [audio.Device]. Create it with [Open] and
// release it with [Device.Close] after all streams are closed.
type Device struct {
	mu     sync.Mutex
	closed bool
}

var _ audio.Device = (*Device)(nil)

// Open initialises the PortAudio library.
func Open() (*Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Device{}, nil
}

// OpenCapture implements [audio.Device]. Frames are delivered as interleaved
// int16 samples; PortAudio's input overflow and underflow flags are mapped to
// [audio.CaptureStatus].
func (d *Device) OpenCapture(f audio.Format, framesPerBuffer int, fn audio.CaptureFunc) (audio.Stream, error) {
	if err := d.check(f); err != nil {
		return nil, err
	}
	cb := func(in []int16, _ pa.StreamCallbackTimeInfo, flags pa.StreamCallbackFlags) {
		fn(in, captureStatus(flags))
	}
	s, err := pa.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), framesPerBuffer, cb)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open capture stream (%s): %w", f, err)
	}
	return &stream{s: s, name: "capture"}, nil
}

// OpenPlayback implements [audio.Device].
func (d *Device) OpenPlayback(f audio.Format, framesPerBuffer int, fn audio.FillFunc) (audio.Stream, error) {
	if err := d.check(f); err != nil {
		return nil, err
	}
	cb := func(out []int16) { fn(out) }
	s, err := pa.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), framesPerBuffer, cb)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open playback stream (%s): %w", f, err)
	}
	return &stream{s: s, name: "playback"}, nil
}

// Close terminates the PortAudio library. It is safe to call more than once.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

func (d *Device) check(f audio.Format) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return errors.New("portaudio: device closed")
	}
	return f.Validate()
}

func captureStatus(flags pa.StreamCallbackFlags) audio.CaptureStatus {
	var s audio.CaptureStatus
	if flags&pa.InputOverflow != 0 {
		s |= audio.StatusInputOverflow
	}
	if flags&pa.InputUnderflow != 0 {
		s |= audio.StatusInputUnderflow
	}
	return s
}

// stream adapts *pa.Stream to [audio.Stream]. PortAudio reports an error when
// stopping a stream that is not running, so start/stop state is tracked here.
type stream struct {
	mu      sync.Mutex
	s       *pa.Stream
	name    string
	running bool
	closed  bool
}

func (s *stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("portaudio: start %s: stream closed", s.name)
	}
	if s.running {
		return nil
	}
	if err := s.s.Start(); err != nil {
		return fmt.Errorf("portaudio: start %s: %w", s.name, err)
	}
	s.running = true
	return nil
}

func (s *stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	if err := s.s.Stop(); err != nil {
		return fmt.Errorf("portaudio: stop %s: %w", s.name, err)
	}
	return nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if s.running {
		s.running = false
		if err := s.s.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: stop %s: %w", s.name, err))
		}
	}
	if err := s.s.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close %s: %w", s.name, err))
	}
	return errors.Join(errs...)
}
