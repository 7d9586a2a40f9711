// Package audio holds the PCM primitives shared by the capture and playback
// paths: the process-wide [Format], the hardware [Device] abstraction, sample
// conversion helpers and WAV encoding.
//
// All PCM handled here is signed 16-bit little-endian. Multi-channel audio is
// interleaved.
package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
// A talkie process uses a single Format for both capture and playback; it is
// read from configuration at start-up and never changes afterwards.
type Format struct {
	SampleRate int
	Channels   int
}

// SamplesPer returns the number of interleaved samples that cover d.
func (f Format) SamplesPer(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(f.Channels) * int64(d) / int64(time.Second))
}

// Duration returns the playing time of n interleaved samples.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(f.SampleRate*f.Channels))
}

// BytesPer returns the number of PCM16 bytes that cover d.
func (f Format) BytesPer(d time.Duration) int {
	return f.SamplesPer(d) * 2
}

// Validate reports whether the format can be opened on a device.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("audio: unsupported channel count %d", f.Channels)
	}
	return nil
}

// String returns a human-readable form, e.g. "24000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// CaptureStatus carries the error flags a capture callback delivery was
// flagged with by the hardware layer. The zero value means a clean frame.
type CaptureStatus uint8

const (
	// StatusInputOverflow means input samples were lost before this frame
	// because the callback did not keep up.
	StatusInputOverflow CaptureStatus = 1 << iota

	// StatusInputUnderflow means the frame was padded because the device
	// delivered fewer samples than requested.
	StatusInputUnderflow
)

// Err reports whether any error flag is set.
func (s CaptureStatus) Err() bool { return s != 0 }

func (s CaptureStatus) String() string {
	switch s {
	case 0:
		return "ok"
	case StatusInputOverflow:
		return "input overflow"
	case StatusInputUnderflow:
		return "input underflow"
	case StatusInputOverflow | StatusInputUnderflow:
		return "input overflow|input underflow"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}
