package audio

// CaptureFunc receives one hardware capture frame. It runs on the hardware
// callback context: it must not block and must not retain in after it
// returns, the buffer is reused for the next delivery.
type CaptureFunc func(in []int16, status CaptureStatus)

// FillFunc is the playback pull callback. It must fill out completely (with
// silence when nothing is queued) and must not block.
type FillFunc func(out []int16)

// Stream is a running hardware stream.
type Stream interface {
	// Start begins invoking the stream's callback.
	Start() error

	// Stop halts the callback after pending buffers have been processed.
	// After Stop returns the callback is no longer invoked.
	Stop() error

	// Close releases the stream. Close on a running stream stops it first.
	Close() error
}

// Device opens capture and playback streams on the audio hardware.
//
// Implementations must be safe for concurrent use; streams they return are
// owned by the caller.
type Device interface {
	// OpenCapture opens an input stream that delivers frames of
	// framesPerBuffer sample frames in format f to fn.
	OpenCapture(f Format, framesPerBuffer int, fn CaptureFunc) (Stream, error)

	// OpenPlayback opens an output stream in format f that pulls
	// framesPerBuffer sample frames at a time from fn.
	OpenPlayback(f Format, framesPerBuffer int, fn FillFunc) (Stream, error)

	// Close releases the hardware layer. Streams must be closed first.
	Close() error
}
