package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a streaming channel (a synthesis
// audio channel or a pipeline event stream) is abandoned early.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
