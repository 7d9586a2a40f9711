package audio

import (
	"log/slog"
	"sync"
)

// Converter converts PCM16 byte chunks from one [Format] to another. It is
// used where a provider's native output format differs from the device
// format. Chunks need not be frame aligned: a trailing partial frame is
// carried into the next call.
//
// Create one per stream; a Converter is not safe for concurrent use.
type Converter struct {
	From Format
	To   Format

	carry  []byte
	warned sync.Once
}

// NewConverter returns a converter from → to.
func NewConverter(from, to Format) *Converter {
	return &Converter{From: from, To: to}
}

// Passthrough reports whether Convert returns its input unchanged.
func (c *Converter) Passthrough() bool { return c.From == c.To }

// Convert converts one chunk. On a passthrough converter the chunk is
// returned as is (zero allocation). Conversion resamples first, then remixes
// channels, so stereo input headed for a mono device is not resampled twice.
func (c *Converter) Convert(chunk []byte) []byte {
	if c.Passthrough() {
		return chunk
	}
	c.warned.Do(func() {
		slog.Debug("audio: converting stream", "from", c.From.String(), "to", c.To.String())
	})

	data := chunk
	if len(c.carry) > 0 {
		data = append(c.carry, chunk...)
		c.carry = nil
	}
	frameBytes := 2 * max(c.From.Channels, 1)
	if rem := len(data) % frameBytes; rem != 0 {
		c.carry = append([]byte(nil), data[len(data)-rem:]...)
		data = data[:len(data)-rem]
	}
	if len(data) == 0 {
		return nil
	}

	samples := BytesToPCM16(data)
	samples = Resample(samples, c.From.Channels, c.From.SampleRate, c.To.SampleRate)
	samples = Remix(samples, c.From.Channels, c.To.Channels)
	return PCM16ToBytes(samples)
}

// ConvertStream wraps in with a converting goroutine. The returned channel is
// closed when in closes; it uses cap(in) as its buffer. Chunks that convert to
// nothing are dropped.
func ConvertStream(in <-chan []byte, from, to Format) <-chan []byte {
	if from == to {
		return in
	}
	out := make(chan []byte, cap(in))
	go func() {
		defer close(out)
		conv := NewConverter(from, to)
		for chunk := range in {
			converted := conv.Convert(chunk)
			if len(converted) == 0 {
				continue
			}
			out <- converted
		}
	}()
	return out
}

// Resample resamples interleaved samples with the given channel count from
// srcRate to dstRate using linear interpolation. If the rates match or either
// is invalid, samples is returned unchanged.
func Resample(samples []int16, channels, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return samples
	}
	srcFrames := len(samples) / channels
	if srcFrames == 0 {
		return samples
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]int16, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(samples[idx*channels+ch])
			s1 := float64(samples[next*channels+ch])
			out[i*channels+ch] = int16(s0*(1-frac) + s1*frac)
		}
	}
	return out
}

// Remix converts interleaved samples between mono and stereo. Mono is
// duplicated into both channels; stereo is averaged with int32 arithmetic and
// clamped. Other combinations return samples unchanged.
func Remix(samples []int16, from, to int) []int16 {
	switch {
	case from == 1 && to == 2:
		out := make([]int16, len(samples)*2)
		for i, s := range samples {
			out[i*2] = s
			out[i*2+1] = s
		}
		return out
	case from == 2 && to == 1:
		out := make([]int16, len(samples)/2)
		for i := range out {
			out[i] = clamp16((int32(samples[i*2]) + int32(samples[i*2+1])) / 2)
		}
		return out
	default:
		return samples
	}
}
