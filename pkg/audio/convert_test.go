package audio_test

import (
	"bytes"
	"encoding/binary"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/talkie/pkg/audio"
)

func TestRemix_MonoToStereo(t *testing.T) {
	t.Parallel()
	got := audio.Remix([]int16{100, 200, 300}, 1, 2)
	want := []int16{100, 100, 200, 200, 300, 300}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRemix_StereoToMono(t *testing.T) {
	t.Parallel()
	got := audio.Remix([]int16{100, 200, -100, -200}, 2, 1)
	want := []int16{150, -150}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRemix_StereoToMonoNoOverflow(t *testing.T) {
	t.Parallel()
	got := audio.Remix([]int16{32767, 32767, -32768, -32768}, 2, 1)
	want := []int16{32767, -32768}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResample_SameRate(t *testing.T) {
	t.Parallel()
	in := []int16{1, 2, 3}
	out := audio.Resample(in, 1, 24000, 24000)
	if !slices.Equal(out, in) {
		t.Errorf("got %v, want unchanged %v", out, in)
	}
}

func TestResample_Upsample(t *testing.T) {
	t.Parallel()
	// 16kHz → 24kHz: 160 samples become 240.
	in := make([]int16, 160)
	for i := range in {
		in[i] = int16(i * 10)
	}
	out := audio.Resample(in, 1, 16000, 24000)
	if len(out) != 240 {
		t.Fatalf("len = %d, want 240", len(out))
	}
	if out[0] != 0 {
		t.Errorf("first sample = %d, want 0", out[0])
	}
	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			t.Fatalf("ramp not monotonic at %d: %d < %d", i, out[i], out[i-1])
		}
	}
}

func TestResample_StereoKeepsChannels(t *testing.T) {
	t.Parallel()
	// Left constant 100, right constant -100.
	in := make([]int16, 0, 96)
	for range 48 {
		in = append(in, 100, -100)
	}
	out := audio.Resample(in, 2, 48000, 24000)
	if len(out) != 48 {
		t.Fatalf("len = %d, want 48", len(out))
	}
	for i := 0; i < len(out); i += 2 {
		if out[i] != 100 || out[i+1] != -100 {
			t.Fatalf("frame %d = (%d,%d), want (100,-100)", i/2, out[i], out[i+1])
		}
	}
}

func TestConverter_Passthrough(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 24000, Channels: 1}
	c := audio.NewConverter(f, f)
	in := []byte{1, 2, 3}
	out := c.Convert(in)
	if &out[0] != &in[0] {
		t.Error("passthrough converter should return the input slice")
	}
}

func TestConverter_CarriesPartialFrames(t *testing.T) {
	t.Parallel()
	c := audio.NewConverter(
		audio.Format{SampleRate: 24000, Channels: 1},
		audio.Format{SampleRate: 24000, Channels: 2},
	)
	pcm := audio.PCM16ToBytes([]int16{7, 8})
	first := c.Convert(pcm[:3])
	second := c.Convert(pcm[3:])

	got := audio.BytesToPCM16(append(first, second...))
	want := []int16{7, 7, 8, 8}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestConvertStream(t *testing.T) {
	t.Parallel()
	in := make(chan []byte, 2)
	in <- audio.PCM16ToBytes([]int16{1, 2})
	in <- []byte{}
	close(in)

	out := audio.ConvertStream(in,
		audio.Format{SampleRate: 16000, Channels: 1},
		audio.Format{SampleRate: 16000, Channels: 2},
	)
	var chunks [][]byte
	for c := range out {
		chunks = append(chunks, c)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1 (empty chunk dropped)", len(chunks))
	}
	if got := audio.BytesToPCM16(chunks[0]); !slices.Equal(got, []int16{1, 1, 2, 2}) {
		t.Errorf("got %v", got)
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 16000, Channels: 1}
	if got := f.SamplesPer(20 * time.Millisecond); got != 320 {
		t.Errorf("SamplesPer(20ms) = %d, want 320", got)
	}
	if got := f.Duration(1600); got != 100*time.Millisecond {
		t.Errorf("Duration(1600) = %v, want 100ms", got)
	}
	if got := f.String(); got != "16000Hz mono" {
		t.Errorf("String() = %q", got)
	}
	if err := (audio.Format{SampleRate: 16000, Channels: 3}).Validate(); err == nil {
		t.Error("Validate should reject 3 channels")
	}
}

func TestEncodeWAV(t *testing.T) {
	t.Parallel()
	pcm := audio.PCM16ToBytes([]int16{1, -1})
	wav := audio.EncodeWAV(pcm, audio.Format{SampleRate: 16000, Channels: 1})
	if len(wav) != 48 {
		t.Fatalf("len = %d, want 48", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Errorf("bad header: %q", wav[:44])
	}
}

func TestDecodeWAV(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 22050, Channels: 2}
	pcm := audio.PCM16ToBytes([]int16{5, -5, 7, -7})

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		got, gotF, err := audio.DecodeWAV(audio.EncodeWAV(pcm, f))
		if err != nil {
			t.Fatalf("DecodeWAV: %v", err)
		}
		if gotF != f || !bytes.Equal(got, pcm) {
			t.Errorf("DecodeWAV = %v %v, want %v %v", got, gotF, pcm, f)
		}
	})

	t.Run("skips extra chunks", func(t *testing.T) {
		t.Parallel()
		wav := audio.EncodeWAV(pcm, f)
		// Splice a LIST chunk with odd size (padded) between fmt and data.
		list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
		spliced := append(append(append([]byte(nil), wav[:36]...), list...), wav[36:]...)
		got, _, err := audio.DecodeWAV(spliced)
		if err != nil || !bytes.Equal(got, pcm) {
			t.Errorf("DecodeWAV = %v, %v", got, err)
		}
	})

	t.Run("unset data size", func(t *testing.T) {
		t.Parallel()
		wav := audio.EncodeWAV(pcm, f)
		binary.LittleEndian.PutUint32(wav[40:44], 0xFFFFFFFF)
		got, _, err := audio.DecodeWAV(wav)
		if err != nil || !bytes.Equal(got, pcm) {
			t.Errorf("DecodeWAV = %v, %v", got, err)
		}
	})

	bad := map[string][]byte{
		"not riff": []byte("hello world, not audio"),
		"no data":  audio.EncodeWAV(nil, f)[:36],
		"float": func() []byte {
			wav := audio.EncodeWAV(pcm, f)
			binary.LittleEndian.PutUint16(wav[20:22], 3)
			return wav
		}(),
	}
	for name, wav := range bad {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := audio.DecodeWAV(wav); err == nil {
				t.Error("expected error")
			}
		})
	}
}
