package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// EncodeWAV wraps PCM16 samples in a canonical 44-byte RIFF/WAVE header.
// Speech-to-text endpoints that take a file upload expect this container.
func EncodeWAV(pcm []byte, f Format) []byte {
	const bitsPerSample = 16
	blockAlign := f.Channels * bitsPerSample / 8
	buf := make([]byte, 44+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// DecodeWAV returns the PCM16 payload of a RIFF/WAVE file and its format.
// Chunks other than "fmt " and "data" are skipped. Only 16-bit integer PCM
// is accepted.
func DecodeWAV(wav []byte) ([]byte, Format, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, Format{}, errors.New("audio: not a RIFF/WAVE file")
	}
	var (
		f       Format
		haveFmt bool
	)
	rest := wav[12:]
	for len(rest) >= 8 {
		id := string(rest[0:4])
		body := rest[8:]
		size := len(body)
		// Streaming encoders leave the data size unset; take what is there.
		if n := binary.LittleEndian.Uint32(rest[4:8]); uint64(n) < uint64(size) {
			size = int(n)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, errors.New("audio: short fmt chunk")
			}
			if tag := binary.LittleEndian.Uint16(body[0:2]); tag != 1 {
				return nil, Format{}, fmt.Errorf("audio: unsupported WAV encoding %d", tag)
			}
			if bits := binary.LittleEndian.Uint16(body[14:16]); bits != 16 {
				return nil, Format{}, fmt.Errorf("audio: unsupported WAV sample size %d bits", bits)
			}
			f = Format{
				Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, errors.New("audio: WAV data before fmt chunk")
			}
			if err := f.Validate(); err != nil {
				return nil, Format{}, err
			}
			return body[:size], f, nil
		}
		// Chunks are padded to an even size.
		next := 8 + size + size%2
		if next > len(rest) {
			break
		}
		rest = rest[next:]
	}
	return nil, Format{}, errors.New("audio: WAV has no data chunk")
}
