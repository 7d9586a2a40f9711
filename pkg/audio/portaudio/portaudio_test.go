package portaudio

import (
	"testing"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/talkie/pkg/audio"
)

func TestCaptureStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		flags pa.StreamCallbackFlags
		want  audio.CaptureStatus
	}{
		{"clean", 0, 0},
		{"overflow", pa.InputOverflow, audio.StatusInputOverflow},
		{"underflow", pa.InputUnderflow, audio.StatusInputUnderflow},
		{"both", pa.InputOverflow | pa.InputUnderflow, audio.StatusInputOverflow | audio.StatusInputUnderflow},
		{"output flags ignored", pa.OutputUnderflow | pa.PrimingOutput, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := captureStatus(tt.flags); got != tt.want {
				t.Errorf("captureStatus(%v) = %v, want %v", tt.flags, got, tt.want)
			}
		})
	}
}
