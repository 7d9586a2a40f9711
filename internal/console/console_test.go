package console_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/talkie/internal/console"
)

func TestConsole_CursorHiddenAndRestored(t *testing.T) {
	t.Parallel()
	var out, errw bytes.Buffer
	c := console.New(&out, &errw)
	c.Start("press r to talk, q to quit")
	c.Close()
	c.Close()

	s := out.String()
	if !strings.HasPrefix(s, "\033[?25l") {
		t.Errorf("output does not start with hide-cursor: %q", s)
	}
	if !strings.HasSuffix(s, "\033[?25h") {
		t.Errorf("output does not end with show-cursor: %q", s)
	}
	if strings.Count(s, "\033[?25h") != 1 {
		t.Errorf("cursor restored more than once: %q", s)
	}
	if !strings.Contains(s, "press r to talk, q to quit\n") {
		t.Errorf("help missing: %q", s)
	}
}

func TestConsole_StatusGlyphs(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	c := console.New(&out, &out)
	c.Start("")
	c.SetStatus(console.StatusRecording)
	c.SetStatus(console.StatusRecording) // no redraw
	c.SetStatus(console.StatusPlaying)
	c.SetStatus(console.StatusIdle)

	s := out.String()
	for _, g := range []string{"⏹", "⏺", "▶"} {
		if !strings.Contains(s, g) {
			t.Errorf("glyph %s not drawn: %q", g, s)
		}
	}
	if n := strings.Count(s, "⏺"); n != 1 {
		t.Errorf("recording glyph drawn %d times, want 1", n)
	}
}

func TestConsole_TranscriptAndText(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	c := console.New(&out, &out)
	c.Transcript("what time is it")
	c.Text("It is ")
	c.Text("noon.")
	c.EndResponse()

	s := out.String()
	if !strings.Contains(s, ">>> what time is it\n") {
		t.Errorf("transcript echo missing: %q", s)
	}
	if !strings.Contains(s, "It is noon.\n") {
		t.Errorf("reply text not streamed onto one line: %q", s)
	}
}

func TestConsole_StatusDeferredDuringText(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	c := console.New(&out, &out)
	c.Text("hello")
	before := out.Len()
	c.SetStatus(console.StatusPlaying)
	if out.Len() != before {
		t.Errorf("status redrawn in the middle of a reply: %q", out.String()[before:])
	}
	c.EndResponse()
	if !strings.HasSuffix(out.String(), "▶ ") {
		t.Errorf("status not drawn after reply: %q", out.String())
	}
}

func TestConsole_ErrorGoesToErrWriter(t *testing.T) {
	t.Parallel()
	var out, errw bytes.Buffer
	c := console.New(&out, &errw)
	c.Error(errors.New("pipeline down"))
	if got := errw.String(); got != "error: pipeline down\n" {
		t.Errorf("stderr = %q", got)
	}
	if strings.Contains(out.String(), "pipeline down") {
		t.Error("error written to stdout")
	}
}
