package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/talkie/internal/capture"
	"github.com/MrWong99/talkie/internal/console"
	"github.com/MrWong99/talkie/internal/keyboard"
	kmock "github.com/MrWong99/talkie/internal/keyboard/mock"
	"github.com/MrWong99/talkie/internal/ptt"
	"github.com/MrWong99/talkie/internal/session"
	"github.com/MrWong99/talkie/pkg/audio"
	amock "github.com/MrWong99/talkie/pkg/audio/mock"
	"github.com/MrWong99/talkie/pkg/audio/playback"
)

var format = audio.Format{SampleRate: 16000, Channels: 1}

// fakeDisplay records everything the loop shows.
type fakeDisplay struct {
	mu          sync.Mutex
	statuses    []console.Status
	transcripts []string
	texts       []string
	errs        []error
	ends        int
}

func (d *fakeDisplay) SetStatus(s console.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := len(d.statuses); n == 0 || d.statuses[n-1] != s {
		d.statuses = append(d.statuses, s)
	}
}

func (d *fakeDisplay) Transcript(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transcripts = append(d.transcripts, text)
}

func (d *fakeDisplay) Text(fragment string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts = append(d.texts, fragment)
}

func (d *fakeDisplay) EndResponse() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ends++
}

func (d *fakeDisplay) Error(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, err)
}

func (d *fakeDisplay) errors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.errs...)
}

func (d *fakeDisplay) transcriptsCopy() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.transcripts...)
}

func (d *fakeDisplay) sawStatus(s console.Status) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, got := range d.statuses {
		if got == s {
			return true
		}
	}
	return false
}

// harness wires real core components to mock hardware and keys.
type harness struct {
	dev     *amock.Device
	keys    *kmock.Poller
	machine *ptt.Machine
	player  *playback.Scheduler
	display *fakeDisplay
}

func newHarness(t *testing.T, sink capture.Sink) (*harness, session.Deps) {
	t.Helper()
	h := &harness{
		dev:     &amock.Device{},
		keys:    &kmock.Poller{},
		machine: ptt.New(),
		player:  playback.New(),
		display: &fakeDisplay{},
	}
	rec := capture.NewRecorder(h.machine, sink)
	capStream, err := h.dev.OpenCapture(format, 320, rec.OnFrame)
	if err != nil {
		t.Fatalf("OpenCapture: %v", err)
	}
	pbStream, err := h.dev.OpenPlayback(format, 480, func(out []int16) { h.player.Read(out) })
	if err != nil {
		t.Fatalf("OpenPlayback: %v", err)
	}
	return h, session.Deps{
		Keys:     h.keys,
		Machine:  h.machine,
		Player:   h.player,
		Display:  h.display,
		Capture:  capStream,
		Playback: pbStream,
	}
}

// run starts l in the background and waits until the audio streams run.
func (h *harness) run(t *testing.T, ctx context.Context, l *session.Loop) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	waitFor(t, "capture stream running", func() bool {
		return h.dev.Capture != nil && h.dev.Capture.Running()
	})
	return errc
}

// toggle presses the toggle key and waits until the machine reaches want.
func (h *harness) toggle(t *testing.T, want ptt.State) {
	t.Helper()
	h.keys.Press(keyboard.KeyToggle)
	waitFor(t, "state "+want.String(), func() bool { return h.machine.State() == want })
}

// quit presses the quit key and returns Run's result.
func (h *harness) quit(t *testing.T, errc <-chan error) error {
	t.Helper()
	h.keys.Press(keyboard.KeyQuit)
	return waitErr(t, errc)
}

// idlePolls waits until the loop polled the keyboard n more times.
func (h *harness) idlePolls(t *testing.T, n int) {
	t.Helper()
	target := h.keys.Polls() + n
	waitFor(t, "loop polls", func() bool { return h.keys.Polls() >= target })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func ramp(start, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(start + i)
	}
	return out
}

// indexOf returns the position of call in calls, or -1.
func indexOf(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}
