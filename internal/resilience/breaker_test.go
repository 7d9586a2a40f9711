package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

// fakeClock is a manually advanced time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int, reset time.Duration) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	b := NewBreaker("test", BreakerConfig{MaxFailures: maxFailures, ResetTimeout: reset})
	b.now = clk.now
	return b, clk
}

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		if err := b.Do(fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	if s := b.State(); s != StateClosed {
		t.Fatalf("state after 2 failures = %v, want closed", s)
	}
	_ = b.Do(fail)
	if s := b.State(); s != StateOpen {
		t.Fatalf("state after 3 failures = %v, want open", s)
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open breaker: err = %v, called = %v", err, called)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(2, time.Minute)

	_ = b.Do(fail)
	_ = b.Do(succeed)
	_ = b.Do(fail)
	if s := b.State(); s != StateClosed {
		t.Errorf("state = %v, want closed", s)
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		probe func() error
		want  State
	}{
		{name: "probe succeeds", probe: succeed, want: StateClosed},
		{name: "probe fails", probe: fail, want: StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, clk := newTestBreaker(1, 10*time.Second)
			_ = b.Do(fail)

			clk.advance(10 * time.Second)
			if s := b.State(); s != StateHalfOpen {
				t.Fatalf("state after timeout = %v, want half-open", s)
			}
			_ = b.Do(tt.probe)
			if s := b.State(); s != tt.want {
				t.Errorf("state after probe = %v, want %v", s, tt.want)
			}
		})
	}
}

func TestBreaker_SingleProbe(t *testing.T) {
	t.Parallel()
	b, clk := newTestBreaker(1, time.Second)
	_ = b.Do(fail)
	clk.advance(time.Second)

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error { <-release; return nil })
	}()

	// Wait until the probe is admitted.
	deadline := time.Now().Add(2 * time.Second)
	for {
		b.mu.Lock()
		probing := b.probing
		b.mu.Unlock()
		if probing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("probe never admitted")
		}
		time.Sleep(time.Millisecond)
	}

	if err := b.Do(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second call during probe = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if s := b.State(); s != StateClosed {
		t.Errorf("state = %v, want closed", s)
	}
}

func TestBreaker_CancellationIsNeutral(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(1, time.Minute)

	err := b.Do(func() error { return context.Canceled })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if s := b.State(); s != StateClosed {
		t.Errorf("state = %v, want closed", s)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
