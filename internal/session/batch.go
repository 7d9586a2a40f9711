package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/talkie/internal/capture"
	"github.com/MrWong99/talkie/internal/observe"
	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/pipeline"
)

// NewBatch returns a loop that runs one pipeline turn per utterance. Frames
// are accumulated in buf while recording; on the stop edge buf is finalised
// and, unless empty, handed to runner.
func NewBatch(deps Deps, buf *capture.Buffer, runner pipeline.TurnRunner, opts ...Option) (*Loop, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if buf == nil || runner == nil {
		return nil, errors.New("session: batch mode needs a capture buffer and a turn runner")
	}
	l := newLoop(deps, opts)
	l.drv = &batchDriver{loop: l, buf: buf, runner: runner}
	return l, nil
}

// batchDriver runs at most one turn at a time. A turn runs in its own
// goroutine so the control loop keeps polling keys while a response plays.
type batchDriver struct {
	loop   *Loop
	buf    *capture.Buffer
	runner pipeline.TurnRunner

	base context.Context

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (b *batchDriver) mode() string { return "batch" }

func (b *batchDriver) start(ctx context.Context) error {
	b.base = ctx
	return nil
}

// startEdge preempts the previous turn: it is cancelled and awaited, so no
// audio from it can reach the player after the loop flushes.
func (b *batchDriver) startEdge(context.Context) {
	b.cancelTurn()
	b.buf.Reset()
}

func (b *batchDriver) stopEdge(context.Context) {
	samples := b.buf.Finalize()
	if len(samples) == 0 {
		slog.Debug("session: empty utterance, nothing to send")
		return
	}
	b.cancelTurn()

	ctx, cancel := context.WithCancel(b.base)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()
		b.runTurn(ctx, samples)
	}()
}

func (b *batchDriver) runTurn(ctx context.Context, samples []int16) {
	l := b.loop
	ctx, span := observe.StartSpan(ctx, "session.turn",
		trace.WithAttributes(attribute.Int("samples", len(samples))),
	)
	defer span.End()
	start := time.Now()

	err := b.drain(ctx, samples)
	l.deps.Player.EndResponse()
	l.deps.Display.EndResponse()

	switch {
	case err == nil:
		l.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("mode", b.mode())))
	case errors.Is(err, context.Canceled):
		observe.Logger(ctx).Debug("session: turn cancelled")
	default:
		observe.Fail(span, err)
		l.reportError(ctx, "turn", err)
	}
}

// drain runs the turn and forwards its events until the stream ends or ctx
// is cancelled.
func (b *batchDriver) drain(ctx context.Context, samples []int16) error {
	res, err := b.runner.RunTurn(ctx, samples)
	if err != nil {
		return fmt.Errorf("session: run turn: %w", err)
	}
	events := res.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if err := res.Err(); err != nil {
					return fmt.Errorf("session: turn: %w", err)
				}
				return nil
			}
			b.loop.dispatch(ev)
		case <-ctx.Done():
			go audio.Drain(events)
			return ctx.Err()
		}
	}
}

// cancelTurn cancels the in-flight turn, if any, and waits for it.
func (b *batchDriver) cancelTurn() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}

func (b *batchDriver) done() <-chan struct{} { return nil }

func (b *batchDriver) stop() error {
	b.cancelTurn()
	return nil
}

// release is a no-op: a batch turn holds no session beyond its own lifetime.
func (b *batchDriver) release() error { return nil }
