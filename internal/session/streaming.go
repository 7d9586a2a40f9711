package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/talkie/internal/capture"
	"github.com/MrWong99/talkie/internal/observe"
	"github.com/MrWong99/talkie/internal/ptt"
	"github.com/MrWong99/talkie/pkg/pipeline"
)

// errSessionEnded is returned when the pipeline closed its event stream
// without reporting an error and without being asked to.
var errSessionEnded = errors.New("session: pipeline ended the session")

// NewStreaming returns a loop that keeps one duplex session open for its
// whole lifetime. While the gate is open the sender forwards chunkSamples-sized
// chunks from stream; the receiver drains the session's events.
func NewStreaming(deps Deps, stream *capture.Stream, duplex pipeline.Duplex, chunkSamples int, opts ...Option) (*Loop, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if stream == nil || duplex == nil {
		return nil, errors.New("session: streaming mode needs a capture stream and a duplex pipeline")
	}
	if chunkSamples <= 0 {
		return nil, fmt.Errorf("session: invalid send chunk size %d", chunkSamples)
	}
	l := newLoop(deps, opts)
	l.drv = &streamingDriver{
		loop:     l,
		stream:   stream,
		duplex:   duplex,
		chunk:    chunkSamples,
		finished: make(chan struct{}),
	}
	return l, nil
}

type streamingDriver struct {
	loop   *Loop
	stream *capture.Stream
	duplex pipeline.Duplex
	chunk  int

	sess    pipeline.Session
	cancel  context.CancelFunc
	started bool

	// finished is closed once sender and receiver have both returned; err
	// holds the first error either reported.
	finished chan struct{}
	err      error

	releaseOnce sync.Once
	releaseErr  error
}

func (s *streamingDriver) mode() string { return "streaming" }

func (s *streamingDriver) start(ctx context.Context) error {
	sess, err := s.duplex.Open(ctx)
	if err != nil {
		s.loop.metrics.RecordPipelineError(ctx, s.mode(), "open")
		return fmt.Errorf("session: open pipeline: %w", err)
	}
	s.sess = sess
	s.loop.metrics.ActiveSessions.Add(ctx, 1)

	gctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	g, gctx := errgroup.WithContext(gctx)
	g.Go(func() error { return s.send(gctx) })
	g.Go(func() error { return s.receive(gctx) })
	s.started = true
	go func() {
		s.err = g.Wait()
		close(s.finished)
	}()
	return nil
}

// send forwards captured audio while the gate is open. At the end of each
// utterance it flushes the partial chunk and commits the turn. Utterances
// that ended while the sender was still busy are sent before it waits for
// the gate again.
func (s *streamingDriver) send(ctx context.Context) error {
	for {
		if err := s.waitUtterance(ctx); err != nil {
			if errors.Is(err, ptt.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := s.sendUtterance(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.loop.reportError(ctx, "send", err)
			return err
		}
	}
}

// waitUtterance returns once the gate is open or an ended utterance is
// queued.
func (s *streamingDriver) waitUtterance(ctx context.Context) error {
	pending, ended := s.stream.Pending()
	if pending > 0 {
		return nil
	}
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ended:
			cancel()
		case <-wctx.Done():
		}
	}()
	err := s.loop.deps.Machine.WaitOpen(wctx)
	if err != nil && ctx.Err() == nil && wctx.Err() != nil {
		return nil
	}
	return err
}

func (s *streamingDriver) sendUtterance(ctx context.Context) error {
	sent := false
	for {
		chunk, readErr := s.stream.ReadChunk(ctx, s.chunk)
		if len(chunk) > 0 {
			if err := s.sess.Send(ctx, chunk); err != nil {
				return fmt.Errorf("session: send audio: %w", err)
			}
			sent = true
		}
		switch {
		case errors.Is(readErr, capture.ErrUtteranceEnd):
			if !sent {
				return nil
			}
			if c, ok := s.sess.(pipeline.Committer); ok {
				if err := c.Commit(ctx); err != nil {
					return fmt.Errorf("session: commit utterance: %w", err)
				}
			}
			return nil
		case readErr != nil:
			return readErr
		}
	}
}

// receive drains the session's events into the player and display.
func (s *streamingDriver) receive(ctx context.Context) error {
	events := s.sess.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				err := s.sess.Err()
				if err == nil {
					err = errSessionEnded
				}
				s.loop.reportError(ctx, "receive", err)
				return fmt.Errorf("session: receive: %w", err)
			}
			s.loop.dispatch(ev)
		}
	}
}

// startEdge drops stray samples left behind the last utterance and asks the
// pipeline to stop the response that is still being generated, so its audio
// does not resume after the flush.
func (s *streamingDriver) startEdge(ctx context.Context) {
	// Frames that raced the previous stop edge belong to no utterance.
	s.stream.Reset()
	if i, ok := s.sess.(pipeline.Interrupter); ok {
		if err := i.Interrupt(ctx); err != nil {
			slog.Debug("session: interrupt response", "err", err)
		}
	}
}

func (s *streamingDriver) stopEdge(context.Context) {
	s.stream.EndUtterance()
}

func (s *streamingDriver) done() <-chan struct{} {
	if !s.started {
		return nil
	}
	return s.finished
}

func (s *streamingDriver) stop() error {
	if !s.started {
		return nil
	}
	s.cancel()
	<-s.finished
	return s.err
}

func (s *streamingDriver) release() error {
	s.releaseOnce.Do(func() {
		if s.sess == nil {
			return
		}
		s.releaseErr = s.sess.Close()
		s.loop.metrics.ActiveSessions.Add(context.Background(), -1)
		observe.Logger(context.Background()).Debug("session: pipeline session closed")
	})
	return s.releaseErr
}
