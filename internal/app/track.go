package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/talkie/internal/health"
	"github.com/MrWong99/talkie/pkg/audio"
	"github.com/MrWong99/talkie/pkg/pipeline"
)

// ── audio readiness ──────────────────────────────────────────────────────────

// streamSet reports audio ready while every tracked stream is running.
type streamSet struct {
	ready *health.Condition

	mu      sync.Mutex
	total   int
	running map[string]bool
}

func (s *streamSet) track(name string, st audio.Stream) audio.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		s.running = make(map[string]bool)
	}
	s.total++
	return &trackedStream{Stream: st, name: name, set: s}
}

func (s *streamSet) set(name string, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = running
	n := 0
	for _, r := range s.running {
		if r {
			n++
		}
	}
	if n == s.total {
		s.ready.Ready()
		return
	}
	for stream, r := range s.running {
		if !r {
			s.ready.NotReady(stream + " stream stopped")
			return
		}
	}
	s.ready.NotReady("not started")
}

type trackedStream struct {
	audio.Stream
	name string
	set  *streamSet
}

func (t *trackedStream) Start() error {
	if err := t.Stream.Start(); err != nil {
		return err
	}
	t.set.set(t.name, true)
	return nil
}

func (t *trackedStream) Stop() error {
	t.set.set(t.name, false)
	return t.Stream.Stop()
}

// ── pipeline readiness ───────────────────────────────────────────────────────

// trackedDuplex reports the pipeline ready while a session is open.
type trackedDuplex struct {
	pipeline.Duplex
	ready *health.Condition
}

func (d *trackedDuplex) Open(ctx context.Context) (pipeline.Session, error) {
	sess, err := d.Duplex.Open(ctx)
	if err != nil {
		d.ready.NotReady(fmt.Sprintf("open failed: %v", err))
		return nil, err
	}
	d.ready.Ready()
	return &trackedSession{Session: sess, ready: d.ready}, nil
}

// trackedSession forwards the optional commit and interrupt capabilities of
// the wrapped session.
type trackedSession struct {
	pipeline.Session
	ready *health.Condition
}

func (s *trackedSession) Commit(ctx context.Context) error {
	if c, ok := s.Session.(pipeline.Committer); ok {
		return c.Commit(ctx)
	}
	return nil
}

func (s *trackedSession) Interrupt(ctx context.Context) error {
	if i, ok := s.Session.(pipeline.Interrupter); ok {
		return i.Interrupt(ctx)
	}
	return nil
}

func (s *trackedSession) Close() error {
	s.ready.NotReady("session closed")
	return s.Session.Close()
}
