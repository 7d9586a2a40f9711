// Package ptt implements the push-to-talk state machine that gates
// microphone capture.
//
// The machine has two states, [Idle] and [Recording], and flips between them
// on [Machine.Toggle]. [Machine.Quit] is terminal. The recording flag is a
// single atomic word so the hardware capture callback can read it without
// locking; streaming senders block in [Machine.WaitOpen] instead of polling it.
package ptt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by [Machine.WaitOpen] once [Machine.Quit] was called.
var ErrClosed = errors.New("ptt: machine closed")

// State is the push-to-talk state.
type State int

const (
	// Idle means captured frames are discarded.
	Idle State = iota
	// Recording means captured frames are retained (batch) or forwarded
	// (streaming).
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// Machine is the push-to-talk state machine. Create one with [New].
//
// Toggle and Quit are called from the control goroutine only. Recording is
// safe from any context, including the hardware callback. WaitOpen and Done
// are safe from any goroutine.
type Machine struct {
	recording atomic.Bool

	mu     sync.Mutex
	opened chan struct{} // closed while recording
	quit   chan struct{}
	closed bool
}

// New returns a machine in the [Idle] state.
func New() *Machine {
	return &Machine{
		opened: make(chan struct{}),
		quit:   make(chan struct{}),
	}
}

// Toggle flips the state and returns the new one. After Quit it is a no-op
// returning [Idle].
func (m *Machine) Toggle() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Idle
	}
	if m.recording.Load() {
		m.recording.Store(false)
		m.opened = make(chan struct{})
		return Idle
	}
	m.recording.Store(true)
	close(m.opened)
	return Recording
}

// Quit moves the machine to its terminal state: the gate is forced shut, no
// later Toggle can open it, and all WaitOpen callers return [ErrClosed].
// It returns the state the machine was in. Quit is idempotent.
func (m *Machine) Quit() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state()
	if m.closed {
		return prev
	}
	m.closed = true
	m.recording.Store(false)
	close(m.quit)
	return prev
}

// Recording reports whether the gate is open. It is a single atomic load.
func (m *Machine) Recording() bool { return m.recording.Load() }

// State returns the current state.
func (m *Machine) State() State {
	return m.state()
}

func (m *Machine) state() State {
	if m.recording.Load() {
		return Recording
	}
	return Idle
}

// Done returns a channel that is closed by Quit.
func (m *Machine) Done() <-chan struct{} { return m.quit }

// Closed reports whether Quit was called.
func (m *Machine) Closed() bool {
	select {
	case <-m.quit:
		return true
	default:
		return false
	}
}

// WaitOpen blocks until the gate is open. It returns [ErrClosed] after Quit
// and ctx.Err() when ctx is done.
func (m *Machine) WaitOpen(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	opened := m.opened
	m.mu.Unlock()

	select {
	case <-opened:
		return nil
	case <-m.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
