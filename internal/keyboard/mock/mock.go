// Package mock provides a scripted [keyboard.Poller] for tests.
package mock

import (
	"sync"

	"github.com/MrWong99/talkie/internal/keyboard"
)

// Poller is a mock [keyboard.Poller]. Keys queued with Press are returned by
// the next Poll.
type Poller struct {
	mu      sync.Mutex
	pending []keyboard.Key
	polls   int
}

var _ keyboard.Poller = (*Poller)(nil)

// Press queues keys for the next Poll.
func (p *Poller) Press(keys ...keyboard.Key) {
	p.mu.Lock()
	p.pending = append(p.pending, keys...)
	p.mu.Unlock()
}

// Poll implements [keyboard.Poller].
func (p *Poller) Poll() []keyboard.Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	keys := p.pending
	p.pending = nil
	return keys
}

// Polls returns the number of Poll calls.
func (p *Poller) Polls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

// Pending reports whether pressed keys have not been polled yet.
func (p *Poller) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending) > 0
}
