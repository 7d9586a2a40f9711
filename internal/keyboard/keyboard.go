// Package keyboard is the keyboard gate: a non-blocking poll that turns raw
// terminal key presses into push-to-talk commands.
//
// Only two commands exist, [KeyToggle] and [KeyQuit]; every other key is
// ignored. [Terminal] reads keys from the controlling terminal in raw mode via
// github.com/eiannone/keyboard.
package keyboard

import (
	"fmt"
	"log/slog"
	"sync"
	"unicode"

	kb "github.com/eiannone/keyboard"
)

// Key is a recognised command key.
type Key int

const (
	// KeyToggle flips the push-to-talk state.
	KeyToggle Key = iota + 1
	// KeyQuit terminates the session.
	KeyQuit
)

func (k Key) String() string {
	switch k {
	case KeyToggle:
		return "toggle"
	case KeyQuit:
		return "quit"
	default:
		return "none"
	}
}

// Poller returns the command keys pressed since the previous call. Poll must
// never block.
type Poller interface {
	Poll() []Key
}

// Keymap binds runes to commands. Matching is case-insensitive. Esc and
// Ctrl+C always quit, since raw mode swallows the interrupt signal.
type Keymap struct {
	Toggle rune
	Quit   rune
}

// DefaultKeymap binds r to toggle and q to quit.
var DefaultKeymap = Keymap{Toggle: 'r', Quit: 'q'}

// Lookup maps one terminal key event to a command. ok is false for keys that
// are not bound.
func (m Keymap) Lookup(ch rune, key kb.Key) (Key, bool) {
	switch key {
	case kb.KeyEsc, kb.KeyCtrlC:
		return KeyQuit, true
	case kb.KeySpace:
		ch = ' '
	}
	if ch == 0 {
		return 0, false
	}
	switch unicode.ToLower(ch) {
	case unicode.ToLower(m.Toggle):
		return KeyToggle, true
	case unicode.ToLower(m.Quit):
		return KeyQuit, true
	}
	return 0, false
}

// Help returns the one-line key help shown in the status line.
func (m Keymap) Help() string {
	return fmt.Sprintf("press %s to talk, %s to quit", keyName(m.Toggle), keyName(m.Quit))
}

func keyName(r rune) string {
	if r == ' ' {
		return "space"
	}
	return string(r)
}

// Terminal is a [Poller] reading from the controlling terminal.
type Terminal struct {
	events  <-chan kb.KeyEvent
	keymap  Keymap
	closeFn func() error
	once    sync.Once
}

var _ Poller = (*Terminal)(nil)

// Open puts the terminal into raw mode and starts reading keys. Call
// [Terminal.Close] to restore the terminal.
func Open(km Keymap) (*Terminal, error) {
	ch, err := kb.GetKeys(16)
	if err != nil {
		return nil, fmt.Errorf("keyboard: open terminal: %w", err)
	}
	return &Terminal{events: ch, keymap: km, closeFn: kb.Close}, nil
}

// Poll implements [Poller]. It drains every pending key event without
// blocking.
func (t *Terminal) Poll() []Key {
	var keys []Key
	for {
		select {
		case ev, ok := <-t.events:
			if !ok {
				return keys
			}
			if ev.Err != nil {
				slog.Warn("keyboard: read error", "err", ev.Err)
				continue
			}
			if k, ok := t.keymap.Lookup(ev.Rune, ev.Key); ok {
				keys = append(keys, k)
			}
		default:
			return keys
		}
	}
}

// Close restores the terminal. It is safe to call more than once.
func (t *Terminal) Close() error {
	var err error
	t.once.Do(func() {
		if t.closeFn != nil {
			err = t.closeFn()
		}
	})
	return err
}
