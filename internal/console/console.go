// Package console renders the push-to-talk status line: a state glyph,
// the echoed user transcript, streamed assistant text and errors.
//
// The text cursor is hidden between [Console.Start] and [Console.Close] so
// the glyph can be redrawn in place.
package console

import (
	"fmt"
	"io"
	"sync"
)

// Status is the state shown by the glyph.
type Status int

const (
	StatusIdle Status = iota
	StatusRecording
	StatusPlaying
)

// Glyph returns the status glyph.
func (s Status) Glyph() string {
	switch s {
	case StatusRecording:
		return "⏺"
	case StatusPlaying:
		return "▶"
	default:
		return "⏹"
	}
}

func (s Status) String() string {
	switch s {
	case StatusRecording:
		return "recording"
	case StatusPlaying:
		return "playing"
	default:
		return "idle"
	}
}

const (
	hideCursor = "\033[?25l"
	showCursor = "\033[?25h"
	clearLine  = "\r\033[K"
)

// Console writes the status line to out and errors to errw. It is safe for
// concurrent use.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	errw   io.Writer
	status Status

	// inText is true while an assistant reply is being streamed onto the
	// current line.
	inText bool
	closed bool
}

// New returns a console writing to out and errw (usually stdout and stderr).
func New(out, errw io.Writer) *Console {
	return &Console{out: out, errw: errw}
}

// Start hides the cursor, prints the key help and draws the idle glyph.
func (c *Console) Start(help string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, hideCursor)
	if help != "" {
		fmt.Fprintln(c.out, help)
	}
	c.drawLocked()
}

// SetStatus changes the glyph. While a reply is being streamed the new glyph
// is drawn once the reply line ends.
func (c *Console) SetStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == s {
		return
	}
	c.status = s
	if !c.inText && !c.closed {
		c.drawLocked()
	}
}

// Status returns the current status.
func (c *Console) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Transcript echoes the user's recognised speech on its own line.
func (c *Console) Transcript(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.breakLocked()
	fmt.Fprintf(c.out, ">>> %s\n", text)
	c.drawLocked()
}

// Text appends a fragment of the assistant's reply to the current reply line.
func (c *Console) Text(fragment string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || fragment == "" {
		return
	}
	if !c.inText {
		fmt.Fprint(c.out, clearLine)
		c.inText = true
	}
	fmt.Fprint(c.out, fragment)
}

// EndResponse terminates the reply line, if any, and redraws the glyph.
func (c *Console) EndResponse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.breakLocked()
	c.drawLocked()
}

// Error prints err to the error writer on its own line.
func (c *Console) Error(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakLocked()
	fmt.Fprintf(c.errw, "error: %v\n", err)
	if !c.closed {
		c.drawLocked()
	}
}

// Close ends the status line and restores the cursor. Later calls are no-ops.
func (c *Console) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.breakLocked()
	fmt.Fprint(c.out, clearLine+showCursor)
}

// breakLocked moves to a fresh line: a streamed reply is terminated, a bare
// glyph is erased.
func (c *Console) breakLocked() {
	if c.inText {
		fmt.Fprintln(c.out)
		c.inText = false
		return
	}
	fmt.Fprint(c.out, clearLine)
}

func (c *Console) drawLocked() {
	fmt.Fprintf(c.out, "%s%s ", clearLine, c.status.Glyph())
}
