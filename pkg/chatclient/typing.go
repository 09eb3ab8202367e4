package chatclient

import (
	"sync"
	"time"
)

// DefaultTypingQuiet is how long after the last keystroke the typing
// indicator is withdrawn.
const DefaultTypingQuiet = 3 * time.Second

// TypingNotifier is the per-session typing state machine. Activity while idle
// emits one start notification and arms the quiet timer; further activity
// only rearms it. The quiet timer firing, an explicit Stop or Close emits
// exactly one stop notification per typing episode.
type TypingNotifier struct {
	mu     sync.Mutex
	quiet  time.Duration
	timer  *time.Timer
	active bool
	closed bool

	start func()
	stop  func()
}

func NewTypingNotifier(quiet time.Duration, start, stop func()) *TypingNotifier {
	if quiet <= 0 {
		quiet = DefaultTypingQuiet
	}
	return &TypingNotifier{quiet: quiet, start: start, stop: stop}
}

// Activity records a keystroke or other compose action.
func (n *TypingNotifier) Activity() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	wasIdle := !n.active
	n.active = true
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.quiet, n.quietExpired)
	n.mu.Unlock()

	if wasIdle && n.start != nil {
		n.start()
	}
}

// Stop ends the typing episode immediately, e.g. when the message is sent.
func (n *TypingNotifier) Stop() {
	if n.disarm() && n.stop != nil {
		n.stop()
	}
}

// Close shuts the notifier down; an in-flight episode is stopped first.
// Activity after Close is ignored.
func (n *TypingNotifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	wasActive := n.active
	n.active = false
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.mu.Unlock()

	if wasActive && n.stop != nil {
		n.stop()
	}
}

func (n *TypingNotifier) quietExpired() {
	if n.disarm() && n.stop != nil {
		n.stop()
	}
}

// disarm moves Typing -> Idle, reporting whether a stop should be emitted.
func (n *TypingNotifier) disarm() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || !n.active {
		return false
	}
	n.active = false
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	return true
}
