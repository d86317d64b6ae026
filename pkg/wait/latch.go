package wait

import "sync"

// Latch is a sticky, one-way event: once Set, it stays signalled and every
// observer sees the same terminal status. Used for worker shutdown and
// process termination signals.
type Latch struct {
	mu   sync.Mutex
	ch   chan struct{}
	err  error
	done bool
}

// NewLatch creates an unsignalled latch.
func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// Set signals the latch with a terminal status. Only the first Set takes;
// it returns false if the latch was already signalled.
func (l *Latch) Set(err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return false
	}
	l.done = true
	l.err = err
	close(l.ch)
	return true
}

// Done returns a channel closed once the latch is set. Unlike Event, a
// receive does not reset anything.
func (l *Latch) Done() <-chan struct{} {
	return l.ch
}

// Err returns the terminal status, or nil if the latch has not fired.
func (l *Latch) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// IsSet reports whether the latch has fired.
func (l *Latch) IsSet() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Wait blocks until the latch fires and returns its terminal status.
func (l *Latch) Wait() error {
	<-l.ch
	return l.Err()
}

var _ Source = (*Latch)(nil)
