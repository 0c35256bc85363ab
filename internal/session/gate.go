package session

import "sync"

// State is the initialization progress of the session.
type State int

const (
	// Uninitialized means the identity provider has not reported yet.
	Uninitialized State = iota
	// Settled means the first provider notification has been processed.
	Settled
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Settled:
		return "settled"
	default:
		return "unknown"
	}
}

// Gate is a one-shot latch released when the first identity notification is
// processed. Any number of goroutines may wait on it; once released it stays
// released for the life of the process.
type Gate struct {
	once sync.Once
	done chan struct{}
}

// NewGate returns an unsettled gate.
func NewGate() *Gate {
	return &Gate{done: make(chan struct{})}
}

// Wait blocks until the gate settles. It has no timeout.
func (g *Gate) Wait() {
	<-g.done
}

// Done returns a channel closed on settlement, for callers that also need to
// watch a context.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Settled reports whether the gate has been released.
func (g *Gate) Settled() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// State returns Settled once released, Uninitialized before.
func (g *Gate) State() State {
	if g.Settled() {
		return Settled
	}
	return Uninitialized
}

// settle releases the gate. Only the first call has an effect, and only that
// call returns true.
func (g *Gate) settle() bool {
	settled := false
	g.once.Do(func() {
		close(g.done)
		settled = true
	})
	return settled
}
