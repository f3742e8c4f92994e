package session

import "sync/atomic"

// Ticket identifies one request generation.
type Ticket uint64

// Epoch hands out request tickets. Only the latest ticket may commit its
// result; older in-flight results are dropped.
type Epoch struct {
	n atomic.Uint64
}

func (e *Epoch) Begin() Ticket {
	return Ticket(e.n.Add(1))
}

func (e *Epoch) Current(t Ticket) bool {
	return e.n.Load() == uint64(t)
}

// Invalidate makes every outstanding ticket stale.
func (e *Epoch) Invalidate() {
	e.n.Add(1)
}
