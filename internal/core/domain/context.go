package domain

import (
	"context"
	"sync"
)

// Registrations records which declarations were made on the daemon so leave
// can undo exactly those.
type Registrations struct {
	DomainReported    bool
	VLANJoined        bool
	Advertised        bool
	ListenerReadySent bool
}

// ContextView is a consistent copy of the mutable StreamContext fields.
type ContextView struct {
	State          StreamState
	Domain         DomainAttribute
	DomainAccepted bool
	ClassA         *DomainAttribute
	ClassB         *DomainAttribute
	TalkerReady    bool
	ListenerReady  bool
	DestMAC        MAC
	Rejected       error
	Registrations  Registrations
}

// StreamContext is the per-session stream state shared between the MRP
// monitor goroutine and the session goroutine. Every mutation wakes all
// waiters by closing and replacing the changed channel.
type StreamContext struct {
	StreamID StreamID
	Role     Role

	mu      sync.Mutex
	view    ContextView
	changed chan struct{}
}

func NewStreamContext(id StreamID, role Role, dest MAC) *StreamContext {
	return &StreamContext{
		StreamID: id,
		Role:     role,
		view:     ContextView{DestMAC: dest},
		changed:  make(chan struct{}),
	}
}

// View returns a snapshot.
func (c *StreamContext) View() ContextView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *StreamContext) State() StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.State
}

// Update applies fn under the lock and wakes waiters.
func (c *StreamContext) Update(fn func(v *ContextView)) {
	c.mu.Lock()
	fn(&c.view)
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

func (c *StreamContext) SetState(s StreamState) {
	c.Update(func(v *ContextView) { v.State = s })
}

// ResetHandshake clears everything learned from a previous connection. The
// configured destination MAC survives unless it was learned from the talker.
func (c *StreamContext) ResetHandshake(dest MAC) {
	c.Update(func(v *ContextView) {
		*v = ContextView{State: StateIdle, DestMAC: dest}
	})
}

// WaitFor blocks until pred holds for the current view or ctx is done.
func (c *StreamContext) WaitFor(ctx context.Context, pred func(v ContextView) bool) (ContextView, error) {
	for {
		c.mu.Lock()
		v, ch := c.view, c.changed
		c.mu.Unlock()

		if pred(v) {
			return v, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return v, ctx.Err()
		}
	}
}
