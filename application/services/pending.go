package services

import (
	"context"
	"errors"
	"sync"
)

// ErrRemovedWhilePending is reported when an entity was removed locally before
// the backend confirmed its creation
var ErrRemovedWhilePending = errors.New("removed locally before the backend confirmed it")

// Pending tracks the backend side of an optimistic mutation.
// The local change is already visible when a Pending is handed out.
type Pending struct {
	done      chan struct{}
	once      sync.Once
	serverID  string
	err       error
	duplicate bool
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func resolvedPending(serverID string, err error) *Pending {
	p := newPending()
	p.resolve(serverID, err)
	return p
}

func duplicatePending(existingID string) *Pending {
	p := newPending()
	p.duplicate = true
	p.resolve(existingID, nil)
	return p
}

func (p *Pending) resolve(serverID string, err error) {
	p.once.Do(func() {
		p.serverID = serverID
		p.err = err
		close(p.done)
	})
}

// Done is closed once the backend answered or the mutation was abandoned
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the mutation settles and returns the server-issued id, if any
func (p *Pending) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-p.done:
		return p.serverID, p.err
	}
}

// Duplicate reports that no mutation was issued because an equivalent entity already existed
func (p *Pending) Duplicate() bool {
	return p.duplicate
}
