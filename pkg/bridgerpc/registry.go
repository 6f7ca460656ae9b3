package bridgerpc

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed is returned to callers whose pending call was abandoned because
// the connection to the host went away.
var ErrClosed = errors.New("bridge connection closed")

type outcome struct {
	result ChatResult
	err    error
}

// PendingCall is an in-flight call awaiting its response.
type PendingCall struct {
	id   string
	reg  *Registry
	done chan outcome
}

func (c *PendingCall) ID() string {
	return c.id
}

// Wait blocks until the call is resolved or rejected. If ctx ends first the
// call is forgotten and a late response for it is dropped.
func (c *PendingCall) Wait(ctx context.Context) (ChatResult, error) {
	select {
	case out := <-c.done:
		return out.result, out.err
	case <-ctx.Done():
		c.reg.Forget(c.id)
		return ChatResult{}, ctx.Err()
	}
}

// Registry tracks in-flight calls by correlation ID. Each ID settles at most
// once; resolving or rejecting an unknown ID is a no-op.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*PendingCall
}

func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]*PendingCall)}
}

// Issue registers a new call under a fresh ID.
func (r *Registry) Issue() (string, *PendingCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	for r.pending[id] != nil {
		id = uuid.NewString()
	}
	call := &PendingCall{id: id, reg: r, done: make(chan outcome, 1)}
	r.pending[id] = call
	return id, call
}

// Resolve completes the call with id successfully. It reports whether a
// pending call was found.
func (r *Registry) Resolve(id string, result ChatResult) bool {
	return r.settle(id, outcome{result: result})
}

// Reject completes the call with id with an error.
func (r *Registry) Reject(id string, err error) bool {
	if err == nil {
		err = errors.New("call rejected")
	}
	return r.settle(id, outcome{err: err})
}

// Forget drops the call with id without settling it.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// RejectAll rejects every outstanding call, typically on disconnect.
func (r *Registry) RejectAll(err error) int {
	r.mu.Lock()
	calls := r.pending
	r.pending = make(map[string]*PendingCall)
	r.mu.Unlock()
	for _, call := range calls {
		call.done <- outcome{err: err}
	}
	return len(calls)
}

// Pending returns the number of outstanding calls.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) settle(id string, out outcome) bool {
	r.mu.Lock()
	call, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	// Buffered and removed under the lock, so this never blocks.
	call.done <- out
	return true
}
