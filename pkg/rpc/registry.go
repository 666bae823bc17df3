package rpc

import (
	"sync"
	"time"
)

type result struct {
	body []byte
	err  error
}

// pendingCall is an invocation waiting for its reply. done receives exactly
// one result, sent by whoever removes the call from the registry.
type pendingCall struct {
	correlationID string
	createdAt     time.Time
	deadline      time.Time
	done          chan result
}

// registry maps correlation ids to pending calls. Inserts come from
// Invoke; removals race between the reply consumer, the deadline and
// transport loss, and only the first one wins.
type registry struct {
	mu    sync.Mutex
	calls map[string]*pendingCall
}

func newRegistry() *registry {
	return &registry{calls: make(map[string]*pendingCall)}
}

func (r *registry) add(correlationID string, timeout time.Duration) (*pendingCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.calls[correlationID]; ok {
		return nil, ErrDuplicateCall
	}

	now := time.Now()
	call := &pendingCall{
		correlationID: correlationID,
		createdAt:     now,
		deadline:      now.Add(timeout),
		done:          make(chan result, 1),
	}
	r.calls[correlationID] = call
	return call, nil
}

// resolve removes the call and hands it res. It reports false when no call
// with that id is pending anymore.
func (r *registry) resolve(correlationID string, res result) bool {
	r.mu.Lock()
	call, ok := r.calls[correlationID]
	if ok {
		delete(r.calls, correlationID)
	}
	r.mu.Unlock()

	if ok {
		call.done <- res
	}
	return ok
}

// remove drops the call without handing it a result.
func (r *registry) remove(correlationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.calls[correlationID]
	if ok {
		delete(r.calls, correlationID)
	}
	return ok
}

func (r *registry) failAll(err error) int {
	r.mu.Lock()
	calls := r.calls
	r.calls = make(map[string]*pendingCall)
	r.mu.Unlock()

	for _, call := range calls {
		call.done <- result{err: err}
	}
	return len(calls)
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
