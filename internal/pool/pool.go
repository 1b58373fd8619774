// Package pool implements the per-model warmed-session pool the bridge
// orchestrator acquires from before dispatching a chat-completions request,
// a Go port of the original session manager's register/add/acquire/release
// state machine.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Status is a session's place in its model's rotation.
type Status string

const (
	StatusAvailable Status = "available"
	StatusInUse     Status = "in_use"
	StatusUnhealthy Status = "unhealthy"
)

// Session is one warmed browser-tab conversation the orchestrator can
// dispatch a retry/reuse request against.
type Session struct {
	ID         string
	ModelName  string
	MessageID  string
	Status     Status
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// ErrAcquireTimeout is returned by Acquire when no session became
// available before the deadline, per spec.md §4.C.
var ErrAcquireTimeout = errors.New("pool: acquire timed out waiting for an available session")

type modelPool struct {
	sessions []*Session
	waiters  []chan struct{} // FIFO; the head is woken first
}

// Pool holds one modelPool per registered model. A single mutex guards
// every model's pool, so operations on different models serialize against
// each other.
type Pool struct {
	mu     sync.Mutex
	models map[string]*modelPool
}

// New returns an empty Pool.
func New() *Pool {
	return &Pool{models: make(map[string]*modelPool)}
}

// Register idempotently prepares empty structures for model.
func (p *Pool) Register(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registerLocked(model)
}

func (p *Pool) registerLocked(model string) *modelPool {
	mp, ok := p.models[model]
	if !ok {
		mp = &modelPool{}
		p.models[model] = mp
	}
	return mp
}

// Add appends a new, healthy session to its model's pool and wakes exactly
// one waiter, in FIFO order, if any are parked.
func (p *Pool) Add(session *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mp := p.registerLocked(session.ModelName)
	mp.sessions = append(mp.sessions, session)
	p.wakeOneLocked(mp)
}

// wakeOneLocked signals the oldest parked waiter, if any. Must be called
// with p.mu held.
func (p *Pool) wakeOneLocked(mp *modelPool) {
	if len(mp.waiters) == 0 {
		return
	}
	ch := mp.waiters[0]
	mp.waiters = mp.waiters[1:]
	close(ch)
}

// Acquire returns the first available session for model, transitioning it
// to in-use. If none is available it parks on the model's FIFO waiter
// queue until woken by Add/Release or until timeout elapses, per
// spec.md §4.C.
func (p *Pool) Acquire(ctx context.Context, model string, timeout time.Duration) (*Session, error) {
	deadline := time.Now().Add(timeout)

	for {
		p.mu.Lock()
		mp := p.registerLocked(model)
		if session := firstAvailableLocked(mp); session != nil {
			session.Status = StatusInUse
			session.LastUsedAt = time.Now()
			p.mu.Unlock()
			return session, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.mu.Unlock()
			return nil, ErrAcquireTimeout
		}

		wake := make(chan struct{})
		mp.waiters = append(mp.waiters, wake)
		p.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-wake:
			timer.Stop()
		case <-timer.C:
			p.removeWaiterLocked(model, wake)
			return nil, ErrAcquireTimeout
		case <-ctx.Done():
			timer.Stop()
			p.removeWaiterLocked(model, wake)
			return nil, ctx.Err()
		}
	}
}

func firstAvailableLocked(mp *modelPool) *Session {
	for _, s := range mp.sessions {
		if s.Status == StatusAvailable {
			return s
		}
	}
	return nil
}

// removeWaiterLocked drops wake from the waiter queue if it is still
// there (it may already have been popped by a concurrent Add/Release).
func (p *Pool) removeWaiterLocked(model string, wake chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mp, ok := p.models[model]
	if !ok {
		return
	}
	for i, w := range mp.waiters {
		if w == wake {
			mp.waiters = append(mp.waiters[:i], mp.waiters[i+1:]...)
			return
		}
	}
}

// Release transitions sessionID back to available and wakes one waiter.
func (p *Pool) Release(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, mp := range p.models {
		for _, s := range mp.sessions {
			if s.ID == sessionID {
				s.Status = StatusAvailable
				p.wakeOneLocked(mp)
				return
			}
		}
	}
}

// MarkUnhealthy transitions sessionID to unhealthy. It is never selected
// by Acquire again but stays in the pool for introspection; waiters are
// not signalled since no capacity was freed.
func (p *Pool) MarkUnhealthy(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, mp := range p.models {
		for _, s := range mp.sessions {
			if s.ID == sessionID {
				s.Status = StatusUnhealthy
				return
			}
		}
	}
}

// ModelStatus summarizes one model's pool for introspection/admin endpoints.
type ModelStatus struct {
	Available int
	InUse     int
	Unhealthy int
	Total     int
	Queued    int
}

// Status returns a snapshot of every registered model's pool.
func (p *Pool) Status() map[string]ModelStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]ModelStatus, len(p.models))
	for model, mp := range p.models {
		st := ModelStatus{Total: len(mp.sessions), Queued: len(mp.waiters)}
		for _, s := range mp.sessions {
			switch s.Status {
			case StatusAvailable:
				st.Available++
			case StatusInUse:
				st.InUse++
			case StatusUnhealthy:
				st.Unhealthy++
			}
		}
		out[model] = st
	}
	return out
}
