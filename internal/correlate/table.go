// Package correlate matches outbound request ids to their inbound
// responses on a multiplexed connection. Each registered id owns a
// one-shot waiter; responses may arrive in any order.
package correlate

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"venuewire/pkg/core"
)

// Result is the terminal outcome delivered to a waiter: either a raw
// payload or an error, never both.
type Result struct {
	Payload []byte
	Err     error
}

// Waiter is the receiving end of one pending request. Done yields
// exactly one Result.
type Waiter struct {
	ID       string
	IssuedAt time.Time
	deadline time.Time
	ch       chan Result
}

// Done returns the channel the result is delivered on.
func (w *Waiter) Done() <-chan Result {
	return w.ch
}

// Table is the set of pending requests for one connection. All
// mutation is serialized by a single mutex; resolution is
// at-most-once per id.
type Table struct {
	mu      sync.Mutex
	pending map[string]*Waiter
	logger  zerolog.Logger
}

// NewTable creates an empty correlation table.
func NewTable() *Table {
	return &Table{
		pending: make(map[string]*Waiter),
		logger:  zerolog.Nop(),
	}
}

// SetLogger configures the logger for the table.
func (t *Table) SetLogger(logger zerolog.Logger) {
	t.logger = logger
}

// Register creates a waiter for id expiring after timeout. Registering
// an id that is still pending is a caller bug and is rejected.
func (t *Table) Register(id string, timeout time.Duration) (*Waiter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[id]; exists {
		return nil, core.ErrDuplicateID
	}

	now := time.Now()
	w := &Waiter{
		ID:       id,
		IssuedAt: now,
		deadline: now.Add(timeout),
		ch:       make(chan Result, 1),
	}
	t.pending[id] = w
	return w, nil
}

// Resolve delivers a successful payload to the waiter for id and
// removes it. Returns false when the id is unknown, which the caller
// logs and discards.
func (t *Table) Resolve(id string, payload []byte) bool {
	return t.complete(id, Result{Payload: payload})
}

// Fail delivers an error to the waiter for id and removes it.
func (t *Table) Fail(id string, err error) bool {
	return t.complete(id, Result{Err: err})
}

func (t *Table) complete(id string, res Result) bool {
	t.mu.Lock()
	w, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	w.ch <- res
	return true
}

// ExpireOverdue fails every waiter whose deadline has passed with a
// timeout error. Runs on each receive-loop tick.
func (t *Table) ExpireOverdue(now time.Time) int {
	t.mu.Lock()
	var overdue []*Waiter
	for id, w := range t.pending {
		if now.After(w.deadline) {
			overdue = append(overdue, w)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()

	for _, w := range overdue {
		t.logger.Warn().Str("id", w.ID).Msg("request timed out awaiting response")
		w.ch <- Result{Err: core.NewAPIError(core.ErrorTypeTimeout, 0, "no response within deadline")}
	}
	return len(overdue)
}

// FailAll fails every pending waiter with err and empties the table.
// Used when the transport drops or the connection closes.
func (t *Table) FailAll(err error) int {
	t.mu.Lock()
	waiters := make([]*Waiter, 0, len(t.pending))
	for _, w := range t.pending {
		waiters = append(waiters, w)
	}
	t.pending = make(map[string]*Waiter)
	t.mu.Unlock()

	for _, w := range waiters {
		w.ch <- Result{Err: err}
	}
	return len(waiters)
}

// Len returns the number of requests still pending.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
