// Package keyring manages a pool of venue credentials. Accounts with
// several API keys rotate to a fresh key when the active one is
// rejected or its IP allocation gets banned, instead of stalling until
// the window clears.
package keyring

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"venuewire/pkg/core"
)

// Entry is one credential in the ring with its health bookkeeping.
type Entry struct {
	ID          string
	Credentials core.Credentials
	Disabled    bool
	LastUsed    time.Time
	ErrorCount  int
}

// String renders the entry with the key material masked.
func (e *Entry) String() string {
	return fmt.Sprintf("Entry{ID:%s, Key:%s}", e.ID, maskKey(e.Credentials.APIKey))
}

// Ring holds the credential pool and the cursor to the active entry.
// Safe for concurrent use.
type Ring struct {
	mu      sync.RWMutex
	entries []*Entry
	current int
	logger  zerolog.Logger
}

// New creates a ring over copies of the given entries.
func New(entries ...Entry) *Ring {
	pool := make([]*Entry, len(entries))
	for i := range entries {
		e := entries[i]
		pool[i] = &e
	}
	return &Ring{
		entries: pool,
		logger:  zerolog.Nop(),
	}
}

// SetLogger configures the logger for the ring.
func (r *Ring) SetLogger(logger zerolog.Logger) {
	r.logger = logger
}

// Current returns the active credentials. The second return is false
// when every entry is disabled or the ring is empty.
func (r *Ring) Current() (core.Credentials, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e := r.activeLocked(); e != nil {
		return e.Credentials, true
	}
	return core.Credentials{}, false
}

// activeLocked finds the first enabled entry at or after the cursor.
func (r *Ring) activeLocked() *Entry {
	for i := 0; i < len(r.entries); i++ {
		idx := (r.current + i) % len(r.entries)
		if !r.entries[idx].Disabled {
			return r.entries[idx]
		}
	}
	return nil
}

// Rotate advances to the next enabled entry.
func (r *Ring) Rotate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotateLocked()
}

func (r *Ring) rotateLocked() {
	if len(r.entries) == 0 {
		return
	}
	start := r.current
	for {
		r.current = (r.current + 1) % len(r.entries)
		if !r.entries[r.current].Disabled {
			r.logger.Info().Str("entry", r.entries[r.current].String()).Msg("rotated credentials")
			return
		}
		if r.current == start {
			return
		}
	}
}

// OnError feeds a request failure back into the ring. Credential
// rejections and IP bans rotate to the next key; anything else only
// bumps the error count.
func (r *Ring) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return
	}
	r.entries[r.current].ErrorCount++

	if core.IsBanned(err) || core.IsType(err, core.ErrorTypeInvalidCredentials) || core.IsType(err, core.ErrorTypeForbidden) {
		r.rotateLocked()
	}
}

// MarkUsed stamps the active entry with the current time.
func (r *Ring) MarkUsed() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e := r.activeLocked(); e != nil {
		e.LastUsed = time.Now()
	}
}

// Disable takes the entry with the given id out of rotation.
func (r *Ring) Disable(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.ID == id {
			e.Disabled = true
			return
		}
	}
}

// Enable returns the entry with the given id to rotation and clears
// its error count.
func (r *Ring) Enable(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.ID == id {
			e.Disabled = false
			e.ErrorCount = 0
			return
		}
	}
}

// Add appends a new entry unless its id is already present.
func (r *Ring) Add(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.ID == entry.ID {
			return
		}
	}
	r.entries = append(r.entries, &entry)
}

// Remove deletes the entry with the given id.
func (r *Ring) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.ID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			if r.current >= len(r.entries) {
				r.current = 0
			}
			return
		}
	}
}

// Len returns the number of entries, disabled ones included.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
