package ws

import "sync/atomic"

// ConnState is the position of a connection in its lifecycle.
type ConnState int32

// Lifecycle states. The only legal paths are
// disconnected -> connecting -> connected, connected <-> reconnecting,
// and any state -> closing -> closed. Closed is terminal.
const (
	// StateDisconnected means no connection exists and none is being made.
	StateDisconnected ConnState = iota
	// StateConnecting means the initial dial is in progress.
	StateConnecting
	// StateConnected means the connection is live and accepting calls.
	StateConnected
	// StateReconnecting means the connection dropped and the reconnect
	// loop owns recovery.
	StateReconnecting
	// StateClosing means a deliberate shutdown is draining resources.
	StateClosing
	// StateClosed means the connection is permanently down.
	StateClosed
)

// String returns the string representation of the connection state.
func (s ConnState) String() string {
	return [...]string{
		"disconnected",
		"connecting",
		"connected",
		"reconnecting",
		"closing",
		"closed",
	}[s]
}

// State provides thread-safe atomic access to a ConnState value.
type State struct {
	state atomic.Int32
}

// Load returns the current connection state.
func (s *State) Load() ConnState {
	return ConnState(s.state.Load())
}

// Store sets the connection state to the given value.
func (s *State) Store(state ConnState) {
	s.state.Store(int32(state))
}

// CompareAndSwap atomically compares the current state with old and swaps
// to new if equal. It returns true if the swap was performed.
func (s *State) CompareAndSwap(old, new ConnState) bool {
	return s.state.CompareAndSwap(int32(old), int32(new))
}
