package session

// Store is durable persistence for the session snapshot; the single source
// of truth across process restarts. Implementations do no networking and run
// no timers, so they can be swapped without touching the state machine.
//
// All writes funnel through the Manager; application code must not call
// Save or Clear directly once a Manager owns the store.
type Store interface {
	// Load returns the persisted session, or (nil, nil) when none is stored.
	// Corrupt or partially written records load as absent: the fail-safe
	// direction is logged-out, never a half-session.
	Load() (*Session, error)

	// Save atomically replaces the persisted snapshot.
	Save(sess *Session) error

	// Clear removes all persisted session data. Idempotent.
	Clear() error
}
