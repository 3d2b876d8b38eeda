package playback

// State is the connection state of a listen session, as surfaced to the UI.
type State string

const (
	// StateIdle is a created session that has not been started.
	StateIdle State = "idle"

	// StateConnecting is a session whose transport handshake is in flight.
	StateConnecting State = "connecting"

	// StateOpen is a session receiving and rendering audio.
	StateOpen State = "open"

	// StateClosed is a session that ended gracefully (remote hangup or local
	// stop). Terminal.
	StateClosed State = "closed"

	// StateError is a session that failed (missing capability, dial or auth
	// failure, mid-stream transport error, dead output resource). Terminal;
	// a new session must be created to listen again.
	StateError State = "error"
)

// IsValid reports whether s is a recognised session state.
func (s State) IsValid() bool {
	switch s {
	case StateIdle, StateConnecting, StateOpen, StateClosed, StateError:
		return true
	}
	return false
}

// Terminal reports whether s is an end state that no further transition
// leaves.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}
