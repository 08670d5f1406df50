package readiness

// State is one phase of the bootstrap state machine. Ready and Failed
// are terminal.
type State string

// Bootstrap states.
const (
	StateUninitialized State = "uninitialized"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateMigrating     State = "migrating"
	StateVerifying     State = "verifying"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}
