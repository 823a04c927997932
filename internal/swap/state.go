package swap

// State is a step of a swap flow. Transitions only move forward; Settled and
// Failed are terminal.
type State string

const (
	StateIdle                State = "idle"
	StateQuotingAvailable    State = "quoting_available"
	StateQuotingPrecise      State = "quoting_precise"
	StateAwaitingTransaction State = "awaiting_transaction"
	StateSigning             State = "signing"
	StateBroadcasting        State = "broadcasting"
	StateSettled             State = "settled"
	StateFailed              State = "failed"
)

// Terminal reports whether s ends a flow.
func (s State) Terminal() bool {
	return s == StateSettled || s == StateFailed
}
