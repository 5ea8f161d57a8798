package lifecycle

import "fmt"

// ConnectionState is the position of one peripheral in its connection lifecycle.
type ConnectionState int

const (
	Discovered ConnectionState = iota
	Connecting
	Connected
	ServicesDiscovered
	Subscribed
	Disconnected
)

func (s ConnectionState) String() string {
	switch s {
	case Discovered:
		return "discovered"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ServicesDiscovered:
		return "services_discovered"
	case Subscribed:
		return "subscribed"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON snapshots.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition can leave the state.
func (s ConnectionState) Terminal() bool {
	return s == Disconnected
}

// Outcome classifies what handling an event did to the lifecycle.
type Outcome int

const (
	// Ignored means the event was a duplicate, out of order, or for another peripheral.
	Ignored Outcome = iota
	// Advanced means the state moved forward and the next command was issued.
	Advanced
	// Stalled means the expected service or characteristic was absent; the state is unchanged.
	Stalled
	// Reverted means a connect attempt failed and the lifecycle is back at Discovered.
	Reverted
	// LevelReported means a valid battery level arrived; see Result.Level.
	LevelReported
	// Discarded means a battery notification carried an unusable payload.
	Discarded
	// Terminated means the peripheral is gone and its state must be dropped.
	Terminated
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Advanced:
		return "advanced"
	case Stalled:
		return "stalled"
	case Reverted:
		return "reverted"
	case LevelReported:
		return "level_reported"
	case Discarded:
		return "discarded"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is returned by Lifecycle.Handle.
type Result struct {
	Outcome Outcome
	Level   uint8 // set when Outcome is LevelReported
	Err     error // cause for Reverted, Discarded and Terminated
}
