package lifecycle

import "time"

// Phase is the connection lifecycle state.
type Phase int

const (
	// PhaseIdle means no connection attempt is in progress. The initial
	// state, and the terminal state of an explicit disconnect.
	PhaseIdle Phase = iota
	// PhaseConnecting means a session handle was created and the first
	// event from the wire client is pending.
	PhaseConnecting
	// PhaseAwaitingScan means a QR pairing code was issued and the
	// operator has not scanned it yet.
	PhaseAwaitingScan
	// PhaseReady means the session is authenticated and open.
	PhaseReady
	// PhaseClosing means an explicit teardown is in progress.
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseAwaitingScan:
		return "awaiting_scan"
	case PhaseReady:
		return "ready"
	case PhaseClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Identity describes the authenticated WhatsApp account.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Snapshot is a point-in-time read of the connection state. It never
// exposes the session handle itself.
type Snapshot struct {
	Phase       Phase
	HasQR       bool
	HasSession  bool
	HasIdentity bool
	Identity    *Identity
}

// Transition records a single phase change, for observability.
type Transition struct {
	From   Phase
	To     Phase
	Reason string
	At     time.Time
}

// Publisher receives every phase transition the manager performs.
type Publisher interface {
	PublishTransition(t Transition)
}
