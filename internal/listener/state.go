package listener

// State is the connection state machine position. All network activity is
// driven by transitions between these states; the listener goroutine is the
// only writer.
type State int

const (
	// Disconnected is the initial and terminal state. The listener only
	// leaves it via Start and only re-enters it via Stop or a fatal error.
	Disconnected State = iota
	// Connecting covers the transport dial (DNS, TCP, TLS, upgrade).
	Connecting
	// Authenticating covers the device login frame until the provider's
	// first response.
	Authenticating
	// Live means the provider accepted the device identity and frames are
	// flowing.
	Live
	// Backoff is the delay between reconnect attempts.
	Backoff
)

// MarshalJSON renders the state name rather than its ordinal.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Live:
		return "live"
	case Backoff:
		return "backoff"
	default:
		return "unknown"
	}
}
