package pushover

// Credentials are the account email and password used for login. They are
// passed by value, used for a single login round-trip, and never persisted
// or logged.
type Credentials struct {
	Email    string
	Password string
}

// Session is the transient token returned by login. It is valid only long
// enough to complete device registration; the persistent connection
// authenticates with the device identity instead.
type Session struct {
	Secret string
}

// Priority is the Pushover message priority.
type Priority int

const (
	PriorityLowest    Priority = -2
	PriorityLow       Priority = -1
	PriorityNormal    Priority = 0
	PriorityHigh      Priority = 1
	PriorityEmergency Priority = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityLowest:
		return "lowest"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Message is one message frame as delivered by the provider, immutable once
// received. Body holds the provider's "message" field; Raw keeps every
// envelope field as decoded.
type Message struct {
	ID       string
	Title    string
	Body     string
	App      string
	Priority Priority
	Raw      map[string]any
}

// statusResponse is the common wrapper of all REST responses.
type statusResponse struct {
	Status  int                 `json:"status"`
	Request string              `json:"request"`
	Errors  map[string][]string `json:"errors"`
}
