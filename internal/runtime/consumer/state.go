package consumer

// State is the lifecycle phase of a Loop.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateSubscribed
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON documents.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome is the per-message result logged and counted by the loop.
type Outcome string

const (
	OutcomeHandled       Outcome = "handled"
	OutcomeHandlerFailed Outcome = "handler_failed"
	OutcomeMalformed     Outcome = "malformed"
	OutcomeUnknownKind   Outcome = "unknown_kind"
	OutcomeDeadLettered  Outcome = "dead_lettered"
)
