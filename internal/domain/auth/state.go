package auth

// State is the lifecycle position of a client-side auth state machine.
type State int

const (
	StateInitializing State = iota
	StateAuthenticated
	StateUnauthenticated
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}
