package realtime

import "time"

// State is the connection state machine position. Transitions are monotonic
// within one connection cycle: Disconnected -> Connecting -> Connected ->
// Disconnected -> ...
type State int

const (
	// StateDisconnected means no transport is live. Initial state and the
	// terminal state of every connection cycle.
	StateDisconnected State = iota

	// StateConnecting means the transport is being opened, or is open but
	// the authenticate handshake has not completed yet.
	StateConnecting

	// StateConnected means the transport is open and (when a token is set)
	// the handshake has been accepted. Outbound messages are sent directly.
	StateConnected
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// StateChange is published on eventbus.TopicStateChanged for every state
// transition and for every heartbeat latency update.
type StateChange struct {
	Previous State
	Current  State

	// Attempt is the reconnect attempt counter at the time of the change.
	Attempt int

	// Latency is the last measured heartbeat round-trip time. HasLatency
	// is false until the first pong of the connection arrives.
	Latency    time.Duration
	HasLatency bool
}

// ConnError is published on eventbus.TopicConnError for connection-level
// failures. Terminal is true only when the reconnect attempt budget has been
// exhausted; everything before that is retried silently.
type ConnError struct {
	Terminal bool
	Attempt  int
	Err      error
}

// Authenticated is published on eventbus.TopicAuthenticated after the server
// accepts the handshake.
type Authenticated struct {
	UserID string
}

// AuthError is published on eventbus.TopicAuthError when the server rejects
// the handshake. The connection stays open; remediation (token refresh and a
// new Authenticate call) is caller-driven.
type AuthError struct {
	Reason string
}
