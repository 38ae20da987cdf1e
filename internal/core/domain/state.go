package domain

type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateAcquiring
	StateConnecting
	StateStreaming
	StateStopping
	StateError
)

var connectionStateNames = map[ConnectionState]string{
	StateIdle:       "idle",
	StateAcquiring:  "acquiring",
	StateConnecting: "connecting",
	StateStreaming:  "streaming",
	StateStopping:   "stopping",
	StateError:      "error",
}

func (s ConnectionState) String() string {
	if name, ok := connectionStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// AllConnectionStates lists every state, in declaration order.
func AllConnectionStates() []ConnectionState {
	return []ConnectionState{StateIdle, StateAcquiring, StateConnecting, StateStreaming, StateStopping, StateError}
}

// Active reports whether a session owns a transport link in this state.
func (s ConnectionState) Active() bool {
	return s == StateAcquiring || s == StateConnecting || s == StateStreaming || s == StateStopping
}

// StatusSnapshot is the read-only projection handed to the UI collaborator.
// It is recomputed from the ConnectionState on every transition and is never
// consulted to decide what is legal.
type StatusSnapshot struct {
	State            string          `json:"state"`
	IsConnecting     bool            `json:"is_connecting"`
	IsStreaming      bool            `json:"is_streaming"`
	LastError        *string         `json:"last_error"`
	LastDebugMessage *string         `json:"last_debug_message"`
	SessionID        string          `json:"session_id,omitempty"`
	Format           ContainerFormat `json:"format,omitempty"`
	Selection        DeviceSelection `json:"selection"`
}

// Project builds the snapshot for a state plus the retained messages.
func Project(state ConnectionState, lastError, lastDebug *string) StatusSnapshot {
	return StatusSnapshot{
		State:            state.String(),
		IsConnecting:     state == StateAcquiring || state == StateConnecting,
		IsStreaming:      state == StateStreaming,
		LastError:        copyString(lastError),
		LastDebugMessage: copyString(lastDebug),
	}
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
