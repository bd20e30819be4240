package supervisor

import (
	"time"

	"github.com/smazurov/lspvisor/internal/config"
)

// State is the supervisor's lifecycle state.
type State string

// Supervisor states.
const (
	StateIdle     State = "idle"     // No handle
	StateStarting State = "starting" // Resolving, spawning or handshaking
	StateRunning  State = "running"  // Handle started
	StateStopping State = "stopping" // Shutting down and disposing
)

// States lists every state, in lifecycle order.
var States = []State{StateIdle, StateStarting, StateRunning, StateStopping}

var transitions = map[State][]State{
	StateIdle:     {StateStarting},
	StateStarting: {StateRunning, StateIdle},
	StateRunning:  {StateStopping},
	StateStopping: {StateIdle},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transitional states are the in-flight guards: while in one, same-kind
// calls are dropped and cross-kind calls wait.
func (s State) transitional() bool {
	return s == StateStarting || s == StateStopping
}

// Status is a point-in-time snapshot of the supervisor.
type Status struct {
	State       State              `json:"state"`
	LaunchID    string             `json:"launch_id,omitempty"`
	Spec        *config.LaunchSpec `json:"spec,omitempty"`
	StartedAt   time.Time          `json:"started_at,omitzero"`
	LastError   string             `json:"last_error,omitempty"`
	Running     bool               `json:"running"`
	LaunchCount int                `json:"launch_count"`
	Deactivated bool               `json:"deactivated"`
}
