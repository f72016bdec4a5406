package calls

import (
	"time"

	"vhlr/internal/telephony"
)

// Call is one probe attempt as seen by its lifecycle.
//
// Invariants:
// - ID is unique per attempt; the switch uses it as the channel uuid.
// - State only moves forward: initial -> dialing -> {active|terminated}, active -> terminated.
// - Outcome is set once, at or before the transition to terminated, and never changes.
// - SetupTime <= ConnectTime <= TerminateTime whenever they are set.
type Call struct {
	ID          string `json:"call_id"`
	Source      string `json:"src"`
	Destination string `json:"dst"`

	State State `json:"state"`

	// RawState mirrors the last channel state read from the switch.
	RawState telephony.ChannelState `json:"raw_state,omitempty"`

	Outcome Outcome `json:"outcome"`

	SetupTime     *time.Time `json:"setup_time,omitempty"`
	ConnectTime   *time.Time `json:"connect_time,omitempty"`
	TerminateTime *time.Time `json:"terminate_time,omitempty"`
}

type State string

const (
	StateInitial    State = "initial"
	StateDialing    State = "dialing"
	StateActive     State = "active"
	StateTerminated State = "terminated"
)

// Connected reports whether the call ever reached an active state.
func (c Call) Connected() bool { return c.ConnectTime != nil }
