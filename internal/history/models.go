package history

import "time"

// Record is an immutable, append-only entry describing one completed probe.
//
// Invariants:
// - Records are never updated or deleted.
// - Destination is required.
// - AttemptCount equals len(Attempts) on write; List may return records without Attempts.
//
// Storage (Postgres):
//   - probe_records(id, destination, client_id, message_id, available, code, reason,
//     attempt_count, started_at, finished_at, created_at)
//   - probe_attempts(record_id, idx, call_id, delay_ms, state, raw_state, code, reason,
//     setup_time, connect_time, terminate_time), primary key (record_id, idx)
type Record struct {
	ID          string `json:"id" db:"id"`
	Destination string `json:"destination" db:"destination"`

	// ClientID is the authenticated API client that asked for the probe (if any).
	ClientID  string `json:"client_id,omitempty" db:"client_id"`
	MessageID string `json:"message_id,omitempty" db:"message_id"`

	Available bool   `json:"available" db:"available"`
	Code      int    `json:"code" db:"code"`
	Reason    string `json:"reason" db:"reason"`

	AttemptCount int       `json:"attempt_count" db:"attempt_count"`
	Attempts     []Attempt `json:"attempts,omitempty"`

	StartedAt  time.Time `json:"started_at" db:"started_at"`
	FinishedAt time.Time `json:"finished_at" db:"finished_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Attempt is one call placed while probing.
type Attempt struct {
	Index    int           `json:"index" db:"idx"`
	CallID   string        `json:"call_id" db:"call_id"`
	Delay    time.Duration `json:"delay" db:"delay_ms"`
	State    string        `json:"state" db:"state"`
	RawState string        `json:"raw_state,omitempty" db:"raw_state"`
	Code     int           `json:"code" db:"code"`
	Reason   string        `json:"reason" db:"reason"`

	SetupTime     *time.Time `json:"setup_time,omitempty" db:"setup_time"`
	ConnectTime   *time.Time `json:"connect_time,omitempty" db:"connect_time"`
	TerminateTime *time.Time `json:"terminate_time,omitempty" db:"terminate_time"`
}

// Filter selects records by creation time in [From, To).
type Filter struct {
	From        time.Time
	To          time.Time
	Destination string
	ClientID    string
}

func (f Filter) match(r Record) bool {
	if r.CreatedAt.Before(f.From) || !r.CreatedAt.Before(f.To) {
		return false
	}
	if f.Destination != "" && r.Destination != f.Destination {
		return false
	}
	if f.ClientID != "" && r.ClientID != f.ClientID {
		return false
	}
	return true
}
