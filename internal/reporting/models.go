package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ProbeSummaryRequest requests aggregated probe metrics over [From, To).
// ClientID scopes the summary to one API client; empty means every client.
type ProbeSummaryRequest struct {
	Range       TimeRange `json:"range"`
	Destination string    `json:"destination,omitempty"`
	ClientID    string    `json:"client_id,omitempty"`
}

type ProbeSummary struct {
	Range       TimeRange `json:"range"`
	Destination string    `json:"destination,omitempty"`
	ClientID    string    `json:"client_id,omitempty"`

	TotalProbes       int `json:"total_probes"`
	AvailableProbes   int `json:"available_probes"`
	UnavailableProbes int `json:"unavailable_probes"`
	TotalAttempts     int `json:"total_attempts"`
	// ByCode counts final outcome codes.
	ByCode map[int]int `json:"by_code"`

	AvailabilityRate float64 `json:"availability_rate"`
	AverageAttempts  float64 `json:"average_attempts"`
	// AverageDurationMS is the mean wall time from first dial to final outcome.
	AverageDurationMS int64 `json:"average_duration_ms"`
}
