package calls

import (
	"strings"

	"vhlr/internal/telephony"
)

// Code is a SIP-style disconnect code describing how a probe ended.
type Code int

const (
	CodeRinging                Code = 180
	CodeSessionProgress        Code = 183
	CodeConnected              Code = 200
	CodeNotFound               Code = 404
	CodeTimeout                Code = 408
	CodeGone                   Code = 410
	CodeTemporarilyUnavailable Code = 480
	CodeAddressIncomplete      Code = 484
	CodeBusy                   Code = 486
	CodeRequestTerminated      Code = 487
	CodeNotAcceptable          Code = 488
	CodeBadGateway             Code = 502
	CodeServiceUnavailable     Code = 503
	CodeDeclined               Code = 603
)

// Outcome is the classification of a terminated call.
type Outcome struct {
	Code   Code   `json:"code"`
	Reason string `json:"reason"`
	// Available means the destination proved reachable.
	Available bool `json:"available"`
}

func (o Outcome) IsZero() bool { return o.Code == 0 }

var (
	OutcomeConnected      = Outcome{Code: CodeConnected, Reason: "ANSWERED", Available: true}
	OutcomeConnectTimeout = Outcome{Code: CodeTimeout, Reason: "CONNECT_TIMEOUT"}
	// OutcomeCancelled is the generic fallback when no better reason is known.
	OutcomeCancelled = Outcome{Code: CodeRequestTerminated, Reason: "ORIGINATOR_CANCEL"}
)

// causeCodes maps switch hangup causes to disconnect codes.
var causeCodes = map[string]Code{
	"UNALLOCATED_NUMBER":        CodeNotFound,
	"NO_ROUTE_DESTINATION":      CodeNotFound,
	"NO_ROUTE_TRANSIT_NET":      CodeNotFound,
	"NUMBER_CHANGED":            CodeGone,
	"INVALID_NUMBER_FORMAT":     CodeAddressIncomplete,
	"USER_BUSY":                 CodeBusy,
	"NO_USER_RESPONSE":          CodeTimeout,
	"RECOVERY_ON_TIMER_EXPIRE":  CodeTimeout,
	"NO_ANSWER":                 CodeTemporarilyUnavailable,
	"SUBSCRIBER_ABSENT":         CodeTemporarilyUnavailable,
	"USER_NOT_REGISTERED":       CodeTemporarilyUnavailable,
	"CALL_REJECTED":             CodeDeclined,
	"INCOMPATIBLE_DESTINATION":  CodeNotAcceptable,
	"DESTINATION_OUT_OF_ORDER":  CodeBadGateway,
	"NETWORK_OUT_OF_ORDER":      CodeBadGateway,
	"NORMAL_TEMPORARY_FAILURE":  CodeServiceUnavailable,
	"SWITCH_CONGESTION":         CodeServiceUnavailable,
	"NORMAL_CIRCUIT_CONGESTION": CodeServiceUnavailable,
	"SERVICE_UNAVAILABLE":       CodeServiceUnavailable,
	"ORIGINATOR_CANCEL":         CodeRequestTerminated,
}

// ClassifyCause maps a hangup cause to an outcome, falling back to OutcomeCancelled.
func ClassifyCause(cause string) Outcome {
	cause = strings.ToUpper(strings.TrimSpace(cause))
	code, ok := causeCodes[cause]
	if !ok {
		return OutcomeCancelled
	}
	return Outcome{Code: code, Reason: cause}
}

// ClassifyOriginateError extracts the first recognized hangup cause from a failed
// origination, e.g. "-ERR USER_BUSY".
func ClassifyOriginateError(err error) Outcome {
	if err == nil {
		return OutcomeCancelled
	}
	tokens := strings.FieldsFunc(strings.ToUpper(err.Error()), func(r rune) bool {
		return (r < 'A' || r > 'Z') && r != '_'
	})
	for _, tok := range tokens {
		if _, ok := causeCodes[tok]; ok {
			return ClassifyCause(tok)
		}
	}
	return OutcomeCancelled
}

type stateRule struct {
	outcome  Outcome
	terminal bool
	// connected marks states that mean the far end answered.
	connected bool
}

// stateRules decides, per polled channel state, whether probing is finished.
// Any sign of the far end (ringing, early media, answer) proves reachability.
var stateRules = map[telephony.ChannelState]stateRule{
	telephony.ChannelDown:         {},
	telephony.ChannelDialing:      {},
	telephony.ChannelUnrecognized: {},
	telephony.ChannelRinging:      {outcome: Outcome{Code: CodeRinging, Reason: "RINGING", Available: true}, terminal: true},
	telephony.ChannelRingWait:     {outcome: Outcome{Code: CodeRinging, Reason: "RING_WAIT", Available: true}, terminal: true},
	telephony.ChannelEarly:        {outcome: Outcome{Code: CodeSessionProgress, Reason: "EARLY", Available: true}, terminal: true},
	telephony.ChannelActive:       {outcome: OutcomeConnected, terminal: true, connected: true},
	telephony.ChannelHeld:         {outcome: OutcomeConnected, terminal: true, connected: true},
	telephony.ChannelUnheld:       {outcome: OutcomeConnected, terminal: true, connected: true},
	telephony.ChannelHangup:       {terminal: true},
}

// ClassifyStatus evaluates one polled channel status.
func ClassifyStatus(st telephony.ChannelStatus) (out Outcome, terminal, connected bool) {
	rule, ok := stateRules[st.State]
	if !ok || !rule.terminal {
		return Outcome{}, false, false
	}
	if st.State == telephony.ChannelHangup {
		return ClassifyCause(st.HangupCause), true, false
	}
	return rule.outcome, true, rule.connected
}
