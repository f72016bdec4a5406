package telephony

import (
	"errors"
	"strings"
)

// ChannelState is the switch-reported call state of a channel (Channel-Call-State).
type ChannelState string

const (
	ChannelDown     ChannelState = "DOWN"
	ChannelDialing  ChannelState = "DIALING"
	ChannelRinging  ChannelState = "RINGING"
	ChannelEarly    ChannelState = "EARLY"
	ChannelActive   ChannelState = "ACTIVE"
	ChannelHeld     ChannelState = "HELD"
	ChannelUnheld   ChannelState = "UNHELD"
	ChannelRingWait ChannelState = "RING_WAIT"
	ChannelHangup   ChannelState = "HANGUP"

	// ChannelUnrecognized is any token not listed above.
	ChannelUnrecognized ChannelState = "UNRECOGNIZED"
)

var knownStates = map[string]ChannelState{
	string(ChannelDown):     ChannelDown,
	string(ChannelDialing):  ChannelDialing,
	string(ChannelRinging):  ChannelRinging,
	string(ChannelEarly):    ChannelEarly,
	string(ChannelActive):   ChannelActive,
	string(ChannelHeld):     ChannelHeld,
	string(ChannelUnheld):   ChannelUnheld,
	string(ChannelRingWait): ChannelRingWait,
	string(ChannelHangup):   ChannelHangup,
}

// ChannelStatus is the decoded part of a channel dump that call logic needs.
type ChannelStatus struct {
	State ChannelState
	// Raw is the token as reported, kept even when State is ChannelUnrecognized.
	Raw string
	// HangupCause is set once the switch has decided why the channel ended.
	HangupCause string
}

// ErrMalformedStatus means the dump did not contain a call state line.
var ErrMalformedStatus = errors.New("telephony: channel status has no call state")

const (
	callStateHeader   = "Channel-Call-State"
	hangupCauseHeader = "Hangup-Cause"
)

// ParseChannelStatus decodes the "Header: value" lines of a uuid_dump reply.
func ParseChannelStatus(dump string) (ChannelStatus, error) {
	var st ChannelStatus
	found := false
	for _, line := range strings.Split(dump, "\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		switch name {
		case callStateHeader:
			if value == "" {
				continue
			}
			found = true
			st.Raw = value
			if s, ok := knownStates[strings.ToUpper(value)]; ok {
				st.State = s
			} else {
				st.State = ChannelUnrecognized
			}
		case hangupCauseHeader:
			st.HangupCause = strings.ToUpper(value)
		}
	}
	if !found {
		return ChannelStatus{}, ErrMalformedStatus
	}
	return st, nil
}
