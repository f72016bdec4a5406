package calls

import (
	"errors"
	"testing"

	"vhlr/internal/telephony"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCause(t *testing.T) {
	assert.Equal(t, Outcome{Code: CodeBusy, Reason: "USER_BUSY"}, ClassifyCause("user_busy"))
	assert.Equal(t, CodeNotFound, ClassifyCause("NO_ROUTE_DESTINATION").Code)
	assert.Equal(t, CodeServiceUnavailable, ClassifyCause("SWITCH_CONGESTION").Code)
	assert.Equal(t, CodeDeclined, ClassifyCause("CALL_REJECTED").Code)
	assert.Equal(t, OutcomeCancelled, ClassifyCause("SOMETHING_NEW"))
	assert.Equal(t, OutcomeCancelled, ClassifyCause(""))
}

func TestClassifyOriginateError(t *testing.T) {
	err := &telephony.CommandError{Command: "originate {x}user/1 &sleep(0)", Message: "NO_ROUTE_DESTINATION"}
	assert.Equal(t, CodeNotFound, ClassifyOriginateError(err).Code)
	assert.Equal(t, OutcomeCancelled, ClassifyOriginateError(errors.New("exit status 1")))
	assert.Equal(t, OutcomeCancelled, ClassifyOriginateError(nil))
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		st        telephony.ChannelStatus
		code      Code
		terminal  bool
		connected bool
	}{
		{telephony.ChannelStatus{State: telephony.ChannelDialing}, 0, false, false},
		{telephony.ChannelStatus{State: telephony.ChannelDown}, 0, false, false},
		{telephony.ChannelStatus{State: telephony.ChannelUnrecognized, Raw: "X"}, 0, false, false},
		{telephony.ChannelStatus{State: telephony.ChannelRinging}, CodeRinging, true, false},
		{telephony.ChannelStatus{State: telephony.ChannelEarly}, CodeSessionProgress, true, false},
		{telephony.ChannelStatus{State: telephony.ChannelActive}, CodeConnected, true, true},
		{telephony.ChannelStatus{State: telephony.ChannelHangup, HangupCause: "USER_BUSY"}, CodeBusy, true, false},
		{telephony.ChannelStatus{State: telephony.ChannelHangup}, CodeRequestTerminated, true, false},
	}
	for _, tc := range cases {
		out, terminal, connected := ClassifyStatus(tc.st)
		assert.Equal(t, tc.code, out.Code, "state %s", tc.st.State)
		assert.Equal(t, tc.terminal, terminal, "state %s", tc.st.State)
		assert.Equal(t, tc.connected, connected, "state %s", tc.st.State)
	}
}
