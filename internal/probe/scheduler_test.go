package probe

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"vhlr/internal/calls"
	"vhlr/internal/telephony"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCallOptions() calls.Options {
	return calls.Options{
		ConnectTimeout: 2 * time.Second,
		PollInterval:   5 * time.Millisecond,
		KillTimeout:    time.Second,
	}
}

func sequentialIDs() func() string {
	var n atomic.Int32
	return func() string { return fmt.Sprintf("call-%d", n.Add(1)) }
}

func failWith(cause string) (string, error) {
	return "", &telephony.CommandError{Command: "originate", Message: cause}
}

func dump(state, cause string) string {
	out := "Channel-Call-State: " + state
	if cause != "" {
		out += "\nHangup-Cause: " + cause
	}
	return out
}

func runWithin(t *testing.T, s *Scheduler, ctx context.Context) Result {
	t.Helper()
	res := make(chan Result, 1)
	go func() { res <- s.Run(ctx) }()
	select {
	case r := <-res:
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler did not finalize")
		return Result{}
	}
}

func TestScheduler_RetriesThroughWholeSchedule(t *testing.T) {
	ctl := telephony.NewFakeControl()
	causes := []string{"USER_BUSY", "NO_ANSWER", "SWITCH_CONGESTION"}
	var n atomic.Int32
	ctl.OnOriginate = func(context.Context, string) (string, error) {
		return failWith(causes[n.Add(1)-1])
	}

	s := NewScheduler(ctl, SchedulerConfig{
		Source:      "vhlr",
		Destination: "4915112345678",
		Schedule:    []time.Duration{0, 2 * time.Millisecond},
		Call:        testCallOptions(),
	})
	res := runWithin(t, s, context.Background())

	require.Len(t, res.Attempts, 3)
	ids := map[string]bool{}
	for i, a := range res.Attempts {
		assert.Equal(t, i, a.Index)
		assert.Equal(t, calls.StateTerminated, a.Call.State)
		ids[a.Call.ID] = true
	}
	assert.Len(t, ids, 3, "call ids are unique per attempt")
	assert.Equal(t, time.Duration(0), res.Attempts[1].Delay)
	assert.Equal(t, 2*time.Millisecond, res.Attempts[2].Delay)

	assert.Equal(t, calls.CodeServiceUnavailable, res.Outcome.Code)
	assert.Equal(t, res.Attempts[2].Call.ID, res.Call.ID)
	assert.False(t, res.Available())
	assert.Equal(t, 3, ctl.Count("originate"))
	assert.Zero(t, s.Inflight())
}

func TestScheduler_FinalizesOnFirstAvailableAttempt(t *testing.T) {
	ctl := telephony.NewFakeControl()
	ctl.OnOriginate = func(ctx context.Context, cmd string) (string, error) {
		if strings.Contains(cmd, "origination_uuid=call-1,") {
			return failWith("NO_ANSWER")
		}
		return ctl.AwaitKill(ctx, cmd)
	}
	ctl.OnDump = func(_ context.Context, cmd string) (string, error) {
		if strings.HasSuffix(cmd, "call-2") {
			return dump("RINGING", ""), nil
		}
		return dump("DIALING", ""), nil
	}

	s := NewScheduler(ctl, SchedulerConfig{
		Source:      "vhlr",
		Destination: "100",
		Schedule:    []time.Duration{0, 0, 0},
		Call:        testCallOptions(),
	}, WithIDGenerator(sequentialIDs()))
	res := runWithin(t, s, context.Background())

	require.Len(t, res.Attempts, 2)
	assert.True(t, res.Available())
	assert.Equal(t, calls.CodeRinging, res.Outcome.Code)
	assert.Equal(t, "call-2", res.Call.ID)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, ctl.Count("originate"), "no retry after success")
}

func TestScheduler_BusyNotRetriedWhenConfiguredFinal(t *testing.T) {
	ctl := telephony.NewFakeControl()
	ctl.OnDump = func(context.Context, string) (string, error) { return dump("HANGUP", "USER_BUSY"), nil }

	s := NewScheduler(ctl, SchedulerConfig{
		Source:       "vhlr",
		Destination:  "100",
		Schedule:     []time.Duration{0, 0},
		NonRetriable: []calls.Code{calls.CodeBusy},
		Call:         testCallOptions(),
	})
	res := runWithin(t, s, context.Background())

	require.Len(t, res.Attempts, 1)
	assert.Equal(t, calls.CodeBusy, res.Outcome.Code)
	assert.Nil(t, res.Call.ConnectTime)
	assert.NotNil(t, res.Call.TerminateTime)
	assert.Equal(t, 1, ctl.Count("originate"))
}

func TestScheduler_DefaultNonRetriableStopsOnUnknownNumber(t *testing.T) {
	ctl := telephony.NewFakeControl()
	ctl.OnOriginate = func(context.Context, string) (string, error) { return failWith("UNALLOCATED_NUMBER") }

	s := NewScheduler(ctl, SchedulerConfig{Destination: "100", Schedule: []time.Duration{0}, Call: testCallOptions()})
	res := runWithin(t, s, context.Background())

	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, calls.CodeNotFound, res.Outcome.Code)
}

func TestScheduler_EmptyScheduleMakesOneAttempt(t *testing.T) {
	ctl := telephony.NewFakeControl()
	ctl.OnOriginate = func(context.Context, string) (string, error) { return failWith("USER_BUSY") }

	res := runWithin(t, NewScheduler(ctl, SchedulerConfig{Destination: "100", Call: testCallOptions()}), context.Background())
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, calls.CodeBusy, res.Outcome.Code)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestScheduler_StopDrainsInflightCall(t *testing.T) {
	ctl := telephony.NewFakeControl()
	opts := testCallOptions()
	opts.ConnectTimeout = 50 * time.Millisecond

	s := NewScheduler(ctl, SchedulerConfig{
		Destination: "100",
		Schedule:    []time.Duration{0, 0},
		Call:        opts,
	})
	res := make(chan Result, 1)
	go func() { res <- s.Run(context.Background()) }()
	require.Eventually(t, func() bool { return s.Inflight() == 1 }, time.Second, time.Millisecond)

	assert.True(t, s.Stop(5*time.Second), "call drains on its own")
	r := <-res
	require.Len(t, r.Attempts, 1, "no retries after stop")
	assert.Equal(t, calls.OutcomeConnectTimeout, r.Outcome)
}

func TestScheduler_StopForcesAfterGrace(t *testing.T) {
	ctl := telephony.NewFakeControl()
	opts := testCallOptions()
	opts.ConnectTimeout = time.Minute
	opts.PollInterval = time.Hour

	s := NewScheduler(ctl, SchedulerConfig{Destination: "100", Call: opts})
	res := make(chan Result, 1)
	go func() { res <- s.Run(context.Background()) }()
	require.Eventually(t, func() bool { return s.Inflight() == 1 }, time.Second, time.Millisecond)

	assert.False(t, s.Stop(20*time.Millisecond))
	r := <-res
	assert.Equal(t, calls.OutcomeCancelled, r.Outcome)
	assert.Equal(t, 1, ctl.Count("uuid_kill"))
}

func TestScheduler_StopCancelsPendingRetry(t *testing.T) {
	ctl := telephony.NewFakeControl()
	ctl.OnOriginate = func(context.Context, string) (string, error) { return failWith("USER_BUSY") }

	s := NewScheduler(ctl, SchedulerConfig{
		Destination: "100",
		Schedule:    []time.Duration{time.Hour},
		Call:        testCallOptions(),
	})
	res := make(chan Result, 1)
	go func() { res <- s.Run(context.Background()) }()
	require.Eventually(t, func() bool {
		return ctl.Count("originate") == 1 && s.Inflight() == 0
	}, time.Second, time.Millisecond)

	assert.True(t, s.Stop(time.Second))
	select {
	case r := <-res:
		assert.Len(t, r.Attempts, 1)
		assert.Equal(t, calls.CodeBusy, r.Outcome.Code)
	case <-time.After(time.Second):
		t.Fatalf("pending retry was not canceled")
	}
}

func TestScheduler_ContextCancelDuringRetryDelay(t *testing.T) {
	ctl := telephony.NewFakeControl()
	ctl.OnOriginate = func(context.Context, string) (string, error) { return failWith("NO_ANSWER") }

	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(ctl, SchedulerConfig{
		Destination: "100",
		Schedule:    []time.Duration{time.Hour},
		Call:        testCallOptions(),
	})
	time.AfterFunc(30*time.Millisecond, cancel)

	res := runWithin(t, s, ctx)
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, calls.CodeTemporarilyUnavailable, res.Outcome.Code)
}

func TestScheduler_StopBeforeRunFinalizesWithoutDialing(t *testing.T) {
	ctl := telephony.NewFakeControl()
	s := NewScheduler(ctl, SchedulerConfig{Destination: "100", Call: testCallOptions()})

	assert.True(t, s.Stop(0))
	res := runWithin(t, s, context.Background())
	assert.Empty(t, res.Attempts)
	assert.Equal(t, calls.OutcomeCancelled, res.Outcome)
	assert.Empty(t, ctl.Commands(""))
}
