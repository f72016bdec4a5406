package probe

import (
	"vhlr/internal/calls"
	"vhlr/internal/history"
)

func reportOf(out Result) Report {
	r := Report{
		Destination: out.Destination,
		State:       out.Call.State,
		Code:        out.Outcome.Code,
		Reason:      out.Outcome.Reason,
		Available:   out.Outcome.Available,
		Attempts:    len(out.Attempts),
		CheckedAt:   out.FinishedAt.UTC(),

		SetupTime:     out.Call.SetupTime,
		ConnectTime:   out.Call.ConnectTime,
		TerminateTime: out.Call.TerminateTime,
	}
	if r.State == "" {
		r.State = calls.StateTerminated
	}
	return r
}

func historyRecord(req Request, out Result) history.Record {
	rec := history.Record{
		Destination: out.Destination,
		ClientID:    req.ClientID,
		MessageID:   req.MessageID,
		Available:   out.Outcome.Available,
		Code:        int(out.Outcome.Code),
		Reason:      out.Outcome.Reason,
		StartedAt:   out.StartedAt.UTC(),
		FinishedAt:  out.FinishedAt.UTC(),
		Attempts:    make([]history.Attempt, 0, len(out.Attempts)),
	}
	for _, a := range out.Attempts {
		rec.Attempts = append(rec.Attempts, history.Attempt{
			Index:         a.Index,
			CallID:        a.Call.ID,
			Delay:         a.Delay,
			State:         string(a.Call.State),
			RawState:      string(a.Call.RawState),
			Code:          int(a.Call.Outcome.Code),
			Reason:        a.Call.Outcome.Reason,
			SetupTime:     a.Call.SetupTime,
			ConnectTime:   a.Call.ConnectTime,
			TerminateTime: a.Call.TerminateTime,
		})
	}
	return rec
}
