package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"vhlr/internal/history"
)

func seed(t *testing.T, now time.Time) *history.MemoryRepo {
	t.Helper()
	repo := history.NewMemoryRepo()
	recs := []history.Record{
		{ID: "r1", Destination: "100", ClientID: "c1", Available: true, Code: 200, AttemptCount: 1,
			StartedAt: now, FinishedAt: now.Add(2 * time.Second), CreatedAt: now},
		{ID: "r2", Destination: "100", ClientID: "c2", Available: false, Code: 486, AttemptCount: 3,
			StartedAt: now, FinishedAt: now.Add(4 * time.Second), CreatedAt: now},
		{ID: "r3", Destination: "200", ClientID: "c1", Available: false, Code: 486, AttemptCount: 2,
			StartedAt: now, FinishedAt: now.Add(6 * time.Second), CreatedAt: now},
		{ID: "r4", Destination: "100", ClientID: "c1", Available: true, Code: 180, AttemptCount: 1,
			CreatedAt: now.Add(-48 * time.Hour)},
	}
	for _, r := range recs {
		if err := repo.Append(context.Background(), r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return repo
}

func TestProbeSummary_Aggregates(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	svc := NewService(seed(t, now))

	out, err := svc.ProbeSummary(context.Background(), ProbeSummaryRequest{
		Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalProbes != 3 || out.AvailableProbes != 1 || out.UnavailableProbes != 2 {
		t.Fatalf("unexpected totals: %+v", out)
	}
	if out.ByCode[486] != 2 || out.ByCode[200] != 1 {
		t.Fatalf("unexpected code counts: %v", out.ByCode)
	}
	if out.AverageAttempts != 2 {
		t.Fatalf("expected average attempts 2, got %v", out.AverageAttempts)
	}
	if out.AverageDurationMS != 4000 {
		t.Fatalf("expected average duration 4000ms, got %d", out.AverageDurationMS)
	}
	if out.AvailabilityRate < 0.33 || out.AvailabilityRate > 0.34 {
		t.Fatalf("unexpected availability rate %v", out.AvailabilityRate)
	}
}

func TestProbeSummary_ScopedByClientAndDestination(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	svc := NewService(seed(t, now))
	rng := TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}

	out, err := svc.ProbeSummary(context.Background(), ProbeSummaryRequest{Range: rng, ClientID: "c1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalProbes != 2 {
		t.Fatalf("expected 2 probes for c1, got %d", out.TotalProbes)
	}

	out, err = svc.ProbeSummary(context.Background(), ProbeSummaryRequest{Range: rng, ClientID: "c1", Destination: "200"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalProbes != 1 || out.ByCode[486] != 1 {
		t.Fatalf("unexpected scoped summary: %+v", out)
	}
}

func TestProbeSummary_EmptyRange(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	svc := NewService(seed(t, now))

	out, err := svc.ProbeSummary(context.Background(), ProbeSummaryRequest{
		Range: TimeRange{From: now.Add(time.Hour), To: now.Add(2 * time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalProbes != 0 || out.AvailabilityRate != 0 {
		t.Fatalf("expected empty summary, got %+v", out)
	}
}

func TestProbeSummary_RejectsBadRange(t *testing.T) {
	svc := NewService(history.NewMemoryRepo())
	now := time.Now()
	_, err := svc.ProbeSummary(context.Background(), ProbeSummaryRequest{Range: TimeRange{From: now, To: now}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
