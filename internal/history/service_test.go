package history

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestService_AppendRequiresDestination(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	if err := svc.Append(context.Background(), Record{Code: 486}); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestService_AppendFillsIdentityAndCount(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	now := time.Unix(1700000000, 0).UTC()
	svc.clock = func() time.Time { return now }

	err := svc.Append(context.Background(), Record{
		Destination: "4915112345678",
		Code:        180,
		Available:   true,
		Attempts:    []Attempt{{Index: 0, CallID: "a"}, {Index: 1, CallID: "b"}},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	recs := repo.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].ID == "" {
		t.Fatalf("expected generated id")
	}
	if !recs[0].CreatedAt.Equal(now) {
		t.Fatalf("expected created_at %v, got %v", now, recs[0].CreatedAt)
	}
	if recs[0].AttemptCount != 2 {
		t.Fatalf("expected attempt_count 2, got %d", recs[0].AttemptCount)
	}
}

func TestService_ListFiltersByRangeAndDestination(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	now := time.Unix(1700000000, 0).UTC()
	ctx := context.Background()

	for _, r := range []Record{
		{Destination: "100", CreatedAt: now},
		{Destination: "200", CreatedAt: now},
		{Destination: "100", CreatedAt: now.Add(2 * time.Hour)},
	} {
		if err := svc.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	out, err := svc.List(ctx, Filter{From: now.Add(-time.Hour), To: now.Add(time.Hour), Destination: "100"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(out) != 1 || out[0].Destination != "100" {
		t.Fatalf("unexpected records: %+v", out)
	}

	if _, err := svc.List(ctx, Filter{From: now, To: now}); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
}
