package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for probe history. It is append-only.
type Repository interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, f Filter) ([]Record, error)
}

var (
	ErrInvalidRecord = errors.New("history: invalid record")
	ErrInvalidFilter = errors.New("history: invalid filter")
)

// Service records probes. Callers treat recording as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) Append(ctx context.Context, rec Record) error {
	if s.repo == nil {
		return errors.New("history: repository not configured")
	}
	if rec.Destination == "" {
		return ErrInvalidRecord
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	rec.AttemptCount = len(rec.Attempts)
	return s.repo.Append(ctx, rec)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Record, error) {
	if s.repo == nil {
		return nil, errors.New("history: repository not configured")
	}
	if f.From.IsZero() || f.To.IsZero() || !f.To.After(f.From) {
		return nil, ErrInvalidFilter
	}
	return s.repo.List(ctx, f)
}
