package reporting

import (
	"context"
	"errors"

	"vhlr/internal/history"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository is the read side of probe history.
type Repository interface {
	List(ctx context.Context, f history.Filter) ([]history.Record, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) ProbeSummary(ctx context.Context, req ProbeSummaryRequest) (ProbeSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return ProbeSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return ProbeSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.List(ctx, history.Filter{
		From:        req.Range.From,
		To:          req.Range.To,
		Destination: req.Destination,
		ClientID:    req.ClientID,
	})
	if err != nil {
		return ProbeSummary{}, err
	}

	out := ProbeSummary{
		Range:       req.Range,
		Destination: req.Destination,
		ClientID:    req.ClientID,
		ByCode:      map[int]int{},
	}
	var totalDuration int64
	for _, r := range rows {
		out.TotalProbes++
		if r.Available {
			out.AvailableProbes++
		} else {
			out.UnavailableProbes++
		}
		out.TotalAttempts += r.AttemptCount
		out.ByCode[r.Code]++
		if !r.StartedAt.IsZero() && r.FinishedAt.After(r.StartedAt) {
			totalDuration += r.FinishedAt.Sub(r.StartedAt).Milliseconds()
		}
	}
	if out.TotalProbes > 0 {
		out.AvailabilityRate = float64(out.AvailableProbes) / float64(out.TotalProbes)
		out.AverageAttempts = float64(out.TotalAttempts) / float64(out.TotalProbes)
		out.AverageDurationMS = totalDuration / int64(out.TotalProbes)
	}
	return out, nil
}
