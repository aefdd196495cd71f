package service

import (
	"context"
	"strings"

	"kiln_control/internal/models"
	"kiln_control/internal/repository"
)

const (
	defaultSampleLimit = 1000
	maxSampleLimit     = 10000
)

type SampleService struct {
	repo repository.SampleRepo
}

func NewSampleService(repo repository.SampleRepo) *SampleService {
	return &SampleService{repo: repo}
}

// ListSamples returns the data log in time order, capped at maxSampleLimit rows.
func (s *SampleService) ListSamples(ctx context.Context, f SampleFilter) ([]models.Sample, error) {
	q := repository.SampleQuery{
		SessionID: strings.TrimSpace(f.SessionID),
		From:      normalizeToUTC(f.From),
		To:        normalizeToUTC(f.To),
		Limit:     f.Limit,
	}
	if err := checkRange(q.From, q.To); err != nil {
		return nil, err
	}
	switch {
	case q.Limit <= 0:
		q.Limit = defaultSampleLimit
	case q.Limit > maxSampleLimit:
		q.Limit = maxSampleLimit
	}
	return s.repo.List(ctx, q)
}
