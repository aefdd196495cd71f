package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"kiln_control/internal/models"
	"kiln_control/internal/repository"
)

type fakeSampleRepo struct {
	got   repository.SampleQuery
	calls int
	out   []models.Sample
	err   error
}

func (f *fakeSampleRepo) Append(ctx context.Context, s models.Sample) error { return nil }

func (f *fakeSampleRepo) List(ctx context.Context, q repository.SampleQuery) ([]models.Sample, error) {
	f.calls++
	f.got = q
	return f.out, f.err
}

func TestSampleService_ListSamples(t *testing.T) {
	t.Parallel()

	from := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("UTC+2", 7200))
	cases := []struct {
		name      string
		in        SampleFilter
		wantLimit int
	}{
		{"default limit", SampleFilter{}, defaultSampleLimit},
		{"explicit limit", SampleFilter{Limit: 50}, 50},
		{"limit capped", SampleFilter{Limit: 1 << 20}, maxSampleLimit},
		{"session and range", SampleFilter{SessionID: " s1 ", From: from, To: from.Add(time.Hour)}, defaultSampleLimit},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			repo := &fakeSampleRepo{}
			if _, err := NewSampleService(repo).ListSamples(context.Background(), tc.in); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if repo.got.Limit != tc.wantLimit {
				t.Fatalf("limit = %d, want %d", repo.got.Limit, tc.wantLimit)
			}
			if !tc.in.From.IsZero() {
				if repo.got.SessionID != "s1" {
					t.Fatalf("session = %q", repo.got.SessionID)
				}
				if repo.got.From.Location() != time.UTC || !repo.got.From.Equal(from) {
					t.Fatalf("from = %v", repo.got.From)
				}
			}
		})
	}
}

func TestSampleService_ListSamples_BadRange(t *testing.T) {
	t.Parallel()

	repo := &fakeSampleRepo{}
	now := time.Now()
	_, err := NewSampleService(repo).ListSamples(context.Background(), SampleFilter{From: now, To: now.Add(-time.Minute)})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if repo.calls != 0 {
		t.Fatalf("repo must not be called")
	}
}
