package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kiln_control/internal/models"
	"kiln_control/internal/schedule"
)

type CurveService struct {
	store CurveStore
}

func NewCurveService(store CurveStore) *CurveService {
	return &CurveService{store: store}
}

func (s *CurveService) ListCurves(ctx context.Context) ([]string, error) {
	return s.store.Names()
}

func (s *CurveService) GetCurve(ctx context.Context, name string) (models.Curve, error) {
	t, err := s.store.Get(strings.TrimSpace(name))
	if err != nil {
		return models.Curve{}, err
	}
	return curveModel(t), nil
}

// SaveCurve validates c and writes it into the library, replacing a curve of
// the same name.
func (s *CurveService) SaveCurve(ctx context.Context, c models.Curve) (models.Curve, error) {
	name := strings.TrimSpace(c.Name)
	if !schedule.ValidName(name) {
		return models.Curve{}, fmt.Errorf("%w: curve name %q", ErrInvalidInput, c.Name)
	}
	file := schedule.CurveFile{Name: name, Points: make([]schedule.CurvePoint, 0, len(c.Points))}
	for _, p := range c.Points {
		file.Points = append(file.Points, schedule.CurvePoint{Time: p.Time, Temperature: p.TemperatureC, Stage: p.Stage})
	}
	t, err := file.Build()
	if err != nil {
		if errors.Is(err, schedule.ErrInvalidSchedule) {
			return models.Curve{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return models.Curve{}, err
	}
	if err := s.store.Save(t); err != nil {
		return models.Curve{}, err
	}
	return curveModel(t), nil
}

func curveModel(t *schedule.Table) models.Curve {
	f := schedule.FromTable(t)
	out := models.Curve{
		Name:     f.Name,
		Duration: schedule.FormatClock(t.Duration()),
		Points:   make([]models.CurvePoint, 0, len(f.Points)),
	}
	for _, p := range f.Points {
		out.Points = append(out.Points, models.CurvePoint{Time: p.Time, TemperatureC: p.Temperature, Stage: p.Stage})
	}
	return out
}
