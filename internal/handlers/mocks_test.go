package handlers

import (
	"context"
	"net/http"

	"kiln_control/internal/models"
	"kiln_control/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockKiln struct {
	startID       string
	startErr      error
	stopErr       error
	calibrateErr  error
	scheduleErr   error
	lastStart     service.StartParams
	lastIR        float64
	lastCurve     string
	startCalled   int
	stopCalled    int
	calibrateCall int
}

func (m *mockKiln) Start(ctx context.Context, p service.StartParams) (string, error) {
	m.startCalled++
	m.lastStart = p
	return m.startID, m.startErr
}
func (m *mockKiln) Stop(ctx context.Context) error {
	m.stopCalled++
	return m.stopErr
}
func (m *mockKiln) CalibrateIR(ctx context.Context, irC float64) error {
	m.calibrateCall++
	m.lastIR = irC
	return m.calibrateErr
}
func (m *mockKiln) SetSchedule(ctx context.Context, curve string) error {
	m.lastCurve = curve
	return m.scheduleErr
}

type mockMonitoring struct {
	state models.KilnState
	err   error
}

func (m *mockMonitoring) GetState(ctx context.Context) (models.KilnState, error) {
	return m.state, m.err
}

type mockEventLog struct {
	resp       []models.KilnEvent
	err        error
	lastFilter service.LogFilter
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.KilnEvent, error) {
	m.lastFilter = f
	return m.resp, m.err
}

type mockCurves struct {
	names    []string
	curve    models.Curve
	err      error
	lastName string
	saved    models.Curve
}

func (m *mockCurves) ListCurves(ctx context.Context) ([]string, error) { return m.names, m.err }

func (m *mockCurves) GetCurve(ctx context.Context, name string) (models.Curve, error) {
	m.lastName = name
	return m.curve, m.err
}

func (m *mockCurves) SaveCurve(ctx context.Context, c models.Curve) (models.Curve, error) {
	m.saved = c
	if m.err != nil {
		return models.Curve{}, m.err
	}
	return c, nil
}

type mockSamples struct {
	resp       []models.Sample
	err        error
	lastFilter service.SampleFilter
}

func (m *mockSamples) ListSamples(ctx context.Context, f service.SampleFilter) ([]models.Sample, error) {
	m.lastFilter = f
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
