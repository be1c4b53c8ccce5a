package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"playerpoints/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name     string
		pingErr  error
		wantCode int
	}{
		{"store reachable", nil, http.StatusOK},
		{"store down", errors.New("store: not connected"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := new(MockPinger)
			p.On("Ping", mock.Anything).Return(tt.pingErr)
			s := New(":0", p, logger.Nop())

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			p.AssertExpectations(t)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	p := new(MockPinger)
	s := New(":0", p, logger.Nop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	p.AssertNotCalled(t, "Ping", mock.Anything)
}
