package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveHealth(t *testing.T, checks map[string]Pinger) (int, HealthResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHealthHandler("permit-backend", "1.2.3", checks).RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var res HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return w.Code, res
}

func TestHealthCheck(t *testing.T) {
	up := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name       string
		checks     map[string]Pinger
		wantCode   int
		wantStatus string
		wantDeps   map[string]string
	}{
		{
			name:       "all up",
			checks:     map[string]Pinger{"db": up, "redis": up, "ledger": up},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantDeps:   map[string]string{"db": "up", "redis": "up", "ledger": "up"},
		},
		{
			name:       "ledger down",
			checks:     map[string]Pinger{"db": up, "ledger": down},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
			wantDeps:   map[string]string{"db": "up", "ledger": "down"},
		},
		{
			name:       "disabled dependency",
			checks:     map[string]Pinger{"db": up, "redis": nil},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantDeps:   map[string]string{"db": "up", "redis": "disabled"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, res := serveHealth(t, tt.checks)

			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, "permit-backend", res.Service)
			assert.Equal(t, "1.2.3", res.Version)
			assert.Equal(t, tt.wantDeps, res.Dependencies)
		})
	}
}
