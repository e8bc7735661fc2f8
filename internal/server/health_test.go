package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCycles struct{ at time.Time }

func (f fixedCycles) LastCycleAt() time.Time { return f.at }

func init() {
	gin.SetMode(gin.TestMode)
}

func request(t *testing.T, h *Health, path string) (int, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	NewRouter(h).ServeHTTP(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHealthz(t *testing.T) {
	h := NewHealth(nil, nil, 0, clock.NewMock())
	code, body := request(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestReadyz(t *testing.T) {
	okPing := func(context.Context) error { return nil }
	downPing := func(context.Context) error { return assert.AnError }

	tests := []struct {
		name    string
		ping    PingFunc
		lastAgo time.Duration
		never   bool
		want    int
		message string
	}{
		{name: "ready", ping: okPing, lastAgo: 10 * time.Second, want: http.StatusOK},
		{name: "database down", ping: downPing, lastAgo: 10 * time.Second, want: http.StatusServiceUnavailable, message: "database unreachable"},
		{name: "no cycle yet", ping: okPing, never: true, want: http.StatusServiceUnavailable, message: "no reconciliation cycle finished yet"},
		{name: "loop stalled", ping: okPing, lastAgo: 5 * time.Minute, want: http.StatusServiceUnavailable, message: "reconciliation loop stalled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewMock()
			clk.Add(time.Hour)
			cycles := fixedCycles{}
			if !tt.never {
				cycles.at = clk.Now().Add(-tt.lastAgo)
			}

			h := NewHealth(tt.ping, cycles, time.Minute, clk)
			code, body := request(t, h, "/readyz")
			assert.Equal(t, tt.want, code)
			if tt.message != "" {
				assert.Equal(t, tt.message, body["message"])
			} else {
				assert.Equal(t, "ready", body["status"])
			}
		})
	}
}
