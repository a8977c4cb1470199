package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-archmap/pkg/logging"
	"github.com/dd0wney/cluso-archmap/pkg/snapshot"
)

func fixed(status Status) CheckFunc {
	return func(context.Context) Check { return Check{Status: status} }
}

func TestCheckStatusAggregation(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Status
		want   Status
	}{
		{"no checks", nil, StatusHealthy},
		{"all healthy", map[string]Status{"a": StatusHealthy, "b": StatusHealthy}, StatusHealthy},
		{"one degraded", map[string]Status{"a": StatusHealthy, "b": StatusDegraded}, StatusDegraded},
		{"unhealthy wins", map[string]Status{"a": StatusDegraded, "b": StatusUnhealthy, "c": StatusHealthy}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for name, s := range tt.checks {
				c.Register(name, fixed(s))
			}
			resp := c.Check(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checks))
			for name := range tt.checks {
				assert.Equal(t, name, resp.Checks[name].Name, "unnamed checks take their registered name")
			}
		})
	}
}

func TestCheckTiming(t *testing.T) {
	c := NewChecker()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ticks := 0
	c.started = base
	c.now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Second)
	}
	c.Register("slow", fixed(StatusHealthy))

	resp := c.Check(context.Background())
	assert.Equal(t, time.Second, resp.Uptime)
	assert.Equal(t, time.Second, resp.Checks["slow"].Duration)
	assert.Equal(t, base.Add(2*time.Second), resp.Checks["slow"].LastChecked)
}

func TestStoreCheck(t *testing.T) {
	store, err := snapshot.NewFileStore(t.TempDir(), snapshot.NewCodec(nil), logging.NewNopLogger())
	require.NoError(t, err)

	check := StoreCheck(store)(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)

	require.NoError(t, store.Close())
	check = StoreCheck(store)(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.NotEmpty(t, check.Message)
}

func TestScanTracker(t *testing.T) {
	tr := NewScanTracker()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, StatusHealthy, tr.Check(context.Background()).Status)

	tr.Record("payments", at, nil)
	tr.Record("search", at, errors.New("storage unavailable"))
	tr.Record("billing", at, errors.New("cancelled"))
	check := tr.Check(context.Background())
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Equal(t, "last scan failed: billing, search", check.Message)
	assert.Len(t, check.Details, 3)

	tr.Record("search", at.Add(time.Hour), nil)
	tr.Record("billing", at.Add(time.Hour), nil)
	assert.Equal(t, StatusHealthy, tr.Check(context.Background()).Status)
}

func TestHandler(t *testing.T) {
	tests := []struct {
		status Status
		code   int
	}{
		{StatusHealthy, http.StatusOK},
		{StatusDegraded, http.StatusOK},
		{StatusUnhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			c := NewChecker()
			c.Register("store", fixed(tt.status))

			rec := httptest.NewRecorder()
			c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var resp Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Status)
			assert.Contains(t, resp.Checks, "store")
		})
	}
}
