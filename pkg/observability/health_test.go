package observability

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(status Status) Check {
	return func(context.Context) CheckResult { return CheckResult{Status: status} }
}

func TestHealthChecks_Run(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		want   Status
	}{
		{name: "no checks", want: StatusHealthy},
		{
			name:   "all healthy",
			checks: map[string]Check{"database": fixed(StatusHealthy), "stream": fixed(StatusHealthy)},
			want:   StatusHealthy,
		},
		{
			name:   "degraded wins over healthy",
			checks: map[string]Check{"database": fixed(StatusHealthy), "receipts": fixed(StatusDegraded)},
			want:   StatusDegraded,
		},
		{
			name: "unhealthy wins over degraded",
			checks: map[string]Check{
				"database": fixed(StatusUnhealthy),
				"receipts": fixed(StatusDegraded),
				"stream":   fixed(StatusHealthy),
			},
			want: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecks()
			for name, check := range tt.checks {
				h.Add(name, check)
			}

			report := h.Run(context.Background())

			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Checks, len(tt.checks))
			assert.False(t, report.CheckedAt.IsZero())
		})
	}
}

func TestHealthReport_NamesAndJSON(t *testing.T) {
	h := NewHealthChecks()
	h.Add("stream", fixed(StatusHealthy))
	h.Add("database", PingCheck(func(context.Context) error { return errors.New("database is locked") }, StatusUnhealthy))

	report := h.Run(context.Background())

	assert.Equal(t, []string{"database", "stream"}, report.Names())

	data, err := json.Marshal(report)
	require.NoError(t, err)
	var decoded struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "unhealthy", decoded.Status)
	assert.Equal(t, "database is locked", decoded.Checks["database"].Message)
}

func TestPingCheck(t *testing.T) {
	ok := PingCheck(func(context.Context) error { return nil }, StatusDegraded)
	assert.Equal(t, StatusHealthy, ok(context.Background()).Status)

	failing := PingCheck(func(context.Context) error { return errors.New("connection refused") }, StatusDegraded)
	result := failing(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, "connection refused", result.Message)
}

func TestCircuitCheck(t *testing.T) {
	tests := []struct {
		state gobreaker.State
		want  Status
	}{
		{gobreaker.StateClosed, StatusHealthy},
		{gobreaker.StateHalfOpen, StatusDegraded},
		{gobreaker.StateOpen, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			result := CircuitCheck(func() gobreaker.State { return tt.state })(context.Background())
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, "circuit "+tt.state.String(), result.Message)
		})
	}
}

func TestOutboxLagCheck(t *testing.T) {
	lag := 0.0
	check := OutboxLagCheck(func() float64 { return lag }, 30*time.Second)

	lag = 12.4
	result := check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, "outbox lag 12s", result.Message)

	lag = 95
	result = check(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, "outbox lag 1m35s exceeds 30s", result.Message)

	disabled := OutboxLagCheck(func() float64 { return 3600 }, 0)
	assert.Equal(t, StatusHealthy, disabled(context.Background()).Status)
}
