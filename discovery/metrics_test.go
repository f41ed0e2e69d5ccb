package discovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// TestErrorTypeLabel verifies error classification for the errors counter
func TestErrorTypeLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "unknown"},
		{"cancelled", fmt.Errorf("fetch: %w", context.Canceled), "cancelled"},
		{"deadline", context.DeadlineExceeded, "cancelled"},
		{"robots", &FetchError{URL: "u", Err: ErrDisallowedByRobots}, "robots"},
		{"status", &FetchError{URL: "u", StatusCode: 503}, "status"},
		{"connection", &FetchError{URL: "u", Err: errors.New("refused")}, "connection"},
		{"selector", &SelectorMissError{Block: "top", Key: "block_selector"}, "selector_miss"},
		{"other", errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorTypeLabel(tt.err))
		})
	}
}

// TestMetrics_Counters verifies each helper updates its collector
func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.IncRequest("ok")
	m.IncRequest("ok")
	m.AddStories("example", 7)
	m.IncBlock("example", OutcomeSkipped)
	m.IncError(&FetchError{URL: "u", StatusCode: 404})
	m.SetLastScan("example", time.Unix(1700000000, 0))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("ok")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.StoriesTotal.WithLabelValues("example")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BlocksTotal.WithLabelValues("example", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("status")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.LastScan.WithLabelValues("example")))
}

// TestMetrics_NilSafe verifies a nil *Metrics is a no-op
func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncRequest("ok")
		m.ObserveDuration(time.Second)
		m.AddStories("s", 1)
		m.IncBlock("s", OutcomeOK)
		m.IncError(errors.New("x"))
		m.SetLastScan("s", time.Now())
	})
}
