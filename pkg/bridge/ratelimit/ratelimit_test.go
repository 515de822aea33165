package ratelimit

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/qhp-bridge/bridge/internal/metrics"
)

func TestAdmitDeniesAfterCapacityExhausted(t *testing.T) {
	l := New(map[string]BucketConfig{
		"heavy": {Capacity: 5, RefillPerMinute: 0},
	}, BucketConfig{Capacity: 1000, RefillPerMinute: 0}, nil)

	for i := 0; i < 5; i++ {
		d := l.Admit("heavy")
		assert.True(t, d.Admitted, "request %d should be admitted", i)
	}

	d := l.Admit("heavy")
	assert.False(t, d.Admitted)
	assert.Equal(t, "heavy", d.Category)
}

func TestAdmitFallsBackToDefaultCategory(t *testing.T) {
	l := New(map[string]BucketConfig{
		"default": {Capacity: 2, RefillPerMinute: 0},
	}, BucketConfig{Capacity: 1000, RefillPerMinute: 0}, nil)

	d := l.Admit("unknown_category")
	assert.Equal(t, "default", d.Category)
	assert.True(t, d.Admitted)
}

func TestGlobalBucketGatesEvenWithCategoryTokens(t *testing.T) {
	l := New(map[string]BucketConfig{
		"lightweight": {Capacity: 100, RefillPerMinute: 0},
	}, BucketConfig{Capacity: 1, RefillPerMinute: 0}, nil)

	assert.True(t, l.Admit("lightweight").Admitted)
	assert.False(t, l.Admit("lightweight").Admitted)
}

func TestAdmitResolvesToolNamesThroughCategoryMapping(t *testing.T) {
	l := New(map[string]BucketConfig{
		"heavy":       {Capacity: 1, RefillPerMinute: 0},
		"lightweight": {Capacity: 100, RefillPerMinute: 0},
	}, BucketConfig{Capacity: 1000, RefillPerMinute: 0}, nil).WithToolCategories(map[string]string{
		"execute_formula": "heavy",
		"ping_service":    "lightweight",
	})

	d := l.Admit("execute_formula")
	assert.True(t, d.Admitted)
	assert.Equal(t, "heavy", d.Category)

	d = l.Admit("execute_formula")
	assert.False(t, d.Admitted, "second heavy call exhausts the one-token bucket")

	d = l.Admit("ping_service")
	assert.True(t, d.Admitted)
	assert.Equal(t, "lightweight", d.Category)

	// a tool mapped to a category that has no bucket falls back to default
	l2 := New(map[string]BucketConfig{
		"default": {Capacity: 1, RefillPerMinute: 0},
	}, BucketConfig{Capacity: 1000, RefillPerMinute: 0}, nil).WithToolCategories(map[string]string{
		"odd_tool": "nonexistent",
	})
	assert.Equal(t, "default", l2.Admit("odd_tool").Category)
}

func TestRepeatedDenialsRaiseAbuseEvent(t *testing.T) {
	l := New(map[string]BucketConfig{
		"heavy": {Capacity: 0, RefillPerMinute: 0},
	}, BucketConfig{Capacity: 1000, RefillPerMinute: 0}, nil)

	before := testutil.ToFloat64(metrics.RateLimitAbuseEvents)
	var lastDecision Decision
	for i := 0; i < abuseThreshold; i++ {
		lastDecision = l.Admit("heavy")
	}
	assert.False(t, lastDecision.Admitted)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RateLimitAbuseEvents))
}
