package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayDoublesUpToCeiling(t *testing.T) {
	b := Backoff{Base: time.Second, Ceiling: 30 * time.Second}

	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 4*time.Second, b.Delay(2))
	assert.Equal(t, 8*time.Second, b.Delay(3))
	assert.Equal(t, 16*time.Second, b.Delay(4))
	assert.Equal(t, 30*time.Second, b.Delay(5)) // 32s capped to 30s ceiling
	assert.Equal(t, 30*time.Second, b.Delay(20))
}

func TestTrustTableExpiresEntries(t *testing.T) {
	tt := NewTrustTable(10*time.Millisecond, nil)
	tt.Record("I", TrustEntry{Fingerprint: "abc"})

	_, ok := tt.Lookup("I")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = tt.Lookup("I")
	assert.False(t, ok)

	expired := tt.Sweep()
	assert.Equal(t, []string{"I"}, expired)
}
