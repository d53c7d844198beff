package ttlcache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsStoredValue(t *testing.T) {
	c := New[string](Options{TTL: time.Minute})
	c.Set("k", "v")

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestGetExpiresLazily(t *testing.T) {
	c := New[int](Options{TTL: time.Minute})
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set("k", 1)

	c.now = func() time.Time { return base.Add(time.Minute + time.Second) }
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry should be removed on access")
}

func TestTouchRefreshesAge(t *testing.T) {
	c := New[int](Options{TTL: time.Minute})
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set("k", 1)

	c.now = func() time.Time { return base.Add(50 * time.Second) }
	c.Touch("k")

	c.now = func() time.Time { return base.Add(100 * time.Second) }
	_, ok := c.Get("k")
	assert.True(t, ok, "touched entry should survive past its original expiry")
}

func TestCapacityEvictsOldestBatch(t *testing.T) {
	c := New[int](Options{TTL: time.Hour, MaxEntries: 10, EvictFraction: 0.2})
	base := time.Now()

	for i := 0; i < 11; i++ {
		c.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		c.Set(fmt.Sprintf("k%d", i), i)
	}

	// 11 entries with a ceiling of 10 evicts a batch of 2, oldest first.
	assert.Equal(t, 9, c.Len())
	_, ok := c.Get("k0")
	assert.False(t, ok)
	_, ok = c.Get("k1")
	assert.False(t, ok)
	_, ok = c.Get("k10")
	assert.True(t, ok)
}

func TestSweepIsThrottled(t *testing.T) {
	c := New[int](Options{TTL: time.Minute, SweepInterval: 5 * time.Minute})
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set("old", 1)

	// Past the TTL but inside the sweep interval: Set must not pay for a
	// sweep, the stale entry stays until Get or an explicit Sweep.
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	c.Set("fresh", 2)
	assert.Equal(t, 2, c.Len())

	c.Sweep()
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestSetRefreshesExistingEntry(t *testing.T) {
	c := New[int](Options{TTL: time.Minute})
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("k", 1)

	c.now = func() time.Time { return base.Add(50 * time.Second) }
	c.Set("k", 2)

	c.now = func() time.Time { return base.Add(100 * time.Second) }
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, got)
}
