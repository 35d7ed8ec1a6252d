package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_Frozen(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start, clock.Now())
}

func TestFakeClock_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	clock := NewFakeClock(time.Date(2026, 1, 2, 1, 0, 0, 0, loc))

	assert.Equal(t, time.Date(2026, 1, 1, 17, 0, 0, 0, time.UTC), clock.Now())
}

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClock(Day(0))

	assert.Equal(t, Day(0).Add(time.Hour), clock.Advance(time.Hour))
	assert.Equal(t, Day(3).Add(time.Hour), clock.AdvanceDays(3))

	clock.Set(Day(1))
	assert.Equal(t, Day(1), clock.Now())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	clock := NewFakeClock(Day(0))
	const numGoroutines = 50

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, Day(0).Add(numGoroutines*time.Second), clock.Now())
}
