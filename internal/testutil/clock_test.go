package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_StartsAtEpoch(t *testing.T) {
	clock := NewDeterministicClock(time.Time{})
	assert.Equal(t, DefaultEpoch, clock.Current())
	assert.Equal(t, DefaultEpoch, clock.Now())
}

func TestDeterministicClock_NowAdvancesByStep(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewDeterministicClock(start).WithStep(time.Minute)

	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start.Add(time.Minute), clock.Now())
	assert.Equal(t, start.Add(2*time.Minute), clock.Now())
	assert.Equal(t, start.Add(3*time.Minute), clock.Current())
}

func TestDeterministicClock_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	clock := NewDeterministicClock(time.Date(2024, 3, 1, 13, 0, 0, 0, loc))
	assert.Equal(t, time.UTC, clock.Now().Location())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock(time.Time{})
	clock.Now()
	clock.Now()

	clock.Reset()
	assert.Equal(t, DefaultEpoch, clock.Now())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock(time.Time{})

	var wg sync.WaitGroup
	seen := make(chan time.Time, 1000)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				seen <- clock.Now()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[time.Time]bool)
	for ts := range seen {
		unique[ts] = true
	}
	require.Len(t, unique, 1000, "every call must return a distinct instant")
}
