package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedNonce_ReturnsSameValue(t *testing.T) {
	next := FixedNonce("abc")

	assert.Equal(t, "abc", next())
	assert.Equal(t, "abc", next())
}

func TestFixedNonce_EmptyDefault(t *testing.T) {
	assert.Equal(t, "test-nonce-default", FixedNonce("")())
}

func TestSequenceNonce_Increments(t *testing.T) {
	next := SequenceNonce("n")

	assert.Equal(t, "n-1", next())
	assert.Equal(t, "n-2", next())
	assert.Equal(t, "n-3", next())
}

func TestSequenceNonce_ThreadSafe(t *testing.T) {
	next := SequenceNonce("n")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				v := next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 500)
}
