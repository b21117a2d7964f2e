package testutil

import (
	"fmt"
	"sync"
)

// FixedNonce returns a nonce source that always yields the same value.
//
// Plugged into keys.WithNonce it makes uuid-derived keys reproducible, so
// golden output does not depend on crypto randomness.
//
// If nonce is empty, "test-nonce-default" is used.
func FixedNonce(nonce string) func() string {
	if nonce == "" {
		nonce = "test-nonce-default"
	}
	return func() string { return nonce }
}

// SequenceNonce yields prefix-1, prefix-2, ... so each derived key differs
// while staying deterministic.
//
// Thread-safety: safe for concurrent use.
func SequenceNonce(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}
