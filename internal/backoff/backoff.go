// Package backoff implements the randomized exponential escalation delay
// spec.md §4.2 and §9 require to avoid dueling-proposer livelock: "The
// backoff seed should include the proposer id to break symmetry."
//
// raft/raft.go seeds a single randomized election timeout per node
// (150+rand.Intn(150) ms) directly from math/rand's global source, which
// two proposers started at the same instant could still correlate on. This
// package instead derives the per-proposer seed by hashing the proposer id
// with blake2b so that independent proposers diverge deterministically
// from their first escalation, not just probabilistically from process
// start time.
package backoff

import (
	"encoding/binary"
	"math/rand"
	"time"

	"golang.org/x/crypto/blake2b"
)

const (
	// Base is the starting escalation delay (spec.md §5: "~50 ms").
	Base = 50 * time.Millisecond
	// Cap bounds the escalation delay (spec.md §5: "capped at ~2 s").
	Cap = 2 * time.Second
)

// Backoff produces a capped, randomized exponential series of escalation
// delays, seeded per proposer id.
type Backoff struct {
	rng     *rand.Rand
	attempt int
}

// New returns a Backoff whose random sequence is derived from proposerID,
// so that two proposers never draw the same jitter sequence even if they
// escalate in lockstep.
func New(proposerID int) *Backoff {
	var in [8]byte
	binary.BigEndian.PutUint64(in[:], uint64(proposerID))
	sum := blake2b.Sum256(in[:])
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	return &Backoff{rng: rand.New(rand.NewSource(seed))}
}

// Next returns the delay before the next escalation attempt and advances
// the series. Each call roughly doubles the prior window, capped at Cap,
// with full jitter within [0, window).
func (b *Backoff) Next() time.Duration {
	window := Base << b.attempt
	if window <= 0 || window > Cap {
		window = Cap
	}
	if b.attempt < 32 {
		b.attempt++
	}
	return time.Duration(b.rng.Int63n(int64(window)))
}

// Reset restarts the series at Base, used once a slot is decided and the
// proposer moves on to a fresh one.
func (b *Backoff) Reset() {
	b.attempt = 0
}
