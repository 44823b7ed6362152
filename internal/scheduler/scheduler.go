// Package scheduler produces jittered sleep durations (spec C4).
package scheduler

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
	"time"
)

// src is a cryptographically-seeded PRNG, shared process-wide, so
// that large fleets running this binary don't synchronize their jitter
// from a time-seeded default (spec §4.4, §9).
var (
	once sync.Once
	src  *rand.Rand
	mu   sync.Mutex
)

func get() *rand.Rand {
	once.Do(func() {
		var seed [32]byte
		if _, err := crand.Read(seed[:]); err != nil {
			// crypto/rand failing is effectively unrecoverable on any
			// real system; fall back to a time-derived seed rather
			// than panic a long-running announcer.
			binary.LittleEndian.PutUint64(seed[:8], uint64(time.Now().UnixNano()))
		}
		s1 := binary.LittleEndian.Uint64(seed[0:8])
		s2 := binary.LittleEndian.Uint64(seed[8:16])
		src = rand.New(rand.NewPCG(s1, s2))
	})
	return src
}

// Next returns base + uniform_random[0, jitter), per spec §4.4. base==0
// && jitter==0 returns 0 so the caller can skip sleeping entirely.
func Next(base, jitter time.Duration) time.Duration {
	if base == 0 && jitter == 0 {
		return 0
	}
	if jitter == 0 {
		return base
	}

	mu.Lock()
	n := get().Int64N(int64(jitter))
	mu.Unlock()

	return base + time.Duration(n)
}
