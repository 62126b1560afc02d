// Package prime implements the trial-division primality test and the
// six-digit prime sampler used to mint ticket integrity codes.
package prime

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	mrand "math/rand"
)

// Bounds of a six-digit prime.
const (
	Min = 100000
	Max = 999999
)

// DefaultMaxSamples caps rejection sampling. Primes have a density of about
// 1/13 in [Min, Max], so hitting the cap means the random source is broken.
const DefaultMaxSamples = 10000

// ErrSamplingExhausted is returned when no prime was drawn within the cap.
var ErrSamplingExhausted = errors.New("prime: sampling attempts exhausted")

// IsPrime reports whether n is prime using 6k±1 trial division.
func IsPrime(n int64) bool {
	if n <= 1 {
		return false
	}
	if n <= 3 {
		return true
	}
	if n%2 == 0 || n%3 == 0 {
		return false
	}
	for i := int64(5); i*i <= n; i += 6 {
		if n%i == 0 || n%(i+2) == 0 {
			return false
		}
	}
	return true
}

// Sampler draws uniform six-digit primes. It is not safe for concurrent use;
// create one per request.
type Sampler struct {
	src         *mrand.Rand
	maxAttempts int
}

// NewSampler returns a Sampler. A zero seed seeds from crypto/rand and a
// non-positive maxAttempts selects DefaultMaxSamples.
func NewSampler(seed int64, maxAttempts int) *Sampler {
	if seed == 0 {
		seed = CryptoSeed()
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxSamples
	}
	return &Sampler{src: mrand.New(mrand.NewSource(seed)), maxAttempts: maxAttempts}
}

// Rand exposes the sampler's random source so callers can draw other values
// (purchase codes) from the same seeded stream.
func (s *Sampler) Rand() *mrand.Rand { return s.src }

// SixDigit draws candidates in [Min, Max] until one is prime.
func (s *Sampler) SixDigit() (int64, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		n := Min + s.src.Int63n(Max-Min+1)
		if IsPrime(n) {
			return n, nil
		}
	}
	return 0, ErrSamplingExhausted
}

// seedSource feeds CryptoSeed.
var seedSource io.Reader = rand.Reader

// CryptoSeed returns a non-zero seed read from crypto/rand. It panics if the
// system randomness source fails.
func CryptoSeed() int64 {
	var b [8]byte
	if _, err := io.ReadFull(seedSource, b[:]); err != nil {
		panic(fmt.Sprintf("prime: read seed: %v", err))
	}
	seed := int64(binary.LittleEndian.Uint64(b[:]))
	if seed == 0 {
		seed = 1
	}
	return seed
}
