// Package ids provides the engine's identifier and clock primitives: trace
// ids for log correlation, and the random ASCII path segment used for
// unguessable stream URLs (spec §4.6).
package ids

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// NewTraceID returns a fresh opaque identifier for correlating a segment,
// request, or session across log lines.
func NewTraceID() string {
	return uuid.NewString()
}

// pathAlphabet is lowercase letters only (spec §3: "lowercase letters,
// length L, default 10").
const pathAlphabet = "abcdefghijklmnopqrstuvwxyz"

var pathAlphabetSize = big.NewInt(int64(len(pathAlphabet)))

// NewStreamPath returns a random, unguessable path segment of the given
// length for the "/stream/{path}/..." URL space. Using crypto/rand via
// rand.Int (not a byte-modulo reduction) matters here for two reasons:
// the path segment is the only thing standing between an on-LAN
// eavesdropper and the live feed and must not be predictable across
// regenerate_path() calls (spec §4.6), and rand.Int draws uniformly from
// [0, len(pathAlphabet)) with no modulo bias toward the low end of the
// alphabet.
func NewStreamPath(length int) (string, error) {
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, pathAlphabetSize)
		if err != nil {
			return "", err
		}
		out[i] = pathAlphabet[n.Int64()]
	}
	return string(out), nil
}

// Clock abstracts wall-clock access so tests can substitute a fixed or
// stepped clock without sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
