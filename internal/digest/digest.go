// Package digest computes an optional, non-authenticating BLAKE3 fingerprint
// of plaintext as it streams through the pipeline. It exists purely for
// informational integrity reporting (e.g. comparing two decrypted outputs
// out of band); it is never part of the CTN1 wire format and never
// participates in the AEAD trust model. A corrupted or missing digest never
// blocks Encrypt/Decrypt — only AES-GCM's tag decides authenticity.
package digest

import (
	"encoding/base64"
	"sync"

	"github.com/zeebo/blake3"
)

// Running accumulates a BLAKE3 digest across chunks written to it by
// multiple pipeline stages. Write is safe for concurrent use so a worker
// pool can feed it chunk plaintext in parallel; the caller is responsible
// for writing chunks in index order if a deterministic final digest is
// required (this package does not reorder on its own).
type Running struct {
	mu sync.Mutex
	h  *blake3.Hasher
}

// New returns a Running digest ready to accept writes.
func New() *Running {
	return &Running{h: blake3.New()}
}

// Write feeds p into the running digest. It never returns an error; BLAKE3
// hashing cannot fail on well-formed input.
func (r *Running) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.h.Write(p)
}

// SumB64 returns the base64-encoded digest of everything written so far.
// It does not reset the running state.
func (r *Running) SumB64() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return base64.StdEncoding.EncodeToString(r.h.Sum(nil))
}

// Sum returns the raw 32-byte digest of everything written so far.
func (r *Running) Sum() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.h.Sum(nil)
}

// FileB64 computes the BLAKE3 digest of a complete in-memory buffer,
// base64-encoded, for callers that already hold the whole plaintext and
// don't need a Running accumulator. The Encrypt/Decrypt facade uses
// Running, not FileB64.
func FileB64(data []byte) string {
	h := blake3.New()
	h.Write(data)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
