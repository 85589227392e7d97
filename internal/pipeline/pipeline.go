// Package pipeline runs the bounded producer/worker-pool/consumer graphs
// that seal and open CTN1 chunks in parallel while preserving strict
// in-order output. Both directions share the same channel-capacity formula
// (threads*4) and the same reorder window package for result reassembly;
// see streamcipher.Cipher for the facade that wires a pipeline run to the
// wire-format file header and the unwrapped file key.
package pipeline

import (
	"context"
	"errors"

	"github.com/ctnvault/streamcipher/internal/arena"
)

// ErrCancelled is returned when ctx is cancelled before or during a run.
// It wraps no underlying error: cancellation bounds how much additional
// output is produced, it does not describe a malformed stream.
var ErrCancelled = errors.New("pipeline: cancelled")

// ErrLengthMismatch is returned by Decrypt when StrictLength is set, the
// file header recorded a non-zero total plaintext length, and the bytes
// actually written differ from it.
var ErrLengthMismatch = errors.New("pipeline: decrypted length does not match recorded total")

// ErrUnexpectedEnd is returned when the ciphertext stream ends mid-frame:
// fewer than a full chunk header, or fewer than a chunk's declared
// plaintext length, remain to be read.
var ErrUnexpectedEnd = errors.New("pipeline: unexpected end of input")

// MinThreads is the floor applied to any caller-supplied thread count.
const MinThreads = 2

// ChannelCapacity returns the bounded job/result channel capacity used by
// both pipelines for a given worker count: threads*4, per spec.md §4.4
// step 2, normalized across encrypt and decrypt (SPEC_FULL.md §11(a)).
func ChannelCapacity(threads int) int {
	if threads < MinThreads {
		threads = MinThreads
	}
	return threads * 4
}

// encJob is one unit of encryption work: a rented plaintext buffer at a
// given chunk index.
type encJob struct {
	index uint64
	buf   *arena.Buffer
	n     int
}

// encResult is a sealed chunk ready to be written once its index is next.
type encResult struct {
	index uint64
	tag   [16]byte
	buf   *arena.Buffer // ciphertext, length n
	n     int
}

// decJob is one unit of decryption work: a rented ciphertext buffer plus
// the tag read from its chunk header and its positional index (the order
// in which the producer read it).
type decJob struct {
	index uint64
	tag   [16]byte
	buf   *arena.Buffer
	n     int
}

// decResult is an opened chunk ready to be written once its index is next.
type decResult struct {
	index uint64
	buf   *arena.Buffer // plaintext, length n
	n     int
}

// initialWindowSize computes the reorder window's starting capacity:
// clamp(threads*4, 4, windowCap), per spec.md §4.3. windowCap of 0 means
// unbounded, in which case only the lower clamp of 4 applies.
func initialWindowSize(threads int, windowCap int) int {
	n := ChannelCapacity(threads)
	if n < 4 {
		n = 4
	}
	if windowCap > 0 && n > windowCap {
		n = windowCap
	}
	return n
}

// normalizeThreads applies the MinThreads floor used throughout the
// pipeline package.
func normalizeThreads(threads int) int {
	if threads < MinThreads {
		return MinThreads
	}
	return threads
}

// checkCancelled is a small helper so every loop-top/pre-channel-op check
// reads the same way across producer/worker/consumer code.
func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
		return nil
	}
}
