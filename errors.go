package streamcipher

import (
	"errors"

	"github.com/ctnvault/streamcipher/internal/aeadutil"
	"github.com/ctnvault/streamcipher/internal/arena"
	"github.com/ctnvault/streamcipher/internal/pipeline"
	"github.com/ctnvault/streamcipher/internal/reorder"
	"github.com/ctnvault/streamcipher/internal/wireformat"
)

// Exported sentinel errors, one per kind in the CTN1 error taxonomy.
// Format, authentication, arena, reorder and cancellation failures wrap one
// of these, so callers can use errors.Is regardless of which internal
// package actually raised it. Errors from Encrypt/Decrypt's own header
// reads/writes and random-key generation wrap the underlying I/O or
// crypto/rand error instead.
var (
	ErrBadMagic           = wireformat.ErrBadMagic
	ErrBadHeaderLength    = wireformat.ErrBadHeaderLength
	ErrBadChunkHeader     = wireformat.ErrBadChunkHeader
	ErrUnsupportedTagSize = wireformat.ErrUnsupportedTagSize
	ErrInvalidChunkLength = wireformat.ErrInvalidChunkLength
	ErrCounterExhausted   = wireformat.ErrCounterExhausted

	ErrUnexpectedEnd = pipeline.ErrUnexpectedEnd
	ErrLengthMismatch = pipeline.ErrLengthMismatch
	ErrCancelled      = pipeline.ErrCancelled

	ErrAuthenticationFailed = aeadutil.ErrAuthenticationFailed

	ErrDuplicateChunkIndex  = reorder.ErrDuplicateChunkIndex
	ErrReorderSlotCollision = reorder.ErrReorderSlotCollision
	ErrReorderOverflow      = reorder.ErrReorderOverflow

	ErrCapacityExceeded = arena.ErrCapacityExceeded
)

// ErrInvalidMasterKey is returned by New when masterKey is not exactly 32
// bytes.
var ErrInvalidMasterKey = errors.New("streamcipher: master key must be exactly 32 bytes")

// ErrInvalidKeyID is returned by New when keyID is not a positive int32.
var ErrInvalidKeyID = errors.New("streamcipher: key id must be a positive int32")

// ErrInvalidChunkSize is returned by Encrypt when chunkSize falls outside
// [MinChunkSize, MaxChunkSize].
var ErrInvalidChunkSize = errors.New("streamcipher: chunk size out of range")
