// Package chunker splits an io.Reader into fixed-size plaintext chunks for
// the encryption pipeline's producer stage. It performs no hashing, no
// manifest bookkeeping, and no random access — CTN1 is a sequential stream
// format, read front to back exactly once per operation.
package chunker

import (
	"errors"
	"fmt"
	"io"
)

// ErrInvalidChunkSize is returned by New when chunkSize is not positive.
var ErrInvalidChunkSize = errors.New("chunker: chunk size must be positive")

// Chunker reads fixed-size chunks from an underlying io.Reader, indexing
// them from zero in read order. Every chunk but the last is exactly
// chunkSize bytes; the last chunk may be shorter. It is not safe for
// concurrent use — the pipeline producer is expected to be the sole caller.
type Chunker struct {
	reader    io.Reader
	chunkSize int
	nextIndex uint64
	done      bool
}

// New creates a Chunker reading fixed-size chunks of chunkSize bytes from r.
func New(r io.Reader, chunkSize int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	return &Chunker{reader: r, chunkSize: chunkSize}, nil
}

// Next reads the next chunk into dst (which must be at least chunkSize
// bytes) and returns the slice of dst actually filled along with its
// index. It returns io.EOF once the underlying reader is exhausted with no
// further bytes available; a short final read is not an error.
func (c *Chunker) Next(dst []byte) (chunk []byte, index uint64, err error) {
	if c.done {
		return nil, 0, io.EOF
	}
	if len(dst) < c.chunkSize {
		return nil, 0, fmt.Errorf("chunker: dst too short: %d < %d", len(dst), c.chunkSize)
	}

	n, err := io.ReadFull(c.reader, dst[:c.chunkSize])
	switch {
	case err == nil:
		index = c.nextIndex
		c.nextIndex++
		return dst[:n], index, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.done = true
		index = c.nextIndex
		c.nextIndex++
		return dst[:n], index, nil
	case errors.Is(err, io.EOF):
		c.done = true
		return nil, 0, io.EOF
	default:
		return nil, 0, fmt.Errorf("chunker: read: %w", err)
	}
}
