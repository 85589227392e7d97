// Package arena implements a bounded pool of reusable byte buffers. It
// caps concurrent memory footprint by both buffer count and total bytes,
// and guarantees every rented buffer is recycled exactly once on every
// termination path: success, error, or cancellation.
package arena

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrCapacityExceeded is returned by Rent when granting the request would
// push the arena's live count above MaxCount or live bytes above MaxBytes.
var ErrCapacityExceeded = errors.New("arena: capacity exceeded")

// Buffer is a handle to a rented byte slice. The slice is exclusively
// owned by whoever holds the Buffer until it is passed to Recycle.
type Buffer struct {
	Data []byte

	cap int
}

// key returns a reference-equality identity for buf, used to dedupe the
// arena's tracked set instead of hashing by content.
func key(buf *Buffer) *Buffer { return buf }

// Arena is a concurrency-safe free-list of byte buffers bounded by a
// maximum live count and a maximum live byte total. Accounting is done
// with atomics; the free-list and tracked set are guarded by a mutex
// since buffers of varying capacity must be searched for a reusable match.
type Arena struct {
	maxCount int64
	maxBytes int64

	liveCount int64
	liveBytes int64

	mu       sync.Mutex
	tracked  map[*Buffer]struct{}
	free     []*Buffer
	disposed bool
}

// New creates an Arena that will never allow more than maxCount live
// buffers or more than maxBytes live bytes to be tracked concurrently.
// A cap of 0 means unbounded on that dimension.
func New(maxCount int, maxBytes int64) *Arena {
	return &Arena{
		maxCount: int64(maxCount),
		maxBytes: maxBytes,
		tracked:  make(map[*Buffer]struct{}),
	}
}

// Rent returns a buffer of at least minLen bytes. A free buffer with
// sufficient capacity is reused if one exists; otherwise a fresh buffer
// is allocated and added to the tracked set. The rent fails with
// ErrCapacityExceeded if granting it would exceed either configured cap;
// no accounting is mutated on failure.
func (a *Arena) Rent(minLen int) (*Buffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.disposed {
		return nil, errors.New("arena: rent after dispose")
	}

	for i, b := range a.free {
		if b.cap >= minLen {
			a.free = append(a.free[:i], a.free[i+1:]...)
			b.Data = b.Data[:minLen]
			return b, nil
		}
	}

	if err := a.checkCapsLocked(minLen); err != nil {
		return nil, err
	}

	buf := &Buffer{Data: make([]byte, minLen), cap: minLen}
	a.tracked[key(buf)] = struct{}{}

	atomic.AddInt64(&a.liveCount, 1)
	atomic.AddInt64(&a.liveBytes, int64(minLen))

	return buf, nil
}

// checkCapsLocked verifies that renting a fresh buffer of size n would
// not exceed the configured count/byte ceilings. Caller must hold a.mu.
func (a *Arena) checkCapsLocked(n int) error {
	if a.maxCount > 0 && atomic.LoadInt64(&a.liveCount)+1 > a.maxCount {
		return fmt.Errorf("%w: live count would exceed %d", ErrCapacityExceeded, a.maxCount)
	}
	if a.maxBytes > 0 && atomic.LoadInt64(&a.liveBytes)+int64(n) > a.maxBytes {
		return fmt.Errorf("%w: live bytes would exceed %d", ErrCapacityExceeded, a.maxBytes)
	}
	return nil
}

// Recycle marks buf as free for reuse. It is idempotent and safe to call
// concurrently from any worker goroutine; calling it with nil is a no-op.
func (a *Arena) Recycle(buf *Buffer) {
	if buf == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.disposed {
		return
	}
	if _, ok := a.tracked[key(buf)]; !ok {
		return // not ours, or already disposed
	}

	for _, f := range a.free {
		if f == buf {
			return // already recycled
		}
	}

	buf.Data = buf.Data[:buf.cap]
	a.free = append(a.free, buf)
}

// LiveCount returns the number of distinct buffers the arena has tracked
// since creation (allocated, whether currently rented or sitting free for
// reuse). It only returns to zero after Dispose.
func (a *Arena) LiveCount() int64 {
	return atomic.LoadInt64(&a.liveCount)
}

// LiveBytes returns the summed capacity of buffers the arena has tracked
// since creation. It only returns to zero after Dispose.
func (a *Arena) LiveBytes() int64 {
	return atomic.LoadInt64(&a.liveBytes)
}

// Dispose zeroes every tracked buffer exactly once — whether it was
// sitting free or is still held by an abandoned caller — and releases the
// arena's bookkeeping. It is idempotent.
func (a *Arena) Dispose() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.disposed {
		return
	}

	for b := range a.tracked {
		full := b.Data[:cap(b.Data)]
		for i := range full {
			full[i] = 0
		}
	}

	a.free = nil
	a.tracked = nil
	a.disposed = true

	atomic.StoreInt64(&a.liveCount, 0)
	atomic.StoreInt64(&a.liveBytes, 0)
}
