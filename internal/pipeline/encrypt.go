package pipeline

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/ctnvault/streamcipher/internal/aeadutil"
	"github.com/ctnvault/streamcipher/internal/arena"
	"github.com/ctnvault/streamcipher/internal/chunker"
	"github.com/ctnvault/streamcipher/internal/reorder"
	"github.com/ctnvault/streamcipher/internal/wireformat"
)

// EncryptParams configures a single Encrypt run. FileKey must be the
// unwrapped 32-byte per-file key; callers are responsible for generating
// and wrapping it into the file header before calling Encrypt, and for
// zeroing it afterward.
type EncryptParams struct {
	Reader      io.Reader
	Writer      io.Writer
	FileKey     []byte
	NoncePrefix uint32
	KeyID       int32
	ChunkSize   int
	Threads     int
	WindowCap   int
	Arena       *arena.Arena

	// OnChunkSealed, if non-nil, is called from a worker goroutine after
	// each chunk is sealed, before the consumer has necessarily written
	// it — used to feed metrics/logging without adding a hard dependency
	// on internal/obs here.
	OnChunkSealed func(index uint64, plaintextLen int)
}

// Encrypt runs the producer/worker-pool/consumer graph that seals
// plaintext from p.Reader into framed chunks written to p.Writer, in
// strict index order. It returns the number of plaintext bytes consumed.
// The file header itself is not written by Encrypt; callers write it
// first (streamcipher.Cipher.Encrypt does this) since it depends on
// information — the wrapped file key — that this package does not own.
func Encrypt(ctx context.Context, p EncryptParams) (int64, error) {
	threads := normalizeThreads(p.Threads)
	chanCap := ChannelCapacity(threads)

	cipher, err := aeadutil.New(p.FileKey)
	if err != nil {
		return 0, fmt.Errorf("pipeline: encrypt: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan encJob, chanCap)
	results := make(chan encResult, chanCap)

	var errOnce sync.Once
	var firstErr error
	setErr := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	var producerWG sync.WaitGroup
	producerWG.Add(1)
	go func() {
		defer producerWG.Done()
		if err := runEncryptProducer(runCtx, p, jobs); err != nil {
			setErr(err)
		}
		close(jobs)
	}()

	var workersWG sync.WaitGroup
	workersWG.Add(threads)
	for i := 0; i < threads; i++ {
		go func() {
			defer workersWG.Done()
			runEncryptWorker(runCtx, p, cipher, jobs, results, setErr)
		}()
	}
	go func() {
		workersWG.Wait()
		close(results)
	}()

	written, consumeErr := runEncryptConsumer(runCtx, p, results)
	if consumeErr != nil {
		setErr(consumeErr)
	}
	producerWG.Wait()

	if firstErr != nil {
		return written, firstErr
	}
	if ctx.Err() != nil {
		return written, ErrCancelled
	}
	return written, nil
}

func runEncryptProducer(ctx context.Context, p EncryptParams, jobs chan<- encJob) error {
	c, err := chunker.New(p.Reader, p.ChunkSize)
	if err != nil {
		return fmt.Errorf("pipeline: producer: %w", err)
	}

	scratch := make([]byte, p.ChunkSize)
	for {
		if err := checkCancelled(ctx); err != nil {
			return err
		}

		chunk, index, err := c.Next(scratch)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("pipeline: producer: read: %w", err)
		}
		if index == math.MaxUint64 {
			return fmt.Errorf("pipeline: producer: %w", wireformat.ErrCounterExhausted)
		}

		buf, err := p.Arena.Rent(len(chunk))
		if err != nil {
			return fmt.Errorf("pipeline: producer: %w", err)
		}
		copy(buf.Data, chunk)

		job := encJob{index: index, buf: buf, n: len(chunk)}
		select {
		case <-ctx.Done():
			p.Arena.Recycle(buf)
			return ErrCancelled
		case jobs <- job:
		}
	}
}

func runEncryptWorker(ctx context.Context, p EncryptParams, cipher *aeadutil.Cipher, jobs <-chan encJob, results chan<- encResult, setErr func(error)) {
	nonce := make([]byte, wireformat.NonceSize)
	aad := make([]byte, wireformat.AADSize)
	if err := wireformat.InitAADPrefix(aad, p.KeyID); err != nil {
		setErr(fmt.Errorf("pipeline: worker: %w", err))
		return
	}

	for job := range jobs {
		if err := checkCancelled(ctx); err != nil {
			p.Arena.Recycle(job.buf)
			setErr(err)
			continue
		}

		if err := wireformat.ComposeNonce(nonce, p.NoncePrefix, job.index); err != nil {
			p.Arena.Recycle(job.buf)
			setErr(fmt.Errorf("pipeline: worker: %w", err))
			continue
		}
		if err := wireformat.FillAADMutable(aad, job.index, uint64(job.n)); err != nil {
			p.Arena.Recycle(job.buf)
			setErr(fmt.Errorf("pipeline: worker: %w", err))
			continue
		}

		sealed, err := cipher.Seal(nil, nonce, job.buf.Data[:job.n], aad)
		p.Arena.Recycle(job.buf)
		if err != nil {
			setErr(fmt.Errorf("pipeline: worker: %w", err))
			continue
		}

		ctBuf, err := p.Arena.Rent(len(sealed) - wireformat.TagSize)
		if err != nil {
			setErr(fmt.Errorf("pipeline: worker: %w", err))
			continue
		}
		copy(ctBuf.Data, sealed[:len(sealed)-wireformat.TagSize])

		var tag [16]byte
		copy(tag[:], sealed[len(sealed)-wireformat.TagSize:])

		if p.OnChunkSealed != nil {
			p.OnChunkSealed(job.index, job.n)
		}

		res := encResult{index: job.index, tag: tag, buf: ctBuf, n: len(ctBuf.Data)}
		select {
		case <-ctx.Done():
			p.Arena.Recycle(ctBuf)
			setErr(ErrCancelled)
		case results <- res:
		}
	}
}

func runEncryptConsumer(ctx context.Context, p EncryptParams, results <-chan encResult) (int64, error) {
	window := reorder.New(initialWindowSize(normalizeThreads(p.Threads), p.WindowCap), p.WindowCap)
	var written int64
	headerBuf := make([]byte, wireformat.ChunkHeaderSize)

	flush := func() error {
		for {
			v, ok := window.TryPopNext()
			if !ok {
				return nil
			}
			r := v.(encResult)

			if err := wireformat.EncodeChunkHeader(headerBuf, p.KeyID, r.tag[:], uint64(r.n)); err != nil {
				p.Arena.Recycle(r.buf)
				return fmt.Errorf("pipeline: consumer: %w", err)
			}
			if _, err := p.Writer.Write(headerBuf); err != nil {
				p.Arena.Recycle(r.buf)
				return fmt.Errorf("pipeline: consumer: write header: %w", err)
			}
			if _, err := p.Writer.Write(r.buf.Data); err != nil {
				p.Arena.Recycle(r.buf)
				return fmt.Errorf("pipeline: consumer: write ciphertext: %w", err)
			}
			written += int64(r.n)
			p.Arena.Recycle(r.buf)
		}
	}

	for {
		if err := checkCancelled(ctx); err != nil {
			return written, err
		}

		select {
		case <-ctx.Done():
			return written, ErrCancelled
		case r, ok := <-results:
			if !ok {
				if err := flush(); err != nil {
					return written, err
				}
				return written, nil
			}
			if err := window.Put(r.index, r); err != nil {
				p.Arena.Recycle(r.buf)
				return written, fmt.Errorf("pipeline: consumer: %w", err)
			}
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
}
