package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ctnvault/streamcipher/internal/aeadutil"
	"github.com/ctnvault/streamcipher/internal/arena"
	"github.com/ctnvault/streamcipher/internal/reorder"
	"github.com/ctnvault/streamcipher/internal/wireformat"
)

// DecryptParams configures a single Decrypt run. FileKey must be the
// already-unwrapped 32-byte per-file key; streamcipher.Cipher.Decrypt reads
// and unwraps the file header before calling Decrypt, and zeroes FileKey
// afterward.
type DecryptParams struct {
	Reader       io.Reader
	Writer       io.Writer
	FileKey      []byte
	NoncePrefix  uint32
	KeyID        int32
	MaxChunkSize uint64
	Threads      int
	WindowCap    int
	Arena        *arena.Arena

	// StrictLength, ExpectedTotalLen: when StrictLength is set and
	// ExpectedTotalLen is non-zero, Decrypt returns ErrLengthMismatch if
	// the bytes actually written differ from it (SPEC_FULL.md §11(b)).
	StrictLength     bool
	ExpectedTotalLen uint64

	// OnChunkOpened, if non-nil, is called from a worker goroutine after
	// each chunk is opened and verified.
	OnChunkOpened func(index uint64, plaintextLen int)
}

// Decrypt runs the producer/worker-pool/consumer graph that opens framed
// chunks read from p.Reader, writing recovered plaintext to p.Writer in
// strict index order. It returns the number of plaintext bytes produced.
// Chunk index is not carried on the wire: it is assigned positionally, by
// the order frames are read from the stream, exactly mirroring how Encrypt
// assigned it by the order plaintext was read. A chunk whose ciphertext or
// tag was moved to a different position therefore fails authentication
// against the index-bound AAD, rather than silently decrypting in the
// wrong place.
func Decrypt(ctx context.Context, p DecryptParams) (int64, error) {
	threads := normalizeThreads(p.Threads)
	chanCap := ChannelCapacity(threads)

	cipher, err := aeadutil.New(p.FileKey)
	if err != nil {
		return 0, fmt.Errorf("pipeline: decrypt: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan decJob, chanCap)
	results := make(chan decResult, chanCap)

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
		if err := runDecryptProducer(runCtx, p, jobs); err != nil {
			setErr(err)
		}
		close(jobs)
	}()

	var workersWG sync.WaitGroup
	workersWG.Add(threads)
	for i := 0; i < threads; i++ {
		go func() {
			defer workersWG.Done()
			runDecryptWorker(runCtx, p, cipher, jobs, results, setErr)
		}()
	}
	go func() {
		workersWG.Wait()
		close(results)
	}()

	written, consumeErr := runDecryptConsumer(runCtx, p, results)
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
	if p.StrictLength && p.ExpectedTotalLen != 0 && written != int64(p.ExpectedTotalLen) {
		return written, ErrLengthMismatch
	}
	return written, nil
}

func runDecryptProducer(ctx context.Context, p DecryptParams, jobs chan<- decJob) error {
	headerBuf := make([]byte, wireformat.ChunkHeaderSize)
	var index uint64

	for {
		if err := checkCancelled(ctx); err != nil {
			return err
		}

		if _, err := io.ReadFull(p.Reader, headerBuf); err != nil {
			if err == io.EOF {
				return nil
			}
			if err == io.ErrUnexpectedEOF {
				return fmt.Errorf("pipeline: producer: %w", ErrUnexpectedEnd)
			}
			return fmt.Errorf("pipeline: producer: read chunk header: %w", err)
		}

		hdr, err := wireformat.DecodeChunkHeader(headerBuf)
		if err != nil {
			return fmt.Errorf("pipeline: producer: %w", err)
		}
		if hdr.KeyID != p.KeyID {
			return fmt.Errorf("pipeline: producer: %w: chunk key id %d != file key id %d", wireformat.ErrInvalidChunkLength, hdr.KeyID, p.KeyID)
		}
		if err := wireformat.ValidateChunkPlaintextLen(hdr.PlaintextLen, p.MaxChunkSize); err != nil {
			return fmt.Errorf("pipeline: producer: %w", err)
		}

		n := int(hdr.PlaintextLen)
		buf, err := p.Arena.Rent(n + wireformat.TagSize)
		if err != nil {
			return fmt.Errorf("pipeline: producer: %w", err)
		}

		if _, err := io.ReadFull(p.Reader, buf.Data[:n]); err != nil {
			p.Arena.Recycle(buf)
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return fmt.Errorf("pipeline: producer: %w", ErrUnexpectedEnd)
			}
			return fmt.Errorf("pipeline: producer: read ciphertext: %w", err)
		}
		copy(buf.Data[n:n+wireformat.TagSize], hdr.Tag[:])

		job := decJob{index: index, tag: hdr.Tag, buf: buf, n: n}
		select {
		case <-ctx.Done():
			p.Arena.Recycle(buf)
			return ErrCancelled
		case jobs <- job:
		}
		index++
	}
}

func runDecryptWorker(ctx context.Context, p DecryptParams, cipher *aeadutil.Cipher, jobs <-chan decJob, results chan<- decResult, setErr func(error)) {
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

		ptBuf, err := p.Arena.Rent(job.n)
		if err != nil {
			p.Arena.Recycle(job.buf)
			setErr(fmt.Errorf("pipeline: worker: %w", err))
			continue
		}

		opened, err := cipher.Open(ptBuf.Data[:0], nonce, job.buf.Data, aad)
		p.Arena.Recycle(job.buf)
		if err != nil {
			p.Arena.Recycle(ptBuf)
			// AuthenticationFailed aborts the whole operation: GCM never
			// returns partial plaintext, and a single forged or
			// misordered chunk invalidates the stream.
			setErr(fmt.Errorf("pipeline: worker: %w", err))
			continue
		}
		ptBuf.Data = opened

		if p.OnChunkOpened != nil {
			p.OnChunkOpened(job.index, job.n)
		}

		res := decResult{index: job.index, buf: ptBuf, n: job.n}
		select {
		case <-ctx.Done():
			p.Arena.Recycle(ptBuf)
			setErr(ErrCancelled)
		case results <- res:
		}
	}
}

func runDecryptConsumer(ctx context.Context, p DecryptParams, results <-chan decResult) (int64, error) {
	window := reorder.New(initialWindowSize(normalizeThreads(p.Threads), p.WindowCap), p.WindowCap)
	var written int64

	flush := func() error {
		for {
			v, ok := window.TryPopNext()
			if !ok {
				return nil
			}
			r := v.(decResult)

			if _, err := p.Writer.Write(r.buf.Data); err != nil {
				p.Arena.Recycle(r.buf)
				return fmt.Errorf("pipeline: consumer: write plaintext: %w", err)
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
