package streamcipher

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ctnvault/streamcipher/internal/aeadutil"
	"github.com/ctnvault/streamcipher/internal/arena"
	"github.com/ctnvault/streamcipher/internal/digest"
	"github.com/ctnvault/streamcipher/internal/obs"
	"github.com/ctnvault/streamcipher/internal/pipeline"
	"github.com/ctnvault/streamcipher/internal/wireformat"
)

// Normative constants (spec.md §4.6): tag/nonce/key sizes live in
// internal/wireformat; these two bound chunkSize across both Encrypt and
// Decrypt so a stream sealed by one Cipher is always within range for any
// other.
const (
	MinChunkSize = 64 << 10  // 64 KiB
	MaxChunkSize = 1 << 30   // 1 GiB
	defaultArenaMaxCount = 64
	defaultArenaMaxBytes = 256 << 20 // 256 MiB
	defaultWindowCap     = 4096
)

// Cipher is the CTN1 facade. It owns a caller-supplied 32-byte master key,
// the key id stamped into every file header it writes (and checked against
// every file header it reads), and a worker count, and composes
// internal/wireformat, internal/arena, internal/reorder, and
// internal/pipeline into Encrypt/Decrypt over arbitrary byte streams.
type Cipher struct {
	masterKey []byte
	keyID     int32
	threads   int

	arenaMaxCount int
	arenaMaxBytes int64
	windowCap     int

	digestEnabled bool
	logger        *obs.Logger
	metrics       *obs.Metrics
}

// New constructs a Cipher. masterKey must be exactly 32 bytes. keyID must
// be a positive int32 (spec.md §4.6: keyId in [1, int32::MAX]). threads,
// if non-positive, defaults to runtime.GOMAXPROCS(0); otherwise it is
// clamped to max(pipeline.MinThreads, min(threads, runtime.NumCPU())),
// per spec.md §4.6.
func New(masterKey []byte, keyID int32, threads int) (*Cipher, error) {
	if len(masterKey) != wireformat.KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidMasterKey, len(masterKey))
	}
	if keyID <= 0 {
		return nil, ErrInvalidKeyID
	}
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	if cpu := runtime.NumCPU(); threads > cpu {
		threads = cpu
	}
	if threads < pipeline.MinThreads {
		threads = pipeline.MinThreads
	}

	key := make([]byte, len(masterKey))
	copy(key, masterKey)

	return &Cipher{
		masterKey:     key,
		keyID:         keyID,
		threads:       threads,
		arenaMaxCount: defaultArenaMaxCount,
		arenaMaxBytes: defaultArenaMaxBytes,
		windowCap:     defaultWindowCap,
	}, nil
}

// SetArenaLimits overrides the buffer arena's count/byte ceilings. A value
// of 0 means unbounded on that dimension.
func (c *Cipher) SetArenaLimits(maxCount int, maxBytes int64) {
	c.arenaMaxCount = maxCount
	c.arenaMaxBytes = maxBytes
}

// SetWindowCap overrides the reorder window's hard capacity ceiling.
func (c *Cipher) SetWindowCap(windowCap int) {
	c.windowCap = windowCap
}

// SetDigest enables or disables the supplemental BLAKE3 plaintext digest
// reported on Result.DigestB64. It is off by default since it adds a full
// extra pass' worth of hashing over every byte processed.
func (c *Cipher) SetDigest(enabled bool) {
	c.digestEnabled = enabled
}

// SetObservability wires a logger and metrics recorder into every
// subsequent Encrypt/Decrypt call. Either may be nil.
func (c *Cipher) SetObservability(logger *obs.Logger, metrics *obs.Metrics) {
	c.logger = logger
	c.metrics = metrics
}

// Close zeroes the Cipher's in-memory copy of the master key. A Cipher
// must not be used after Close.
func (c *Cipher) Close() {
	for i := range c.masterKey {
		c.masterKey[i] = 0
	}
}

// Encrypt seals plaintext read from r, writing the CTN1 file header
// followed by framed chunks to w. chunkSize must be in
// [MinChunkSize, MaxChunkSize]. A fresh random file key and nonce prefix
// are generated for this call alone.
func (c *Cipher) Encrypt(ctx context.Context, r io.Reader, w io.Writer, chunkSize int) (Result, error) {
	operationID := uuid.NewString()
	start := time.Now()

	if chunkSize < MinChunkSize || chunkSize > MaxChunkSize {
		return Result{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidChunkSize, chunkSize, MinChunkSize, MaxChunkSize)
	}

	fileKey := make([]byte, wireformat.KeySize)
	if _, err := rand.Read(fileKey); err != nil {
		return Result{}, fmt.Errorf("streamcipher: generate file key: %w", err)
	}
	defer zero(fileKey)

	var fileKeyNonce [wireformat.NonceSize]byte
	if _, err := rand.Read(fileKeyNonce[:]); err != nil {
		return Result{}, fmt.Errorf("streamcipher: generate file key nonce: %w", err)
	}

	noncePrefixBytes := make([]byte, 4)
	if _, err := rand.Read(noncePrefixBytes); err != nil {
		return Result{}, fmt.Errorf("streamcipher: generate nonce prefix: %w", err)
	}
	noncePrefix := binary.LittleEndian.Uint32(noncePrefixBytes)

	wrapAAD := make([]byte, wireformat.AADSize)
	if err := wireformat.WrapAAD(wrapAAD, c.keyID); err != nil {
		return Result{}, fmt.Errorf("streamcipher: build wrap aad: %w", err)
	}

	masterCipher, err := aeadutil.New(c.masterKey)
	if err != nil {
		return Result{}, fmt.Errorf("streamcipher: wrap file key: %w", err)
	}
	sealedFileKey, err := masterCipher.Seal(nil, fileKeyNonce[:], fileKey, wrapAAD)
	if err != nil {
		return Result{}, fmt.Errorf("streamcipher: wrap file key: %w", err)
	}

	var wrappedFileKey [wireformat.KeySize]byte
	copy(wrappedFileKey[:], sealedFileKey[:wireformat.KeySize])
	fileKeyTag := sealedFileKey[wireformat.KeySize:]

	totalLen, _ := measurableLen(r)

	headerBuf := make([]byte, wireformat.FileHeaderPhysicalSize)
	if err := wireformat.EncodeFileHeader(headerBuf, c.keyID, noncePrefix, fileKeyNonce, fileKeyTag, wrappedFileKey, totalLen); err != nil {
		return Result{}, fmt.Errorf("streamcipher: encode file header: %w", err)
	}
	if _, err := w.Write(headerBuf); err != nil {
		return Result{}, fmt.Errorf("streamcipher: write file header: %w", err)
	}

	a := arena.New(c.arenaMaxCount, c.arenaMaxBytes)
	defer a.Dispose()

	reader := r
	var run *digest.Running
	if c.digestEnabled {
		run = digest.New()
		reader = io.TeeReader(r, run)
	}

	var chunkCount int64
	onChunkSealed := func(index uint64, plaintextLen int) {
		atomic.AddInt64(&chunkCount, 1)
		if c.metrics != nil {
			c.metrics.RecordChunkSealed(plaintextLen, 0)
		}
		if c.logger != nil {
			c.logger.ChunkSealed(operationID, index, plaintextLen)
		}
	}

	if c.logger != nil {
		c.logger.PipelineStarted(operationID, "encrypt", int64(totalLen), c.threads)
	}
	if c.metrics != nil {
		c.metrics.RecordOperationStart()
	}

	written, err := pipeline.Encrypt(ctx, pipeline.EncryptParams{
		Reader:        reader,
		Writer:        w,
		FileKey:       fileKey,
		NoncePrefix:   noncePrefix,
		KeyID:         c.keyID,
		ChunkSize:     chunkSize,
		Threads:       c.threads,
		WindowCap:     c.windowCap,
		Arena:         a,
		OnChunkSealed: onChunkSealed,
	})

	if c.metrics != nil {
		c.metrics.RecordOperationComplete("encrypt", err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		if c.logger != nil {
			c.logger.PipelineFailed(operationID, err)
		}
		return Result{BytesProcessed: written, ChunkCount: int(atomic.LoadInt64(&chunkCount))}, err
	}
	if c.logger != nil {
		c.logger.PipelineCompleted(operationID, written, time.Since(start))
	}

	res := Result{BytesProcessed: written, ChunkCount: int(atomic.LoadInt64(&chunkCount))}
	if run != nil {
		res.DigestB64 = run.SumB64()
	}
	return res, nil
}

// DecryptOptions configures a Decrypt call.
type DecryptOptions struct {
	// StrictLength, when set, makes Decrypt return ErrLengthMismatch if the
	// file header recorded a non-zero total plaintext length that differs
	// from the bytes actually written (SPEC_FULL.md §11(b): a recorded
	// total of 0 is always treated as "unmeasured" and never compared).
	StrictLength bool
}

// Decrypt reads a CTN1 file header and framed chunks from r, writing
// recovered plaintext to w in strict chunk-index order.
func (c *Cipher) Decrypt(ctx context.Context, r io.Reader, w io.Writer, opts DecryptOptions) (Result, error) {
	operationID := uuid.NewString()
	start := time.Now()

	headerBuf := make([]byte, wireformat.FileHeaderPhysicalSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return Result{}, fmt.Errorf("streamcipher: read file header: %w", err)
	}
	header, err := wireformat.DecodeFileHeader(headerBuf)
	if err != nil {
		return Result{}, fmt.Errorf("streamcipher: decode file header: %w", err)
	}
	if header.KeyID != c.keyID {
		return Result{}, fmt.Errorf("%w: file key id %d != cipher key id %d", wireformat.ErrInvalidChunkLength, header.KeyID, c.keyID)
	}

	wrapAAD := make([]byte, wireformat.AADSize)
	if err := wireformat.WrapAAD(wrapAAD, header.KeyID); err != nil {
		return Result{}, fmt.Errorf("streamcipher: build wrap aad: %w", err)
	}

	combined := make([]byte, wireformat.KeySize+wireformat.TagSize)
	copy(combined[:wireformat.KeySize], header.WrappedFileKey[:])
	copy(combined[wireformat.KeySize:], header.FileKeyTag[:])

	masterCipher, err := aeadutil.New(c.masterKey)
	if err != nil {
		return Result{}, fmt.Errorf("streamcipher: unwrap file key: %w", err)
	}
	fileKey, err := masterCipher.Open(nil, header.FileKeyNonce[:], combined, wrapAAD)
	if err != nil {
		return Result{}, fmt.Errorf("streamcipher: unwrap file key: %w", err)
	}
	defer zero(fileKey)

	a := arena.New(c.arenaMaxCount, c.arenaMaxBytes)
	defer a.Dispose()

	writer := w
	var run *digest.Running
	if c.digestEnabled {
		run = digest.New()
		writer = io.MultiWriter(w, run)
	}

	var chunkCount int64
	onChunkOpened := func(index uint64, plaintextLen int) {
		atomic.AddInt64(&chunkCount, 1)
		if c.metrics != nil {
			c.metrics.RecordChunkOpened(plaintextLen, 0)
		}
		if c.logger != nil {
			c.logger.ChunkOpened(operationID, index, plaintextLen)
		}
	}

	if c.logger != nil {
		c.logger.PipelineStarted(operationID, "decrypt", int64(header.TotalPlaintextLen), c.threads)
	}
	if c.metrics != nil {
		c.metrics.RecordOperationStart()
	}

	written, err := pipeline.Decrypt(ctx, pipeline.DecryptParams{
		Reader:           r,
		Writer:           writer,
		FileKey:          fileKey,
		NoncePrefix:      header.NoncePrefix,
		KeyID:            header.KeyID,
		MaxChunkSize:     uint64(MaxChunkSize),
		Threads:          c.threads,
		WindowCap:        c.windowCap,
		Arena:            a,
		StrictLength:     opts.StrictLength,
		ExpectedTotalLen: header.TotalPlaintextLen,
		OnChunkOpened:    onChunkOpened,
	})

	if c.metrics != nil {
		c.metrics.RecordOperationComplete("decrypt", err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		if c.logger != nil {
			c.logger.PipelineFailed(operationID, err)
		}
		return Result{BytesProcessed: written, ChunkCount: int(atomic.LoadInt64(&chunkCount))}, err
	}
	if c.logger != nil {
		c.logger.PipelineCompleted(operationID, written, time.Since(start))
	}

	res := Result{BytesProcessed: written, ChunkCount: int(atomic.LoadInt64(&chunkCount))}
	if run != nil {
		res.DigestB64 = run.SumB64()
	}
	return res, nil
}

// measurableLen reports the number of bytes remaining in r if r exposes a
// way to learn it cheaply (the two stdlib in-memory reader shapes), and
// false otherwise — in which case Encrypt records a total of 0, meaning
// "unmeasured" (spec.md §3, §4.4 edge cases).
func measurableLen(r io.Reader) (uint64, bool) {
	type lenReader interface{ Len() int }
	if lr, ok := r.(lenReader); ok {
		if n := lr.Len(); n >= 0 {
			return uint64(n), true
		}
	}
	return 0, false
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
