package pipeline

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"testing"
	"time"

	"github.com/ctnvault/streamcipher/internal/arena"
	"github.com/ctnvault/streamcipher/internal/wireformat"
)

func newTestArena() *arena.Arena {
	return arena.New(0, 0)
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return b
}

func encryptAll(t *testing.T, plaintext []byte, chunkSize, threads int, key []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	a := newTestArena()
	defer a.Dispose()

	_, err := Encrypt(context.Background(), EncryptParams{
		Reader:      bytes.NewReader(plaintext),
		Writer:      &out,
		FileKey:     key,
		NoncePrefix: 1,
		KeyID:       7,
		ChunkSize:   chunkSize,
		Threads:     threads,
		WindowCap:   4096,
		Arena:       a,
	})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return out.Bytes()
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := randomBytes(t, 32)
	plaintext := randomBytes(t, 50_000)

	ciphertext := encryptAll(t, plaintext, 4096, 4, key)

	var out bytes.Buffer
	a := newTestArena()
	defer a.Dispose()

	written, err := Decrypt(context.Background(), DecryptParams{
		Reader:       bytes.NewReader(ciphertext),
		Writer:       &out,
		FileKey:      key,
		NoncePrefix:  1,
		KeyID:        7,
		MaxChunkSize: 1 << 20,
		Threads:      4,
		WindowCap:    4096,
		Arena:        a,
	})
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if written != int64(len(plaintext)) {
		t.Errorf("written = %d, want %d", written, len(plaintext))
	}
	if !bytes.Equal(out.Bytes(), plaintext) {
		t.Error("round-trip plaintext mismatch")
	}
}

func TestEncryptDecrypt_EmptyInput(t *testing.T) {
	key := randomBytes(t, 32)
	ciphertext := encryptAll(t, nil, 4096, 2, key)
	if len(ciphertext) != 0 {
		t.Fatalf("expected no chunks for empty input, got %d bytes", len(ciphertext))
	}

	var out bytes.Buffer
	a := newTestArena()
	defer a.Dispose()

	written, err := Decrypt(context.Background(), DecryptParams{
		Reader:       bytes.NewReader(ciphertext),
		Writer:       &out,
		FileKey:      key,
		NoncePrefix:  1,
		KeyID:        7,
		MaxChunkSize: 1 << 20,
		Threads:      2,
		WindowCap:    256,
		Arena:        a,
	})
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if written != 0 {
		t.Errorf("written = %d, want 0", written)
	}
}

func TestEncryptDecrypt_ThreadsOnePreservesOrder(t *testing.T) {
	key := randomBytes(t, 32)
	plaintext := randomBytes(t, 10_000)

	// Threads: 1 is raised to MinThreads by the pipeline, so both runs
	// below use two workers.
	ciphertext := encryptAll(t, plaintext, 256, 1, key)

	var out bytes.Buffer
	a := newTestArena()
	defer a.Dispose()

	_, err := Decrypt(context.Background(), DecryptParams{
		Reader:       bytes.NewReader(ciphertext),
		Writer:       &out,
		FileKey:      key,
		NoncePrefix:  1,
		KeyID:        7,
		MaxChunkSize: 1 << 20,
		Threads:      1,
		WindowCap:    256,
		Arena:        a,
	})
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(out.Bytes(), plaintext) {
		t.Error("threads=1 round-trip mismatch")
	}
}

func TestDecrypt_TamperedChunkFailsAuthentication(t *testing.T) {
	key := randomBytes(t, 32)
	plaintext := randomBytes(t, 8_000)
	ciphertext := encryptAll(t, plaintext, 1024, 3, key)

	// Flip a byte inside the first chunk's ciphertext body (past its
	// ChunkHeaderSize-byte header) so GCM verification fails.
	ciphertext[wireformat.ChunkHeaderSize+2] ^= 0xFF

	var out bytes.Buffer
	a := newTestArena()
	defer a.Dispose()

	_, err := Decrypt(context.Background(), DecryptParams{
		Reader:       bytes.NewReader(ciphertext),
		Writer:       &out,
		FileKey:      key,
		NoncePrefix:  1,
		KeyID:        7,
		MaxChunkSize: 1 << 20,
		Threads:      3,
		WindowCap:    256,
		Arena:        a,
	})
	if err == nil {
		t.Fatal("expected authentication failure, got nil error")
	}
}

func TestDecrypt_SwappedChunksFailAuthentication(t *testing.T) {
	key := randomBytes(t, 32)
	plaintext := randomBytes(t, 2048)
	ciphertext := encryptAll(t, plaintext, 1024, 1, key)
	if len(ciphertext) < 2*(wireformat.ChunkHeaderSize+1024) {
		t.Fatalf("expected at least two full chunks, got %d bytes", len(ciphertext))
	}

	frameSize := wireformat.ChunkHeaderSize + 1024
	first := append([]byte(nil), ciphertext[0:frameSize]...)
	second := append([]byte(nil), ciphertext[frameSize:2*frameSize]...)

	swapped := append([]byte(nil), second...)
	swapped = append(swapped, first...)
	swapped = append(swapped, ciphertext[2*frameSize:]...)

	var out bytes.Buffer
	a := newTestArena()
	defer a.Dispose()

	_, err := Decrypt(context.Background(), DecryptParams{
		Reader:       bytes.NewReader(swapped),
		Writer:       &out,
		FileKey:      key,
		NoncePrefix:  1,
		KeyID:        7,
		MaxChunkSize: 1 << 20,
		Threads:      1,
		WindowCap:    256,
		Arena:        a,
	})
	if err == nil {
		t.Fatal("expected authentication failure after swapping chunks, got nil error")
	}
}

func TestDecrypt_WrongKeyIDFails(t *testing.T) {
	key := randomBytes(t, 32)
	plaintext := randomBytes(t, 1000)
	ciphertext := encryptAll(t, plaintext, 512, 2, key)

	var out bytes.Buffer
	a := newTestArena()
	defer a.Dispose()

	_, err := Decrypt(context.Background(), DecryptParams{
		Reader:       bytes.NewReader(ciphertext),
		Writer:       &out,
		FileKey:      key,
		NoncePrefix:  1,
		KeyID:        99, // file was sealed with key id 7
		MaxChunkSize: 1 << 20,
		Threads:      2,
		WindowCap:    256,
		Arena:        a,
	})
	if err == nil {
		t.Fatal("expected key id mismatch error, got nil")
	}
}

func TestDecrypt_TruncatedStreamRaisesUnexpectedEnd(t *testing.T) {
	key := randomBytes(t, 32)
	plaintext := randomBytes(t, 4000)
	ciphertext := encryptAll(t, plaintext, 1024, 2, key)

	// Cut the stream 10 bytes into the second chunk's header.
	truncated := ciphertext[:wireformat.ChunkHeaderSize+1024+10]

	var out bytes.Buffer
	a := newTestArena()
	defer a.Dispose()

	_, err := Decrypt(context.Background(), DecryptParams{
		Reader:       bytes.NewReader(truncated),
		Writer:       &out,
		FileKey:      key,
		NoncePrefix:  1,
		KeyID:        7,
		MaxChunkSize: 1 << 20,
		Threads:      2,
		WindowCap:    256,
		Arena:        a,
	})
	if err == nil {
		t.Fatal("expected an error for truncated stream, got nil")
	}
}

func TestDecrypt_StrictLengthMismatch(t *testing.T) {
	key := randomBytes(t, 32)
	plaintext := randomBytes(t, 4096)
	ciphertext := encryptAll(t, plaintext, 1024, 2, key)

	var out bytes.Buffer
	a := newTestArena()
	defer a.Dispose()

	_, err := Decrypt(context.Background(), DecryptParams{
		Reader:           bytes.NewReader(ciphertext),
		Writer:           &out,
		FileKey:          key,
		NoncePrefix:      1,
		KeyID:            7,
		MaxChunkSize:     1 << 20,
		Threads:          2,
		WindowCap:        256,
		Arena:            a,
		StrictLength:     true,
		ExpectedTotalLen: uint64(len(plaintext)) + 1,
	})
	if err != ErrLengthMismatch {
		t.Fatalf("err = %v, want ErrLengthMismatch", err)
	}
}

func TestEncrypt_CancellationStopsPromptly(t *testing.T) {
	key := randomBytes(t, 32)
	plaintext := randomBytes(t, 20_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	a := newTestArena()
	defer a.Dispose()

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Encrypt(ctx, EncryptParams{
		Reader:      bytes.NewReader(plaintext),
		Writer:      io.Discard,
		FileKey:     key,
		NoncePrefix: 1,
		KeyID:       1,
		ChunkSize:   4096,
		Threads:     4,
		WindowCap:   4096,
		Arena:       a,
	})

	if err == nil {
		t.Fatal("expected a cancellation-related error, got nil")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Encrypt took too long to stop after cancellation: %v", time.Since(start))
	}
}

func TestChannelCapacity_FloorsAtMinThreads(t *testing.T) {
	if got := ChannelCapacity(1); got != MinThreads*4 {
		t.Errorf("ChannelCapacity(1) = %d, want %d", got, MinThreads*4)
	}
	if got := ChannelCapacity(10); got != 40 {
		t.Errorf("ChannelCapacity(10) = %d, want 40", got)
	}
}
