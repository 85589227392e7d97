package streamcipher

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"github.com/ctnvault/streamcipher/internal/wireformat"
)

func sequentialMasterKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestNew_RejectsBadMasterKeySize(t *testing.T) {
	if _, err := New(make([]byte, 31), 7, 4); !errors.Is(err, ErrInvalidMasterKey) {
		t.Errorf("err = %v, want ErrInvalidMasterKey", err)
	}
}

func TestNew_RejectsNonPositiveKeyID(t *testing.T) {
	if _, err := New(make([]byte, 32), 0, 4); !errors.Is(err, ErrInvalidKeyID) {
		t.Errorf("err = %v, want ErrInvalidKeyID", err)
	}
}

func TestCipher_GoldenVectorHeaderPrefix(t *testing.T) {
	key := sequentialMasterKey(t)
	c, err := New(key, 7, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var out bytes.Buffer
	plaintext := []byte("Hello AES-GCM streaming!")
	if _, err := c.Encrypt(context.Background(), bytes.NewReader(plaintext), &out, MinChunkSize); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	want := []byte{0x43, 0x54, 0x4E, 0x31, 0x4C, 0x00, 0x00, 0x00}
	got := out.Bytes()[:8]
	if !bytes.Equal(got, want) {
		t.Errorf("header prefix = % X, want % X", got, want)
	}

	var roundTripped bytes.Buffer
	if _, err := c.Decrypt(context.Background(), bytes.NewReader(out.Bytes()), &roundTripped, DecryptOptions{}); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(roundTripped.Bytes(), plaintext) {
		t.Errorf("round trip = %q, want %q", roundTripped.Bytes(), plaintext)
	}
}

func TestCipher_RoundTripVaryingDataLen(t *testing.T) {
	key := sequentialMasterKey(t)

	for _, chunkSize := range []int{65_536, 131_072, MinChunkSize} {
		dataLen := int(float64(chunkSize)*2.5) + 123
		plaintext := make([]byte, dataLen)
		if _, err := rand.Read(plaintext); err != nil {
			t.Fatalf("rand.Read: %v", err)
		}

		c, err := New(key, 3, 4)
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		var out bytes.Buffer
		if _, err := c.Encrypt(context.Background(), bytes.NewReader(plaintext), &out, chunkSize); err != nil {
			t.Fatalf("chunkSize=%d Encrypt: %v", chunkSize, err)
		}

		var roundTripped bytes.Buffer
		if _, err := c.Decrypt(context.Background(), bytes.NewReader(out.Bytes()), &roundTripped, DecryptOptions{}); err != nil {
			t.Fatalf("chunkSize=%d Decrypt: %v", chunkSize, err)
		}
		if !bytes.Equal(roundTripped.Bytes(), plaintext) {
			t.Errorf("chunkSize=%d round trip mismatch", chunkSize)
		}
	}
}

func TestCipher_TamperedFirstCiphertextByteFailsAuthentication(t *testing.T) {
	key := sequentialMasterKey(t)
	c, err := New(key, 7, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plaintext := []byte("Hello AES-GCM streaming!")
	var out bytes.Buffer
	if _, err := c.Encrypt(context.Background(), bytes.NewReader(plaintext), &out, MinChunkSize); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tampered := out.Bytes()
	tampered[wireformat.FileHeaderPhysicalSize+wireformat.ChunkHeaderSize] ^= 0xFF

	var decrypted bytes.Buffer
	_, err = c.Decrypt(context.Background(), bytes.NewReader(tampered), &decrypted, DecryptOptions{})
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("err = %v, want ErrAuthenticationFailed", err)
	}
	if decrypted.Len() != 0 {
		t.Errorf("decrypted.Len() = %d, want 0", decrypted.Len())
	}
}

func TestCipher_TamperedKeyIDFailsBeforePlaintext(t *testing.T) {
	key := sequentialMasterKey(t)
	c, err := New(key, 7, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plaintext := []byte("Hello AES-GCM streaming!")
	var out bytes.Buffer
	if _, err := c.Encrypt(context.Background(), bytes.NewReader(plaintext), &out, MinChunkSize); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tampered := out.Bytes()
	// Set the file header's key_id field (offset 16, i32 LE) to 999.
	tampered[16] = 0xE7
	tampered[17] = 0x03
	tampered[18] = 0x00
	tampered[19] = 0x00

	var decrypted bytes.Buffer
	_, err = c.Decrypt(context.Background(), bytes.NewReader(tampered), &decrypted, DecryptOptions{})
	if err == nil {
		t.Fatal("expected an error for tampered key id, got nil")
	}
	if decrypted.Len() != 0 {
		t.Errorf("decrypted.Len() = %d, want 0", decrypted.Len())
	}
}

func TestCipher_PreCancelledContextStopsBeforeOutput(t *testing.T) {
	key := sequentialMasterKey(t)
	c, err := New(key, 1, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plaintext := make([]byte, 1<<20)
	var out bytes.Buffer
	_, err = c.Encrypt(ctx, bytes.NewReader(plaintext), &out, MinChunkSize)
	if err == nil {
		t.Fatal("expected an error for a pre-cancelled context, got nil")
	}
	if out.Len() > wireformat.FileHeaderPhysicalSize {
		t.Errorf("out.Len() = %d, want <= file header size %d", out.Len(), wireformat.FileHeaderPhysicalSize)
	}
}

func TestCipher_DigestRoundTrip(t *testing.T) {
	key := sequentialMasterKey(t)
	c, err := New(key, 5, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.SetDigest(true)

	plaintext := make([]byte, 100_000)
	if _, err := rand.Read(plaintext); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	var out bytes.Buffer
	encRes, err := c.Encrypt(context.Background(), bytes.NewReader(plaintext), &out, MinChunkSize)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if encRes.DigestB64 == "" {
		t.Fatal("expected a non-empty digest from Encrypt")
	}

	var decrypted bytes.Buffer
	decC, err := New(key, 5, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	decC.SetDigest(true)

	decRes, err := decC.Decrypt(context.Background(), bytes.NewReader(out.Bytes()), &decrypted, DecryptOptions{})
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decRes.DigestB64 != encRes.DigestB64 {
		t.Errorf("digest mismatch: encrypt=%s decrypt=%s", encRes.DigestB64, decRes.DigestB64)
	}
}

func TestCipher_EncryptStreamAndDecryptStream(t *testing.T) {
	key := sequentialMasterKey(t)
	c, err := New(key, 9, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plaintext := make([]byte, 50_000)
	if _, err := rand.Read(plaintext); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	ciphertextReader := c.EncryptStream(context.Background(), bytes.NewReader(plaintext), MinChunkSize)
	ciphertext, err := io.ReadAll(ciphertextReader)
	if err != nil {
		t.Fatalf("reading EncryptStream: %v", err)
	}
	ciphertextReader.Close()

	plaintextReader := c.DecryptStream(context.Background(), bytes.NewReader(ciphertext), DecryptOptions{})
	roundTripped, err := io.ReadAll(plaintextReader)
	if err != nil {
		t.Fatalf("reading DecryptStream: %v", err)
	}
	plaintextReader.Close()

	if !bytes.Equal(roundTripped, plaintext) {
		t.Error("stream round trip mismatch")
	}
}

func TestCipher_EmptyInputProducesHeaderOnly(t *testing.T) {
	key := sequentialMasterKey(t)
	c, err := New(key, 2, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var out bytes.Buffer
	if _, err := c.Encrypt(context.Background(), bytes.NewReader(nil), &out, MinChunkSize); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if out.Len() != wireformat.FileHeaderPhysicalSize {
		t.Errorf("out.Len() = %d, want %d (file header only)", out.Len(), wireformat.FileHeaderPhysicalSize)
	}

	var decrypted bytes.Buffer
	if _, err := c.Decrypt(context.Background(), bytes.NewReader(out.Bytes()), &decrypted, DecryptOptions{StrictLength: true}); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted.Len() != 0 {
		t.Errorf("decrypted.Len() = %d, want 0", decrypted.Len())
	}
}

func TestCipher_InvalidChunkSizeRejected(t *testing.T) {
	key := sequentialMasterKey(t)
	c, err := New(key, 4, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var out bytes.Buffer
	_, err = c.Encrypt(context.Background(), bytes.NewReader([]byte("x")), &out, 1)
	if !errors.Is(err, ErrInvalidChunkSize) {
		t.Errorf("err = %v, want ErrInvalidChunkSize", err)
	}
}
