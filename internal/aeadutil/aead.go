// Package aeadutil wraps AES-256-GCM behind a reusable cipher.AEAD handle.
// Unlike a per-call Seal/Open helper, a Cipher is constructed once per
// pipeline run and shared by all of that run's worker goroutines for every
// chunk — aes.NewCipher and cipher.NewGCM are not free, and building them
// once amortizes them across many chunks. Workers do not hold separate
// instances.
package aeadutil

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

var (
	// ErrInvalidKeySize is returned when a key is not exactly 32 bytes.
	ErrInvalidKeySize = errors.New("aeadutil: key must be exactly 32 bytes for AES-256")

	// ErrInvalidNonceSize is returned when a nonce is not exactly 12 bytes.
	ErrInvalidNonceSize = errors.New("aeadutil: nonce must be exactly 12 bytes for GCM")

	// ErrAuthenticationFailed is returned when GCM tag verification fails.
	// Callers must treat this as fatal to the chunk/operation: GCM never
	// returns partial plaintext on failure.
	ErrAuthenticationFailed = errors.New("aeadutil: authentication failed")
)

// Cipher is a single AES-256-GCM instance bound to one key. It is safe for
// concurrent use by multiple goroutines: cipher.AEAD implementations from
// the standard library do not mutate shared state across Seal/Open calls.
type Cipher struct {
	aead cipher.AEAD
}

// New constructs a Cipher from a 32-byte AES-256 key.
func New(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aeadutil: create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aeadutil: create GCM: %w", err)
	}

	return &Cipher{aead: gcm}, nil
}

// Overhead returns the number of bytes GCM appends to plaintext (the tag).
func (c *Cipher) Overhead() int { return c.aead.Overhead() }

// Seal encrypts and authenticates plaintext under nonce and aad, appending
// the result to dst (which may be nil to allocate fresh). nonce must be
// exactly 12 bytes and must never repeat under this Cipher's key.
func (c *Cipher) Seal(dst, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != 12 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidNonceSize, len(nonce))
	}
	return c.aead.Seal(dst, nonce, plaintext, aad), nil
}

// Open decrypts and verifies ciphertext (which must include its trailing
// tag) under nonce and aad, appending recovered plaintext to dst. If the
// tag does not verify it returns an error wrapping ErrAuthenticationFailed
// that carries the underlying error's text (not the error itself); no
// partial plaintext is ever returned in that case.
func (c *Cipher) Open(dst, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != 12 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidNonceSize, len(nonce))
	}

	plaintext, err := c.aead.Open(dst, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}
