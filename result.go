package streamcipher

// Result reports the outcome of a completed Encrypt or Decrypt call.
type Result struct {
	// BytesProcessed is the number of plaintext bytes consumed (Encrypt)
	// or produced (Decrypt).
	BytesProcessed int64

	// ChunkCount is the number of chunks sealed or opened.
	ChunkCount int

	// DigestB64 is the base64-encoded BLAKE3 digest of the plaintext, set
	// only when the Cipher was configured with digest reporting enabled.
	// It is purely informational: it is never part of the wire format and
	// never affects success or failure of the operation.
	DigestB64 string
}
