// Package streamcipher implements CTN1, a parallel, chunked, authenticated
// streaming cipher built on AES-256-GCM. It reads an arbitrary-length
// plaintext stream and produces a self-describing ciphertext stream (and
// vice versa), sealing each fixed-size chunk independently under a
// per-chunk nonce and binding a 32-byte AAD that pins the chunk's index and
// length. A fresh per-file key is generated for every Encrypt call and
// sealed into the file header under the caller-supplied master key.
//
// The package composes four internal pieces: internal/wireformat (the
// binary framing), internal/arena (bounded buffer pooling),
// internal/reorder (out-of-order result reassembly), and internal/pipeline
// (the bounded producer/worker-pool/consumer graphs that actually run the
// AEAD seal/open calls in parallel while writing output in strict
// chunk-index order). Cipher is the only exported entry point; callers
// never construct or touch those internal pieces directly.
package streamcipher
