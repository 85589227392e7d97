package streamcipher

import (
	"context"
	"io"
)

// EncryptStream runs Encrypt against r on a background goroutine and
// returns an io.ReadCloser streaming the ciphertext as it is produced,
// grounded on the teacher's background-goroutine-over-a-pipe pattern in
// its relay accept loop. Reading from the returned ReadCloser surfaces any
// Encrypt error as the final error from Read, wrapping the underlying
// sentinel so errors.Is still matches. Closing it before EOF cancels the
// background Encrypt call.
func (c *Cipher) EncryptStream(ctx context.Context, r io.Reader, chunkSize int) io.ReadCloser {
	pr, pw := io.Pipe()
	runCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer cancel()
		_, err := c.Encrypt(runCtx, r, pw, chunkSize)
		pw.CloseWithError(err)
	}()

	return &pipeReadCloser{PipeReader: pr, cancel: cancel}
}

// DecryptStream runs Decrypt against r on a background goroutine and
// returns an io.ReadCloser streaming recovered plaintext as it is produced.
func (c *Cipher) DecryptStream(ctx context.Context, r io.Reader, opts DecryptOptions) io.ReadCloser {
	pr, pw := io.Pipe()
	runCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer cancel()
		_, err := c.Decrypt(runCtx, r, pw, opts)
		pw.CloseWithError(err)
	}()

	return &pipeReadCloser{PipeReader: pr, cancel: cancel}
}

// pipeReadCloser cancels the background pipeline when the caller closes
// the reader early, rather than letting it run to completion unobserved.
type pipeReadCloser struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (p *pipeReadCloser) Close() error {
	p.cancel()
	return p.PipeReader.Close()
}
