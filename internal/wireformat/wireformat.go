// Package wireformat encodes and decodes the CTN1 binary framing: the
// 84-byte file header (which declares a header_length of 76 — everything
// after the header's own magic and header_length fields), the 36-byte
// chunk header (which declares a header_length of 32), the 12-byte
// per-chunk nonce, and the 32-byte additional
// authenticated data (AAD) bound into every seal/open. Nothing in this
// package allocates beyond the caller's destination slice, and nothing
// here performs cryptography itself — it only lays out and reads back
// the bytes the crypto layer authenticates.
package wireformat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Wire constants, pinned across versions.
const (
	Magic   = "CTN1"
	Version = uint32(1)

	TagSize   = 16
	NonceSize = 12
	KeySize   = 32

	// FileHeaderSize is the value stamped into the file header's own
	// header_length field (offset 4, see scenario 1 in spec.md §8): the
	// byte count of everything after the 8-byte magic+header_length
	// prefix itself (total_plaintext_len 8 + key_id 4 + nonce_prefix 4 +
	// file_key_nonce 12 + file_key_tag 16 + wrapped_file_key 32 = 76). It
	// is not the number of bytes the header occupies on the wire.
	// FileHeaderPhysicalSize is that true size, 8 bytes larger at 84.
	// Buffer allocation and length checks must use FileHeaderPhysicalSize;
	// only the encoded header_length field itself uses FileHeaderSize.
	//
	// ChunkHeaderSize is the number of bytes a chunk header occupies on the
	// wire (magic 4 + header_length 4 + plaintext_len 8 + key_id 4 + tag 16
	// = 36). ChunkHeaderLength is the value stamped into, and required of,
	// the chunk header's own header_length field.
	FileHeaderSize         = 76
	FileHeaderPhysicalSize = 84
	ChunkHeaderSize        = 36
	ChunkHeaderLength      = 32
	AADSize                = 32
)

var magicBytes = [4]byte{'C', 'T', 'N', '1'}

// Framing errors. All are fatal to the operation that encounters them.
var (
	ErrBadMagic           = errors.New("wireformat: bad magic")
	ErrBadHeaderLength    = errors.New("wireformat: bad file header length")
	ErrBadChunkHeader     = errors.New("wireformat: bad chunk header length")
	ErrShortInput         = errors.New("wireformat: input shorter than declared header")
	ErrUnsupportedTagSize = errors.New("wireformat: unsupported tag size")
	ErrCounterExhausted   = errors.New("wireformat: chunk index counter exhausted")
	ErrInvalidChunkLength = errors.New("wireformat: chunk plaintext length out of range")
)

// FileHeader is the decoded form of the 84-byte file header.
type FileHeader struct {
	HeaderLength      int32
	TotalPlaintextLen uint64
	KeyID             int32
	NoncePrefix       uint32
	FileKeyNonce      [NonceSize]byte
	FileKeyTag        [TagSize]byte
	WrappedFileKey    [KeySize]byte
}

// EncodeFileHeader writes the 84-byte file header into dst[:84]. The
// header's own header_length field (offset 4) is stamped with
// FileHeaderSize (76), matching spec.md's golden vector; the physical
// layout is FileHeaderPhysicalSize (84) bytes.
//
// dst must be at least FileHeaderPhysicalSize bytes long. fileKeyTag must
// be exactly TagSize bytes (ErrUnsupportedTagSize otherwise), matching the
// spec's statement that the codec never supports any tag size but 16.
func EncodeFileHeader(dst []byte, keyID int32, noncePrefix uint32, fileKeyNonce [NonceSize]byte, fileKeyTag []byte, wrappedKey [KeySize]byte, totalPlaintextLen uint64) error {
	if len(dst) < FileHeaderPhysicalSize {
		return fmt.Errorf("wireformat: dst too short for file header: %d < %d", len(dst), FileHeaderPhysicalSize)
	}
	if len(fileKeyTag) != TagSize {
		return fmt.Errorf("%w: got %d bytes", ErrUnsupportedTagSize, len(fileKeyTag))
	}

	copy(dst[0:4], magicBytes[:])
	binary.LittleEndian.PutUint32(dst[4:8], FileHeaderSize)
	binary.LittleEndian.PutUint64(dst[8:16], totalPlaintextLen)
	binary.LittleEndian.PutUint32(dst[16:20], uint32(keyID))
	binary.LittleEndian.PutUint32(dst[20:24], noncePrefix)
	copy(dst[24:36], fileKeyNonce[:])
	copy(dst[36:52], fileKeyTag)
	copy(dst[52:84], wrappedKey[:])

	return nil
}

// DecodeFileHeader parses the 84-byte file header from src.
func DecodeFileHeader(src []byte) (FileHeader, error) {
	var h FileHeader

	if len(src) < FileHeaderPhysicalSize {
		return h, fmt.Errorf("%w: have %d, need %d", ErrShortInput, len(src), FileHeaderPhysicalSize)
	}
	if string(src[0:4]) != Magic {
		return h, ErrBadMagic
	}

	headerLen := binary.LittleEndian.Uint32(src[4:8])
	if headerLen != FileHeaderSize {
		return h, fmt.Errorf("%w: declared %d, want %d", ErrBadHeaderLength, headerLen, FileHeaderSize)
	}

	h.HeaderLength = int32(headerLen)
	h.TotalPlaintextLen = binary.LittleEndian.Uint64(src[8:16])
	h.KeyID = int32(binary.LittleEndian.Uint32(src[16:20]))
	h.NoncePrefix = binary.LittleEndian.Uint32(src[20:24])
	copy(h.FileKeyNonce[:], src[24:36])
	copy(h.FileKeyTag[:], src[36:52])
	copy(h.WrappedFileKey[:], src[52:84])

	return h, nil
}

// ChunkHeader is the decoded form of the 36-byte per-chunk header.
type ChunkHeader struct {
	HeaderLength int32
	PlaintextLen uint64
	KeyID        int32
	Tag          [TagSize]byte
}

// EncodeChunkHeader writes the 36-byte chunk header into dst[:36], with
// ChunkHeaderLength (32) in its header_length field.
func EncodeChunkHeader(dst []byte, keyID int32, tag []byte, plaintextLen uint64) error {
	if len(dst) < ChunkHeaderSize {
		return fmt.Errorf("wireformat: dst too short for chunk header: %d < %d", len(dst), ChunkHeaderSize)
	}
	if len(tag) != TagSize {
		return fmt.Errorf("%w: got %d bytes", ErrUnsupportedTagSize, len(tag))
	}

	copy(dst[0:4], magicBytes[:])
	binary.LittleEndian.PutUint32(dst[4:8], ChunkHeaderLength)
	binary.LittleEndian.PutUint64(dst[8:16], plaintextLen)
	binary.LittleEndian.PutUint32(dst[16:20], uint32(keyID))
	copy(dst[20:36], tag)

	return nil
}

// DecodeChunkHeader parses the 36-byte chunk header from src.
func DecodeChunkHeader(src []byte) (ChunkHeader, error) {
	var h ChunkHeader

	if len(src) < ChunkHeaderSize {
		return h, fmt.Errorf("%w: have %d, need %d", ErrShortInput, len(src), ChunkHeaderSize)
	}
	if string(src[0:4]) != Magic {
		return h, ErrBadMagic
	}

	headerLen := binary.LittleEndian.Uint32(src[4:8])
	if headerLen != ChunkHeaderLength {
		return h, fmt.Errorf("%w: declared %d, want %d", ErrBadChunkHeader, headerLen, ChunkHeaderLength)
	}

	h.HeaderLength = int32(headerLen)
	h.PlaintextLen = binary.LittleEndian.Uint64(src[8:16])
	h.KeyID = int32(binary.LittleEndian.Uint32(src[16:20]))
	copy(h.Tag[:], src[20:36])

	return h, nil
}

// ComposeNonce writes the 12-byte per-chunk nonce (noncePrefix || chunkIndex,
// both little-endian) into dst[:12]. chunkIndex must never be math.MaxUint64:
// that value is reserved so the counter can never wrap into a reused nonce.
func ComposeNonce(dst []byte, noncePrefix uint32, chunkIndex uint64) error {
	if len(dst) < NonceSize {
		return fmt.Errorf("wireformat: dst too short for nonce: %d < %d", len(dst), NonceSize)
	}
	if chunkIndex == math.MaxUint64 {
		return ErrCounterExhausted
	}

	binary.LittleEndian.PutUint32(dst[0:4], noncePrefix)
	binary.LittleEndian.PutUint64(dst[4:12], chunkIndex)

	return nil
}

// InitAADPrefix sets the first 12 bytes of a 32-byte AAD buffer: magic,
// version, and key id. Call once per worker (the prefix never changes
// across chunks sealed by the same key id) and reuse dst across chunks,
// refreshing only the mutable suffix with FillAADMutable.
func InitAADPrefix(dst []byte, keyID int32) error {
	if len(dst) < AADSize {
		return fmt.Errorf("wireformat: dst too short for AAD: %d < %d", len(dst), AADSize)
	}

	copy(dst[0:4], magicBytes[:])
	binary.LittleEndian.PutUint32(dst[4:8], Version)
	binary.LittleEndian.PutUint32(dst[8:12], uint32(keyID))

	return nil
}

// FillAADMutable sets the last 20 bytes of a 32-byte AAD buffer: chunk
// index, plaintext length, and four reserved zero bytes. dst[0:12] must
// already carry the prefix written by InitAADPrefix.
func FillAADMutable(dst []byte, chunkIndex uint64, plaintextLen uint64) error {
	if len(dst) < AADSize {
		return fmt.Errorf("wireformat: dst too short for AAD: %d < %d", len(dst), AADSize)
	}

	binary.LittleEndian.PutUint64(dst[12:20], chunkIndex)
	binary.LittleEndian.PutUint64(dst[20:28], plaintextLen)
	binary.LittleEndian.PutUint32(dst[28:32], 0)

	return nil
}

// WrapAAD builds the 32-byte AAD used to seal/open the per-file key under
// the master key. It reuses the exact chunk AAD layout with chunk_index
// and plaintext_len pinned to zero, so the wrap AAD can never silently
// drift from the chunk AAD layout (see DESIGN.md, Open Question (c)).
func WrapAAD(dst []byte, keyID int32) error {
	if err := InitAADPrefix(dst, keyID); err != nil {
		return err
	}
	return FillAADMutable(dst, 0, 0)
}

// ValidateChunkPlaintextLen checks that a declared chunk plaintext length
// is in the range (0, maxChunkSize]: zero is rejected, maxChunkSize itself
// is accepted.
func ValidateChunkPlaintextLen(plaintextLen uint64, maxChunkSize uint64) error {
	if plaintextLen == 0 || plaintextLen > maxChunkSize {
		return fmt.Errorf("%w: %d not in (0, %d]", ErrInvalidChunkLength, plaintextLen, maxChunkSize)
	}
	return nil
}
