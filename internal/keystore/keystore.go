// Package keystore persists a 32-byte master key on disk, optionally
// encrypted under a passphrase-derived key using Argon2id. It is adapted
// from a teacher keystore that wrapped a 64-byte Ed25519 identity key; this
// version wraps the fixed-size symmetric master key CTN1 uses to unwrap
// each file's per-file key.
package keystore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"

	"github.com/ctnvault/streamcipher/internal/aeadutil"
)

const (
	argon2Time    = 3
	argon2Memory  = 65536
	argon2Threads = 4
	argon2KeyLen  = 32
	saltSize      = 32

	keystoreVersion = 1
	masterKeySize   = 32
)

// ErrInvalidPassphrase is returned when the passphrase fails to decrypt the
// keystore, or the keystore has been corrupted or tampered with.
var ErrInvalidPassphrase = errors.New("keystore: invalid passphrase or corrupted keystore")

// Entry is the on-disk JSON representation of a passphrase-wrapped master
// key. Field names are part of the stored format; renaming them breaks
// compatibility with keystores already written to disk.
type Entry struct {
	Version       int    `json:"version"`
	KDF           string `json:"kdf"`
	Argon2Time    uint32 `json:"argon2_time"`
	Argon2Memory  uint32 `json:"argon2_memory"`
	Argon2Threads uint8  `json:"argon2_threads"`
	Salt          []byte `json:"salt"`
	Nonce         []byte `json:"nonce"`
	Ciphertext    []byte `json:"ciphertext"`
}

// Save writes a 32-byte master key to keystorePath, encrypted under
// passphrase using Argon2id + AES-256-GCM. An empty passphrase stores the
// key unencrypted with an ".insecure" suffix appended to the path,
// intended only for local testing.
func Save(masterKey []byte, keystorePath string, passphrase string) error {
	if len(masterKey) != masterKeySize {
		return fmt.Errorf("keystore: master key must be %d bytes, got %d", masterKeySize, len(masterKey))
	}

	dir := filepath.Dir(keystorePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("keystore: create directory: %w", err)
	}

	var data []byte

	if passphrase == "" {
		data = masterKey
		keystorePath += ".insecure"
	} else {
		entry, err := encryptMasterKey(masterKey, passphrase)
		if err != nil {
			return fmt.Errorf("keystore: encrypt master key: %w", err)
		}
		data, err = json.MarshalIndent(entry, "", "  ")
		if err != nil {
			return fmt.Errorf("keystore: marshal entry: %w", err)
		}
	}

	if err := os.WriteFile(keystorePath, data, 0600); err != nil {
		return fmt.Errorf("keystore: write file: %w", err)
	}
	return nil
}

// Load reads and, if necessary, decrypts a 32-byte master key from
// keystorePath. passphrase is ignored for ".insecure" keystores.
func Load(keystorePath string, passphrase string) ([]byte, error) {
	data, err := os.ReadFile(keystorePath)
	if err != nil {
		return nil, fmt.Errorf("keystore: read file: %w", err)
	}

	if filepath.Ext(keystorePath) == ".insecure" {
		if len(data) != masterKeySize {
			return nil, fmt.Errorf("keystore: invalid unencrypted keystore: expected %d bytes, got %d", masterKeySize, len(data))
		}
		return data, nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("keystore: unmarshal entry: %w", err)
	}

	masterKey, err := decryptMasterKey(&entry, passphrase)
	if err != nil {
		return nil, fmt.Errorf("keystore: decrypt master key: %w", err)
	}
	return masterKey, nil
}

func encryptMasterKey(masterKey []byte, passphrase string) (*Entry, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	derivedKey := argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	c, err := aeadutil.New(derivedKey)
	if err != nil {
		return nil, err
	}
	ciphertext, err := c.Seal(nil, nonce, masterKey, nil)
	if err != nil {
		return nil, err
	}

	return &Entry{
		Version:       keystoreVersion,
		KDF:           "argon2id",
		Argon2Time:    argon2Time,
		Argon2Memory:  argon2Memory,
		Argon2Threads: argon2Threads,
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
	}, nil
}

func decryptMasterKey(entry *Entry, passphrase string) ([]byte, error) {
	if entry.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported keystore version: %d", entry.Version)
	}
	if entry.KDF != "argon2id" {
		return nil, fmt.Errorf("unsupported KDF: %s", entry.KDF)
	}

	derivedKey := argon2.IDKey([]byte(passphrase), entry.Salt, entry.Argon2Time, entry.Argon2Memory, entry.Argon2Threads, argon2KeyLen)

	c, err := aeadutil.New(derivedKey)
	if err != nil {
		return nil, err
	}
	masterKey, err := c.Open(nil, entry.Nonce, entry.Ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	if len(masterKey) != masterKeySize {
		return nil, errors.New("decrypted master key has invalid size")
	}
	return masterKey, nil
}

// DefaultPath returns the default keystore file path, following
// XDG_DATA_HOME on Unix and APPDATA on Windows, falling back to
// ~/.local/share.
func DefaultPath() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "ctnvault", "keys")
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "ctnvault", "keys")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "ctnvault", "keys")
}
