package keystore

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func testMasterKey() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = byte(i * 7)
	}
	return k
}

func TestSaveLoad_RoundTripWithPassphrase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.key")
	key := testMasterKey()

	if err := Save(key, path, "correct horse battery staple"); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, err := Load(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Errorf("Load() = %x, want %x", got, key)
	}
}

func TestLoad_WrongPassphraseFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.key")
	key := testMasterKey()

	if err := Save(key, path, "right passphrase"); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	if _, err := Load(path, "wrong passphrase"); !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("Load() error = %v, want ErrInvalidPassphrase", err)
	}
}

func TestSaveLoad_InsecureRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.key")
	key := testMasterKey()

	if err := Save(key, path, ""); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, err := Load(path+".insecure", "")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Errorf("Load() = %x, want %x", got, key)
	}
}

func TestSave_RejectsWrongKeySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.key")

	if err := Save(make([]byte, 16), path, "pw"); err == nil {
		t.Error("Save() expected error for wrong key size")
	}
}

func TestDefaultPath_NonEmpty(t *testing.T) {
	if DefaultPath() == "" {
		t.Error("DefaultPath() returned empty string")
	}
}
