// Package validation holds small parameter-validation helpers used by the
// ctncipher CLI.
package validation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrInvalidPath   = errors.New("invalid file path")
	ErrPathNotExists = errors.New("path does not exist")
	ErrEmptyString   = errors.New("value must not be empty")
	ErrOutOfRange    = errors.New("value out of range")
)

// ValidateFilePath normalizes p and, if mustExist is true, confirms it
// refers to an existing filesystem entry.
func ValidateFilePath(p string, mustExist bool) error {
	if p == "" {
		return ErrInvalidPath
	}
	p = filepath.Clean(p)
	if mustExist {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrPathNotExists, err)
		}
	}
	return nil
}

// ValidateStringNonEmpty rejects the empty string.
func ValidateStringNonEmpty(s string) error {
	if s == "" {
		return ErrEmptyString
	}
	return nil
}

// ValidateRangeInt rejects v outside the closed interval [min, max].
func ValidateRangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}
