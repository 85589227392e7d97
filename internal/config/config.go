// Package config holds ctncipher's runtime configuration: pipeline sizing,
// keystore location, and observability endpoints. Values are sourced from
// environment variables with sensible defaults, mirroring the flat
// Config/DefaultConfig shape the teacher daemon used for its own settings.
package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config holds ctncipher's tunable runtime parameters.
type Config struct {
	ChunkSize            int64
	Threads              int
	ArenaMaxCount        int
	ArenaMaxBytes        int64
	ReorderWindowInitial int
	ReorderWindowCap     int
	KeysDirectory        string
	MetricsAddr          string
	JaegerEndpoint       string
	StrictLength         bool
}

// DefaultConfig returns ctncipher's baseline configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	keysDir := filepath.Join(homeDir, ".local", "share", "ctnvault", "keys")

	return &Config{
		ChunkSize:            1 << 20, // 1 MiB
		Threads:              8,
		ArenaMaxCount:        64,
		ArenaMaxBytes:        256 << 20, // 256 MiB
		ReorderWindowInitial: 16,
		ReorderWindowCap:     4096,
		KeysDirectory:        keysDir,
		MetricsAddr:          "",
		JaegerEndpoint:       "",
		StrictLength:         true,
	}
}

// LoadFromEnv overlays environment variables onto DefaultConfig's values.
// Unset or unparseable variables silently keep the default.
func LoadFromEnv() *Config {
	c := DefaultConfig()

	if v, ok := getenvInt64("CTNCIPHER_CHUNK_SIZE"); ok {
		c.ChunkSize = v
	}
	if v, ok := getenvInt("CTNCIPHER_THREADS"); ok {
		c.Threads = v
	}
	if v, ok := getenvInt("CTNCIPHER_ARENA_MAX_COUNT"); ok {
		c.ArenaMaxCount = v
	}
	if v, ok := getenvInt64("CTNCIPHER_ARENA_MAX_BYTES"); ok {
		c.ArenaMaxBytes = v
	}
	if v, ok := getenvInt("CTNCIPHER_REORDER_WINDOW_INITIAL"); ok {
		c.ReorderWindowInitial = v
	}
	if v, ok := getenvInt("CTNCIPHER_REORDER_WINDOW_CAP"); ok {
		c.ReorderWindowCap = v
	}
	if v := os.Getenv("CTNCIPHER_KEYS_DIR"); v != "" {
		c.KeysDirectory = v
	}
	if v := os.Getenv("CTNCIPHER_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("OTEL_EXPORTER_JAEGER_ENDPOINT"); v != "" {
		c.JaegerEndpoint = v
	}
	if v, ok := getenvBool("CTNCIPHER_STRICT_LENGTH"); ok {
		c.StrictLength = v
	}

	return c
}

func getenvInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func getenvInt64(name string) (int64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func getenvBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
