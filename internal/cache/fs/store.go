// Package fs implements a filesystem-backed cache store, one JSON file per
// namespaced key.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Config captures the parameters for the filesystem cache store.
type Config struct {
	// BaseDir is the root directory where cache entries are stored.
	BaseDir string `mapstructure:"base_dir"`
}

// Store writes one file per cache entry under BaseDir/<namespace>/.
type Store struct {
	baseDir string
}

// New creates the store, verifying the base directory exists and is
// writable.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("clean up test file: %w", err)
	}

	return &Store{baseDir: cfg.BaseDir}, nil
}

// Get reads and unmarshals the entry file, reporting presence.
func (s *Store) Get(_ context.Context, namespace, key string, out any) (bool, error) {
	data, err := os.ReadFile(s.entryPath(namespace, key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read cache entry: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode cache entry: %w", err)
	}
	return true, nil
}

// Set marshals value and writes the entry file, creating the namespace
// directory on first use.
func (s *Store) Set(_ context.Context, namespace, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	path := s.entryPath(namespace, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create namespace directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// entryPath derives a filesystem-safe file name for key. Free-text keys
// (geocode queries) get a readable prefix plus a digest so distinct keys
// never collide after sanitization.
func (s *Store) entryPath(namespace, key string) string {
	safe := unsafeChars.ReplaceAllString(key, "_")
	if len(safe) > 64 {
		safe = safe[:64]
	}
	digest := sha256.Sum256([]byte(key))
	name := fmt.Sprintf("%s-%s.json", safe, hex.EncodeToString(digest[:8]))
	return filepath.Join(s.baseDir, unsafeChars.ReplaceAllString(namespace, "_"), name)
}
