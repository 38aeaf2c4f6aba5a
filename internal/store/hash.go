package store

import (
	"crypto/rand"
	"encoding/binary"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/zeebo/xxh3"
)

// Hash128 is the store's 128-bit membership key.
type Hash128 [16]byte

// HashPath computes the keyed 128-bit hash of an absolute path, per
// spec.md §4.3: normalised, and lowercased on case-insensitive filesystems
// (Windows and macOS's default HFS/APFS mode; Linux is treated as
// case-sensitive).
func HashPath(key uint64, path string) Hash128 {
	norm := normalizePath(path)
	h := xxh3.Hash128Seed([]byte(norm), key)
	return Hash128(h.Bytes())
}

func normalizePath(path string) string {
	clean := filepath.Clean(path)
	if caseInsensitiveFS() {
		clean = strings.ToLower(clean)
	}
	return clean
}

func caseInsensitiveFS() bool {
	switch runtime.GOOS {
	case "windows", "darwin":
		return true
	default:
		return false
	}
}

// LoadOrCreateKey reads the 64-bit seed at seedPath, generating and
// persisting a fresh crypto/rand seed on first use. The key never derives
// from any path content, so the on-disk store can't be reversed into real
// paths without this file.
func LoadOrCreateKey(seedPath string) (uint64, error) {
	data, err := os.ReadFile(seedPath)
	if err == nil && len(data) == 8 {
		return binary.LittleEndian.Uint64(data), nil
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(seedPath), 0o700); err != nil {
		return 0, err
	}
	if err := os.WriteFile(seedPath, buf[:], 0o600); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
