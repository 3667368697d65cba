// Package compilationcache lets an Engine skip recompiling a module it has
// already seen, keyed by (module content hash, target, tier) so a cache
// entry from one backend or host architecture is never handed to another.
// Grounded on the teacher's own CompilationCache interface and its
// filecache implementation. Entries are stored exactly as given: the bytes
// artifact.Serialize produces, whose per-function blocks are already
// zstd-compressed; neither implementation here compresses them further.
package compilationcache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/wasmcore-go/wasmcore/internal/engine"
	"github.com/wasmcore-go/wasmcore/internal/wasm"
)

// Key identifies one cache entry.
type Key struct {
	ModuleID wasm.ModuleID
	Target   engine.Target
	Tier     engine.Tier
}

func (k Key) filename() string {
	h := sha256.Sum256(append(append(k.ModuleID[:], k.Target.String()...), byte(k.Tier)))
	return hex.EncodeToString(h[:])
}

// Cache persists serialized artifact bytes (see internal/artifact) keyed
// by Key. Implementations must be safe for concurrent use.
type Cache interface {
	Get(key Key) ([]byte, bool, error)
	Put(key Key, data []byte) error
}

// Memory is an in-process, non-persistent Cache, for asserting on cache
// hit/miss behavior without touching disk. It is not installed by default:
// an Engine with no cache configured does no caching at all.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemory() *Memory { return &Memory{entries: map[string][]byte{}} }

func (m *Memory) Get(key Key) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.entries[key.filename()]
	return data, ok, nil
}

func (m *Memory) Put(key Key, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = map[string][]byte{}
	}
	cp := append([]byte(nil), data...)
	m.entries[key.filename()] = cp
	return nil
}

// Directory is a filesystem-backed Cache, one file per entry under Dir.
type Directory struct {
	Dir string
}

func NewDirectory(dir string) *Directory { return &Directory{Dir: dir} }

func (d *Directory) path(key Key) string { return filepath.Join(d.Dir, key.filename()+".wasmcache") }

func (d *Directory) Get(key Key) ([]byte, bool, error) {
	data, err := os.ReadFile(d.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (d *Directory) Put(key Key, data []byte) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return err
	}
	tmp := d.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, d.path(key))
}
