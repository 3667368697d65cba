package vm

import (
	"github.com/wasmcore-go/wasmcore/api"
	"github.com/wasmcore-go/wasmcore/internal/platform"
)

// Memory is one instance's linear memory: a GuardedMemory reservation plus
// the declared maximum, exposed to the host embedder (api.Memory) and to
// the owning Instance, which serves execexec's memory accesses from it.
type Memory struct {
	guarded  *platform.GuardedMemory
	maxPages uint32
	hasMax   bool
}

func newMemory(currentPages, maxPages uint32, hasMax bool) (*Memory, error) {
	reserve := maxPages
	if !hasMax {
		// No declared ceiling: still reserve a generous address range so
		// Grow doesn't need to re-mmap (which would move Bytes() out from
		// under any host-held slice), matching the teacher's habit of
		// picking one large default reservation per memory.
		reserve = 65536
	}
	g, err := platform.NewGuardedMemory(currentPages, reserve)
	if err != nil {
		return nil, err
	}
	return &Memory{guarded: g, maxPages: maxPages, hasMax: hasMax}, nil
}

// Memory returns the bytes of the memory at its current size.
func (m *Memory) Memory() []byte { return m.guarded.Bytes() }

// GrowMemory attempts to grow by deltaPages,
// returning the previous page count and whether it succeeded.
func (m *Memory) GrowMemory(deltaPages uint32) (uint32, bool) {
	old := uint32(len(m.guarded.Bytes()) / wasmPageSize)
	if m.hasMax && old+deltaPages > m.maxPages {
		return old, false
	}
	if !m.guarded.Grow(deltaPages) {
		return old, false
	}
	return old, true
}

// Size implements api.Memory.
func (m *Memory) Size() uint32 { return uint32(len(m.guarded.Bytes()) / wasmPageSize) }

// Grow implements api.Memory.
func (m *Memory) Grow(deltaPages uint32) (uint32, bool) { return m.GrowMemory(deltaPages) }

// Read implements api.Memory.
func (m *Memory) Read(offset, byteCount uint32) ([]byte, bool) {
	b := m.guarded.Bytes()
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(b)) {
		return nil, false
	}
	return b[offset:end], true
}

// Write implements api.Memory.
func (m *Memory) Write(offset uint32, data []byte) bool {
	b := m.guarded.Bytes()
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(b)) {
		return false
	}
	copy(b[offset:end], data)
	return true
}

func (m *Memory) close() error { return m.guarded.Close() }

var _ api.Memory = (*Memory)(nil)

const wasmPageSize = 65536
