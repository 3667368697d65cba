package platform

import "golang.org/x/sys/unix"

const wasmPageSize = 65536

// GuardedMemory is a linear memory's backing reservation: a contiguous
// mapping sized to the type's declared maximum, with the live (current)
// prefix mapped RW and a PROT_NONE tail reserved so the address space a
// guest could compute with an in-range-looking offset never silently
// aliases unrelated memory. Grown by mprotecting more of the reservation
// RW, never by re-mmapping — so a pointer into Bytes() never moves.
//
// The guard tail is real (mmap'd, mprotected PROT_NONE) for realistic
// address-space layout, but this module's execexec interpreter never
// dereferences into it directly — accesses are explicit-bounds-checked in
// Go before any read/write reaches the slice (see DESIGN.md: a hardware
// SIGSEGV recovery path for guard-page faults would need per-OS/arch
// assembly trampolines or cgo, out of proportion here).
type GuardedMemory struct {
	reservation []byte // full mmap'd region: live prefix + guard tail
	live        int    // bytes currently RW-mapped and valid
}

// NewGuardedMemory reserves maxPages*pageSize bytes of address space and
// maps the first currentPages*pageSize bytes RW.
func NewGuardedMemory(currentPages, maxPages uint32) (*GuardedMemory, error) {
	total := int(maxPages) * wasmPageSize
	if total == 0 {
		total = wasmPageSize // always reserve at least one page so Bytes() on an empty memory is never a zero-length mmap
	}
	b, err := unix.Mmap(-1, 0, total, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	live := int(currentPages) * wasmPageSize
	if live > 0 {
		if err := unix.Mprotect(b[:live], unix.PROT_READ|unix.PROT_WRITE); err != nil {
			_ = unix.Munmap(b)
			return nil, err
		}
	}
	return &GuardedMemory{reservation: b, live: live}, nil
}

// Bytes returns the currently valid, RW-mapped prefix.
func (g *GuardedMemory) Bytes() []byte { return g.reservation[:g.live] }

// Grow extends the live prefix by deltaPages, mprotecting the newly
// exposed range RW. It reports false if doing so would exceed the
// reservation (the type's declared maximum).
func (g *GuardedMemory) Grow(deltaPages uint32) bool {
	delta := int(deltaPages) * wasmPageSize
	newLive := g.live + delta
	if newLive > len(g.reservation) {
		return false
	}
	if delta > 0 {
		if err := unix.Mprotect(g.reservation[g.live:newLive], unix.PROT_READ|unix.PROT_WRITE); err != nil {
			return false
		}
	}
	g.live = newLive
	return true
}

// Close releases the entire reservation, live and guard regions alike.
func (g *GuardedMemory) Close() error {
	return unix.Munmap(g.reservation)
}
