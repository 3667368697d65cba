// Package platform isolates every OS-specific primitive the rest of the
// module needs: executable/frozen artifact storage, guarded linear-memory
// reservations, and fault recovery at the VM call boundary. Grounded on
// the teacher's internal/platform package (same MmapCodeSegment /
// MunmapCodeSegment / CompilerSupported names and the "panic on
// zero-length" invariant its mmap_test.go exercises) and on moby-moby's
// and grafana-k6's use of golang.org/x/sys/unix for raw mmap/mprotect.
package platform

import (
	"io"
	"runtime"

	"golang.org/x/sys/unix"
)

// CompilerSupported reports whether this process can allocate W^X
// executable memory at all — false on platforms without a supported
// mmap/mprotect (or equivalent), where callers must fall back to a
// non-compiling tier.
func CompilerSupported() bool {
	switch runtime.GOOS {
	case "linux", "darwin":
		return true
	default:
		return false
	}
}

// MmapCodeSegment reads size bytes from r into a freshly mmap'd, RW
// anonymous region, then mprotects it to read+execute and returns the
// resulting slice. Per the teacher's own invariant, size == 0 is a
// programmer error (never a runtime condition an embedder should recover
// from) and panics rather than returning an error.
func MmapCodeSegment(r io.Reader, size int) ([]byte, error) {
	if size == 0 {
		panic("platform: MmapCodeSegment called with size == 0")
	}
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, b); err != nil {
		_ = unix.Munmap(b)
		return nil, err
	}
	if err := unix.Mprotect(b, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(b)
		return nil, err
	}
	return b, nil
}

// MunmapCodeSegment releases memory obtained from MmapCodeSegment.
func MunmapCodeSegment(code []byte) error {
	if len(code) == 0 {
		panic("platform: MunmapCodeSegment called with empty slice")
	}
	return unix.Munmap(code)
}
