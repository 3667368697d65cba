package platform

import (
	"runtime"
	"runtime/debug"
	"sync"
)

var enableOnce sync.Once

// EnableFaultRecovery turns a hardware memory fault encountered while
// dereferencing an unsafe pointer into a recoverable Go panic instead of
// an immediate process crash — the pure-Go substitute for the teacher's
// per-OS/arch sigaction trampolines (see DESIGN.md). Safe to call more
// than once; only the first call takes effect.
func EnableFaultRecovery() {
	enableOnce.Do(func() { debug.SetPanicOnFault(true) })
}

// RecoverFault inspects a value recovered from a deferred recover() call
// and reports whether it looks like a memory-safety fault this module
// should translate into api.TrapCodeHeapAccessOutOfBounds rather than letting
// the panic escape. Every access execexec performs is already
// explicit-bounds-checked in Go, so this is a defense-in-depth net for a
// bug elsewhere in the call chain, not the primary trap-detection path.
func RecoverFault(recovered interface{}) bool {
	if recovered == nil {
		return false
	}
	if _, ok := recovered.(runtime.Error); ok {
		return true
	}
	return false
}
