// Package engine defines the pluggable compiler back-end contract: the
// Target a Compilation is produced for, the Tunables that steer codegen
// trade-offs, and the Backend interface every tier (singlepass, miditier,
// heavytier) implements. Grounded on the teacher's internal/engine split
// into one subpackage per tier (compiler/wazevo/interpreter), generalized
// here into an explicit interface so an Engine can select a tier at
// EngineConfig construction time instead of via build tags.
package engine

import (
	"runtime"

	"github.com/wasmcore-go/wasmcore/internal/wasm"
	"github.com/wasmcore-go/wasmcore/internal/wazeroir"
)

// Target names an (architecture, OS) pair a Compilation is valid for. An
// Artifact built for one Target must never be linked or executed under
// another; compilationcache and artifact.Deserialize both reject a mismatch.
type Target struct {
	Arch string // "amd64", "arm64"
	OS   string // "linux", "darwin", "windows"
}

func (t Target) String() string { return t.Arch + "-" + t.OS }

// CurrentTarget is the host's (arch, OS) pair, taken from runtime.GOARCH
// and runtime.GOOS; NewEngineConfig uses it when the embedder hasn't
// pinned one.
var CurrentTarget = Target{Arch: runtime.GOARCH, OS: runtime.GOOS}

// Tier identifies which back-end produced (or should produce) a
// Compilation. Stored alongside cached artifacts so a cache lookup can
// reject an entry compiled by a different tier than the one requested.
type Tier byte

const (
	TierSinglePass Tier = iota
	TierMidTier
	TierHeavyTier
)

func (t Tier) String() string {
	switch t {
	case TierSinglePass:
		return "singlepass"
	case TierMidTier:
		return "miditier"
	case TierHeavyTier:
		return "heavytier"
	default:
		return "unknown"
	}
}

// Tunables carries the knobs a Backend consults while lowering wazeroir
// into the shared internal ISA. Runtime construction fixes these once; they
// never change mid-compilation.
type Tunables struct {
	// BoundsCheckMemoryAccess names the choice between explicit
	// compare-and-trap bounds checks and a guard-page region beyond the
	// memory's reserved capacity. No Backend or vm code reads it:
	// execexec.Run bounds-checks every load/store explicitly whatever
	// this field says, and there is no guard-page access mode.
	BoundsCheckMemoryAccess bool

	// GuardPageSize is the size, in bytes, of an unmapped region after a
	// memory's reserved address space for the guard-page mode. No
	// Backend or vm code reads it.
	GuardPageSize uint64

	// StackSizeLimit bounds the Wasm operand/call stack a single
	// invocation may grow to before a StackOverflow trap is raised.
	StackSizeLimit uint64

	// NaNCanonicalization makes every Backend rewrite float constants
	// carrying a non-canonical NaN payload to the canonical quiet-NaN bit
	// pattern at compile time. NaNs produced by arithmetic at run time
	// are not rewritten; they keep whatever bit pattern execexec computes.
	NaNCanonicalization bool
}

// DefaultTunables matches the teacher's documented default (explicit bounds
// check off, 1MiB guard size, 2MiB stack limit, canonical NaNs on — wazero's wazevo tier
// defaults the same way for determinism-sensitive embedders).
var DefaultTunables = Tunables{
	GuardPageSize:       1 << 20,
	StackSizeLimit:      2 << 20,
	NaNCanonicalization: true,
}

// RelocationKind tags what a Relocation's target address resolves to at
// link time.
type RelocationKind byte

const (
	RelocationKindFunction      RelocationKind = iota // call to another local function
	RelocationKindImportedFunc                        // call to an import's trampoline slot
	RelocationKindBuiltin                             // call to a VM builtin (memory.grow, trap raise, …)
	RelocationKindVMContextSlot                       // load of a fixed VMContext field offset
	RelocationKindDataBase                            // address of a passive/active data segment's backing bytes
)

// Relocation is one call-site or address-load fixup a Compilation's
// machine code (here: internal-ISA byte stream) requires before it is
// executable. artifact.Link only checks that each one's target exists;
// execexec calls by function index, so nothing is patched into the code.
type Relocation struct {
	Kind         RelocationKind
	CodeOffset   int    // byte offset into the owning function's code where the fixup applies
	TargetIndex  uint32 // function/import/global index, interpreted per Kind
	BuiltinID    uint16 // only meaningful when Kind == RelocationKindBuiltin
}

// AddressMapEntry maps a code offset back to the Wasm-level source offset
// it was lowered from, consumed by wasmdebug to build trap backtraces.
type AddressMapEntry struct {
	CodeOffset int
	WasmOffset int
}

// FrameDescriptor is the per-function metadata an Artifact keeps so the VM
// can build a human-readable Trap backtrace and, for GC-capable back-ends,
// identify live references at a call site.
type FrameDescriptor struct {
	FunctionIndex wasm.FunctionIndex
	Name          string
	CodeOffset    int // start offset of this function's code within the Compilation's blob
	CodeLength    int
	NumLocals     int // params + declared locals; execexec.Run needs this to size its locals array
	StackSize     int // operand-stack bytes (max stack depth × 8) charged against StackSizeLimit per active call
	AddressMap    []AddressMapEntry

	// HotLocalSlots lists local indices in descending access-frequency
	// order, as computed by heavytier's global allocator pass. Since
	// every tier executes through the same stack-based execexec loop
	// rather than emitting register-allocated machine code, this is
	// consulted only by diagnostics/metrics, not by Run itself — see
	// DESIGN.md for why a real allocator's output has nowhere to plug in
	// at this layer.
	HotLocalSlots []uint32
}

// CompiledFunction is one function's output from a Backend: its native (or,
// here, internal-ISA) code plus the relocations that code requires.
type CompiledFunction struct {
	Code        []byte
	Relocations []Relocation
	Frame       FrameDescriptor
}

// Compilation is everything a Backend produces for an entire Module: one
// CompiledFunction per locally defined function, in function-index order.
type Compilation struct {
	Tier      Tier
	Target    Target
	Functions []CompiledFunction

	// StackSizeLimit carries Tunables.StackSizeLimit through to the linked
	// Artifact, so vm.Instance can raise TrapCodeStackOverflow before a
	// deeply recursive guest ever exhausts the real Go stack.
	StackSizeLimit uint64
}

// CompileError wraps a Backend-internal failure with the function index
// that triggered it, so callers can report which function failed to
// compile without the Backend needing to know about wasm.Module at all.
type CompileError struct {
	FunctionIndex wasm.FunctionIndex
	Err           error
}

func (e *CompileError) Error() string {
	return "compiling function " + itoa(uint32(e.FunctionIndex)) + ": " + e.Err.Error()
}

func (e *CompileError) Unwrap() error { return e.Err }

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Backend is the contract every compiler tier implements. A Backend never
// touches a raw Wasm byte stream: the module's function bodies have
// already been decoded and, per function, lowered by wazeroir.Lower into a
// validated CompiledFunction operation stream before Compile is called.
type Backend interface {
	// Tier identifies which tier this Backend implements, for cache keys
	// and diagnostics.
	Tier() Tier

	// Compile lowers every function in fns into a Compilation targeting
	// target, honoring tunables. module is consulted for cross-function
	// facts a single function body can't see on its own (table/memory
	// presence, import counts) — Compile must not mutate it.
	Compile(target Target, module *wasm.Module, fns []*wazeroir.CompiledFunction, tunables Tunables) (*Compilation, error)
}

// SupportedTargets enumerates the (arch, os) pairs at least one Backend in
// this module can produce code for. Engine.SupportedTarget consults this.
var SupportedTargets = []Target{
	{Arch: "amd64", OS: "linux"},
	{Arch: "amd64", OS: "darwin"},
	{Arch: "arm64", OS: "linux"},
	{Arch: "arm64", OS: "darwin"},
}

// IsSupported reports whether t appears in SupportedTargets.
func IsSupported(t Target) bool {
	for _, s := range SupportedTargets {
		if s == t {
			return true
		}
	}
	return false
}
