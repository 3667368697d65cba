// Package layout computes the one offset table a module's shared index
// space implies, so the runtime (internal/vm) consults one copy of the
// arithmetic instead of re-deriving it; no compiler tier imports it. A native
// code generator would bake these as constant displacements into a
// VMContext struct; this module's back-ends interpret wazeroir operations
// directly against Go slices indexed by logical position instead, so Entry
// here is consulted for the index split itself (imports vs locally defined)
// rather than for a byte offset into a hidden struct.
package layout

import "github.com/wasmcore-go/wasmcore/internal/wasm"

// Layout is the imports/locals split for every one of a module's five
// index spaces, computed once per module and shared by every consumer that
// needs to translate between a shared index and a position in either the
// imports vector or a locally-allocated slice.
type Layout struct {
	NumImportedFunctions uint32
	NumImportedTables    uint32
	NumImportedMemories  uint32
	NumImportedGlobals   uint32
	NumImportedTags      uint32

	NumLocalFunctions uint32
	NumLocalTables    uint32
	NumLocalMemories  uint32
	NumLocalGlobals   uint32
	NumLocalTags      uint32
}

// Compute derives a Layout from a decoded module.
func Compute(m *wasm.Module) Layout {
	return Layout{
		NumImportedFunctions: m.NumImportedFunctions,
		NumImportedTables:    m.NumImportedTables,
		NumImportedMemories:  m.NumImportedMemories,
		NumImportedGlobals:   m.NumImportedGlobals,
		NumImportedTags:      m.NumImportedTags,

		NumLocalFunctions: uint32(len(m.Functions)),
		NumLocalTables:    uint32(len(m.Tables)),
		NumLocalMemories:  uint32(len(m.Memories)),
		NumLocalGlobals:   uint32(len(m.Globals)),
		NumLocalTags:      uint32(len(m.Tags)),
	}
}

// FunctionIsImport reports whether idx names an imported function rather
// than one defined in this module's code section.
func (l Layout) FunctionIsImport(idx uint32) bool { return idx < l.NumImportedFunctions }

// LocalFunctionSlot converts a shared function index into a position in
// the module's locally-defined function slice. Callers must have already
// checked FunctionIsImport(idx) is false.
func (l Layout) LocalFunctionSlot(idx uint32) uint32 { return idx - l.NumImportedFunctions }

// TableIsImport reports whether idx names an imported table.
func (l Layout) TableIsImport(idx uint32) bool { return idx < l.NumImportedTables }

// LocalTableSlot converts a shared table index into a local-slice position.
func (l Layout) LocalTableSlot(idx uint32) uint32 { return idx - l.NumImportedTables }

// MemoryIsImport reports whether idx names an imported memory.
func (l Layout) MemoryIsImport(idx uint32) bool { return idx < l.NumImportedMemories }

// LocalMemorySlot converts a shared memory index into a local-slice position.
func (l Layout) LocalMemorySlot(idx uint32) uint32 { return idx - l.NumImportedMemories }

// GlobalIsImport reports whether idx names an imported global.
func (l Layout) GlobalIsImport(idx uint32) bool { return idx < l.NumImportedGlobals }

// LocalGlobalSlot converts a shared global index into a local-slice position.
func (l Layout) LocalGlobalSlot(idx uint32) uint32 { return idx - l.NumImportedGlobals }

// TotalFunctions is the size of the shared function index space.
func (l Layout) TotalFunctions() uint32 { return l.NumImportedFunctions + l.NumLocalFunctions }
