package wasm

import (
	"fmt"

	"github.com/wasmcore-go/wasmcore/api"
)

// This file satisfies wazeroir.moduleView: the narrow read-only surface the
// validator/lowerer needs from a Module, without wazeroir importing wasm
// (which would cycle back through binary -> wasm -> wazeroir).

// TypeByIndex returns the FuncType at a raw type-section index, as used by
// block signatures and call_indirect.
func (m *Module) TypeByIndex(i uint32) (*api.FuncType, error) {
	return m.typeAt(TypeIndex(i))
}

// FunctionTypeByIndex returns the signature of a function given its index
// in the shared function index space, as used by `call`.
func (m *Module) FunctionTypeByIndex(i uint32) (*api.FuncType, error) {
	return m.TypeOf(FunctionIndex(i))
}

// GlobalTypeByIndex returns a global's value type and mutability given its
// index in the shared global index space.
func (m *Module) GlobalTypeByIndex(i uint32) (api.ValueType, bool, error) {
	if i < m.NumImportedGlobals {
		imp := m.importedGlobal(GlobalIndex(i))
		if imp == nil {
			return 0, false, fmt.Errorf("global index %d out of range", i)
		}
		return imp.DescGlobal.ValType, imp.DescGlobal.Mutable, nil
	}
	local := i - m.NumImportedGlobals
	if int(local) >= len(m.Globals) {
		return 0, false, fmt.Errorf("global index %d out of range", i)
	}
	g := m.Globals[local]
	return g.Type.ValType, g.Type.Mutable, nil
}

func (m *Module) importedGlobal(idx GlobalIndex) *Import {
	count := GlobalIndex(0)
	for i := range m.Imports {
		if m.Imports[i].Kind != api.ExternTypeGlobal {
			continue
		}
		if count == idx {
			return &m.Imports[i]
		}
		count++
	}
	return nil
}

// HasMemory reports whether the module has any memory, imported or local —
// the MVP allows at most one, but multi-memory modules are not rejected
// here, and the binary package's decoder does not limit the memory count
// either.
func (m *Module) HasMemory() bool {
	return m.NumImportedMemories > 0 || len(m.Memories) > 0
}

// HasTable reports whether the module has any table, imported or local.
func (m *Module) HasTable() bool {
	return m.NumImportedTables > 0 || len(m.Tables) > 0
}
