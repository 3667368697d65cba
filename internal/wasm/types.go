// Package wasm holds the compiler-independent, post-parse representation
// of a Wasm module: ModuleInfo and the entity types it is built from. It
// corresponds to the teacher's internal/wasm package (the decoder lives in
// the binary subpackage; this package owns the in-memory shape).
package wasm

import (
	"fmt"

	"github.com/wasmcore-go/wasmcore/api"
)

// Index kinds are distinct integer types so a function index can never be
// passed where a table index is expected by the Go type system.
type (
	FunctionIndex uint32
	TableIndex    uint32
	MemoryIndex   uint32
	GlobalIndex   uint32
	TypeIndex     uint32
	TagIndex      uint32
	ElementIndex  uint32
	DataIndex     uint32
)

// Limits describes a current/maximum pair shared by memories and tables.
type Limits struct {
	Min     uint64
	Max     uint64 // only valid if HasMax
	HasMax  bool
	Shared  bool // memory.shared; meaningless for tables
}

// MemoryType describes a linear memory import or definition. Min/Max are in
// 64 KiB pages.
type MemoryType struct {
	Limits
	Is64 bool // memory64 proposal: addresses are 64-bit
}

// TableType describes a table import or definition.
type TableType struct {
	Limits
	ElemType api.ValueType // FuncRef or ExternRef
}

// GlobalType describes a global import or definition.
type GlobalType struct {
	ValType api.ValueType
	Mutable bool
}

// TagType is the signature of an exception tag: a FuncType with no results.
type TagType struct {
	Type TypeIndex
}

// ImportKind tags which entity kind an Import resolves.
type ImportKind = api.ExternType

// Import is one entry of the import section, identifying the module+name
// pair the instantiator must satisfy plus the expected type.
type Import struct {
	Kind       ImportKind
	Module     string
	Name       string
	DescFunc   TypeIndex
	DescTable  TableType
	DescMemory MemoryType
	DescGlobal GlobalType
	DescTag    TagType
}

// Export is one entry of the export section.
type Export struct {
	Kind  api.ExternType
	Name  string
	Index uint32 // interpreted according to Kind, in the shared index space
}

// ElementSegment initializes a range of a table, or is passive/declarative.
type ElementSegment struct {
	TableIndex TableIndex
	Offset     ConstExpr // zero value if Mode != ElementModeActive
	Mode       ElementMode
	Type       api.ValueType
	Init       []FunctionIndex // function indices or null markers (^uint32(0))
}

type ElementMode byte

const (
	ElementModeActive ElementMode = iota
	ElementModePassive
	ElementModeDeclarative
)

// DataSegment initializes a range of memory, or is passive.
type DataSegment struct {
	MemoryIndex MemoryIndex
	Offset      ConstExpr // zero value if Passive
	Passive     bool
	Init        []byte
}

// ConstExpr is a restricted constant expression of one instruction. The
// decoder accepts i32.const, i64.const, global.get, ref.null and ref.func;
// it does not accept f32.const, f64.const or extended-const arithmetic, and
// it does not restrict global.get to imported immutable globals.
type ConstExpr struct {
	Opcode Opcode
	Value  uint64 // immediate, or the referenced global/function index
}

// CustomSection is an opaque, name-tagged blob preserved for round-trip.
type CustomSection struct {
	Name string
	Data []byte
}

// NameSection carries optional, non-authoritative debugging hints.
type NameSection struct {
	ModuleName    string
	FunctionNames map[FunctionIndex]string
	LocalNames    map[FunctionIndex]map[uint32]string
}

// FunctionDefinition is one locally defined function: its signature index
// and optional name. Its raw body is kept apart, in the binary package's
// CodeEntry, and is NOT decoded into an operator stream until the compiler
// asks for it (lazy, per spec §4.1).
type FunctionDefinition struct {
	TypeIndex TypeIndex
	LocalName string
}

// Module is the immutable, post-parse representation of a Wasm binary —
// this is the "ModuleInfo" named throughout the specification.
type Module struct {
	Types       []*api.FuncType
	Imports     []Import
	Functions   []FunctionDefinition // locally defined only; see NumImportedFunctions
	Tables      []TableType
	Memories    []MemoryType
	Globals     []GlobalDefinition
	Tags        []TagType
	Exports     []Export
	StartFunc   *FunctionIndex
	Elements    []ElementSegment
	DataSegs    []DataSegment
	Customs     []CustomSection
	Names       *NameSection

	// NumImportedFunctions etc. let callers compute the shared index-space
	// split: indices [0, NumImportedX) are imports, [NumImportedX, total)
	// are locally defined.
	NumImportedFunctions uint32
	NumImportedTables    uint32
	NumImportedMemories  uint32
	NumImportedGlobals   uint32
	NumImportedTags      uint32

	// ID identifies this module for compilation-cache keys and for the
	// artifact/module match check; it is a content hash, not a name.
	ID ModuleID
}

// ModuleID is a content-addressed identifier (e.g. sha256 of the binary).
type ModuleID [32]byte

// GlobalDefinition pairs a GlobalType with its locally defined initializer;
// imported globals carry only the type (see Import.DescGlobal).
type GlobalDefinition struct {
	Type GlobalType
	Init ConstExpr
}

// TypeOf returns the FuncType of a function given its index in the shared
// function index space.
func (m *Module) TypeOf(fn FunctionIndex) (*api.FuncType, error) {
	if uint32(fn) < m.NumImportedFunctions {
		imp := m.importedFunc(fn)
		if imp == nil {
			return nil, fmt.Errorf("function index %d out of range", fn)
		}
		return m.typeAt(imp.DescFunc)
	}
	local := uint32(fn) - m.NumImportedFunctions
	if int(local) >= len(m.Functions) {
		return nil, fmt.Errorf("function index %d out of range", fn)
	}
	return m.typeAt(m.Functions[local].TypeIndex)
}

func (m *Module) typeAt(idx TypeIndex) (*api.FuncType, error) {
	if int(idx) >= len(m.Types) {
		return nil, fmt.Errorf("type index %d out of range", idx)
	}
	return m.Types[idx], nil
}

func (m *Module) importedFunc(fn FunctionIndex) *Import {
	count := FunctionIndex(0)
	for i := range m.Imports {
		if m.Imports[i].Kind != api.ExternTypeFunc {
			continue
		}
		if count == fn {
			return &m.Imports[i]
		}
		count++
	}
	return nil
}

// IsImportedFunction reports whether fn refers to an import.
func (m *Module) IsImportedFunction(fn FunctionIndex) bool {
	return uint32(fn) < m.NumImportedFunctions
}
