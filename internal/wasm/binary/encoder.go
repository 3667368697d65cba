package binary

import (
	"github.com/wasmcore-go/wasmcore/api"
	"github.com/wasmcore-go/wasmcore/internal/wasm/leb128"
)

// ModuleBuilder assembles a module programmatically (by tests, or by
// embedders that construct a module in memory) so EncodeModule can render
// it back to the Wasm binary format. It supports the subset of the format
// this module's own fixtures need: types, function imports, function/code
// pairs, module-defined globals, a single optional memory, a single optional table with one active
// element segment, function exports, and an optional start function. It
// exists so round-trip fixtures don't need to be checked in as binary
// blobs.
type ModuleBuilder struct {
	Types   []*api.FuncType
	Imports []ImportDesc // function imports only; occupy function index space before FuncSig
	FuncSig []uint32     // one type index per CodeEntry, in order
	Code    []CodeEntry
	Exports map[string]ExportDesc // export name -> kind + index

	Memory    *Limits // nil if the module has no memory
	Table     *Limits // nil if the module has no table
	TableInit []uint32 // active element segment contents, offset 0; ignored if Table == nil

	Globals []GlobalDesc // module-defined globals, in index order after any imported globals

	Start *uint32 // function index, nil if no start function
}

// ImportDesc describes one function import. mod/name are the two-level
// import name; TypeIndex names the imported function's signature.
type ImportDesc struct {
	Module, Name string
	TypeIndex    uint32
}

// GlobalDesc describes one module-defined global with a constant i32 or i64
// initializer (the subset this builder's fixtures need).
type GlobalDesc struct {
	ValType api.ValueType
	Mutable bool
	Init    int64
}

// Limits is the encoder-facing mirror of wasm.Limits, kept separate so this
// package's test-only builder doesn't need to import wasm for one struct.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// ExportDesc names one export's kind and the index into that kind's space.
type ExportDesc struct {
	Kind  api.ExternType
	Index uint32
}

// EncodeModule renders b to the Wasm binary format.
func EncodeModule(b ModuleBuilder) []byte {
	out := append([]byte{}, wasmMagic[:]...)
	out = append(out, 1, 0, 0, 0)

	out = appendSection(out, byte(sectionType), encodeTypeSection(b.Types))
	if len(b.Imports) > 0 {
		out = appendSection(out, byte(sectionImport), encodeImportSection(b.Imports))
	}
	out = appendSection(out, byte(sectionFunction), encodeFunctionSection(b.FuncSig))
	if b.Table != nil {
		out = appendSection(out, byte(sectionTable), encodeTableSection(*b.Table))
	}
	if b.Memory != nil {
		out = appendSection(out, byte(sectionMemory), encodeMemorySection(*b.Memory))
	}
	if len(b.Globals) > 0 {
		out = appendSection(out, byte(sectionGlobal), encodeGlobalSection(b.Globals))
	}
	out = appendSection(out, byte(sectionExport), encodeExportSection(b.Exports))
	if b.Start != nil {
		out = appendSection(out, byte(sectionStart), leb128.EncodeUint32(nil, *b.Start))
	}
	if b.Table != nil && len(b.TableInit) > 0 {
		out = appendSection(out, byte(sectionElement), encodeElementSection(b.TableInit))
	}
	out = appendSection(out, byte(sectionCode), encodeCodeSection(b.Code))
	return out
}

func appendSection(out []byte, id byte, body []byte) []byte {
	out = append(out, id)
	out = leb128.EncodeUint32(out, uint32(len(body)))
	return append(out, body...)
}

func encodeValueTypeByte(vt api.ValueType) byte {
	switch vt {
	case api.ValueTypeI32:
		return 0x7f
	case api.ValueTypeI64:
		return 0x7e
	case api.ValueTypeF32:
		return 0x7d
	case api.ValueTypeF64:
		return 0x7c
	case api.ValueTypeV128:
		return 0x7b
	case api.ValueTypeFuncref:
		return 0x70
	case api.ValueTypeExternref:
		return 0x6f
	default:
		return 0x69
	}
}

func encodeTypeSection(types []*api.FuncType) []byte {
	var body []byte
	body = leb128.EncodeUint32(body, uint32(len(types)))
	for _, t := range types {
		body = append(body, 0x60)
		body = leb128.EncodeUint32(body, uint32(len(t.Params)))
		for _, p := range t.Params {
			body = append(body, encodeValueTypeByte(p))
		}
		body = leb128.EncodeUint32(body, uint32(len(t.Results)))
		for _, rt := range t.Results {
			body = append(body, encodeValueTypeByte(rt))
		}
	}
	return body
}

func encodeImportSection(imports []ImportDesc) []byte {
	var body []byte
	body = leb128.EncodeUint32(body, uint32(len(imports)))
	for _, imp := range imports {
		body = leb128.EncodeUint32(body, uint32(len(imp.Module)))
		body = append(body, imp.Module...)
		body = leb128.EncodeUint32(body, uint32(len(imp.Name)))
		body = append(body, imp.Name...)
		body = append(body, byte(api.ExternTypeFunc))
		body = leb128.EncodeUint32(body, imp.TypeIndex)
	}
	return body
}

func encodeGlobalSection(globals []GlobalDesc) []byte {
	var body []byte
	body = leb128.EncodeUint32(body, uint32(len(globals)))
	for _, g := range globals {
		body = append(body, encodeValueTypeByte(g.ValType))
		if g.Mutable {
			body = append(body, 0x01)
		} else {
			body = append(body, 0x00)
		}
		if g.ValType == api.ValueTypeI64 {
			body = append(body, 0x42) // i64.const
			body = leb128.EncodeInt64(body, g.Init)
		} else {
			body = append(body, 0x41) // i32.const
			body = leb128.EncodeInt32(body, int32(g.Init))
		}
		body = append(body, 0x0b) // end
	}
	return body
}

func encodeFunctionSection(typeIdx []uint32) []byte {
	var body []byte
	body = leb128.EncodeUint32(body, uint32(len(typeIdx)))
	for _, idx := range typeIdx {
		body = leb128.EncodeUint32(body, idx)
	}
	return body
}

func encodeLimits(l Limits) []byte {
	var body []byte
	if l.HasMax {
		body = append(body, 0x01)
		body = leb128.EncodeUint32(body, l.Min)
		body = leb128.EncodeUint32(body, l.Max)
	} else {
		body = append(body, 0x00)
		body = leb128.EncodeUint32(body, l.Min)
	}
	return body
}

func encodeMemorySection(l Limits) []byte {
	body := leb128.EncodeUint32(nil, 1)
	return append(body, encodeLimits(l)...)
}

func encodeTableSection(l Limits) []byte {
	body := leb128.EncodeUint32(nil, 1)
	body = append(body, encodeValueTypeByte(api.ValueTypeFuncref))
	return append(body, encodeLimits(l)...)
}

// encodeElementSection emits a single active segment (flag 0: implicit
// table index 0, i32.const 0 offset) initializing funcs in order.
func encodeElementSection(funcs []uint32) []byte {
	var body []byte
	body = leb128.EncodeUint32(body, 1) // one segment
	body = leb128.EncodeUint32(body, 0) // flag 0: active, table 0
	body = append(body, 0x41)           // i32.const
	body = leb128.EncodeInt32(body, 0)  // offset 0
	body = append(body, 0x0b)           // end
	body = leb128.EncodeUint32(body, uint32(len(funcs)))
	for _, f := range funcs {
		body = leb128.EncodeUint32(body, f)
	}
	return body
}

func encodeExportSection(exports map[string]ExportDesc) []byte {
	var body []byte
	body = leb128.EncodeUint32(body, uint32(len(exports)))
	for name, desc := range exports {
		body = leb128.EncodeUint32(body, uint32(len(name)))
		body = append(body, name...)
		body = append(body, byte(desc.Kind))
		body = leb128.EncodeUint32(body, desc.Index)
	}
	return body
}

func encodeCodeSection(entries []CodeEntry) []byte {
	var body []byte
	body = leb128.EncodeUint32(body, uint32(len(entries)))
	for _, e := range entries {
		var fn []byte
		fn = leb128.EncodeUint32(fn, uint32(len(e.LocalTypes)))
		for _, lt := range e.LocalTypes {
			fn = leb128.EncodeUint32(fn, 1)
			fn = append(fn, encodeValueTypeByte(lt))
		}
		fn = append(fn, e.Body...)
		body = leb128.EncodeUint32(body, uint32(len(fn)))
		body = append(body, fn...)
	}
	return body
}
