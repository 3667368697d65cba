// Package api holds the types and interfaces shared by the public embedding
// surface and the internal compiler/runtime packages.
package api

import (
	"context"
	"fmt"
)

// ValueType classifies a value on the Wasm operand stack, a local, a
// global, or a function parameter/result.
type ValueType byte

const (
	ValueTypeI32 ValueType = iota
	ValueTypeI64
	ValueTypeF32
	ValueTypeF64
	ValueTypeV128
	ValueTypeFuncref
	ValueTypeExternref
	ValueTypeExceptionref
)

// String implements fmt.Stringer.
func (v ValueType) String() string {
	switch v {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	case ValueTypeExceptionref:
		return "exceptionref"
	default:
		return fmt.Sprintf("unknown(%#x)", byte(v))
	}
}

// IsReference returns true for the nullable reference kinds.
func (v ValueType) IsReference() bool {
	return v == ValueTypeFuncref || v == ValueTypeExternref || v == ValueTypeExceptionref
}

// ExternType classifies an import or export.
type ExternType byte

const (
	ExternTypeFunc ExternType = iota
	ExternTypeTable
	ExternTypeMemory
	ExternTypeGlobal
	ExternTypeTag
)

func (e ExternType) String() string {
	switch e {
	case ExternTypeFunc:
		return "func"
	case ExternTypeTable:
		return "table"
	case ExternTypeMemory:
		return "memory"
	case ExternTypeGlobal:
		return "global"
	case ExternTypeTag:
		return "tag"
	default:
		return fmt.Sprintf("unknown(%#x)", byte(e))
	}
}

// FuncType is the static signature of a function: zero or more parameter
// kinds and zero or more result kinds (multi-value).
type FuncType struct {
	Params  []ValueType
	Results []ValueType
}

// String renders a FuncType the way a human debugging a LinkError wants to
// read it, e.g. "(i32,i32)->(i32)".
func (f *FuncType) String() string {
	return fmt.Sprintf("%s->%s", valueTypes(f.Params), valueTypes(f.Results))
}

// EqualsSignature reports whether two FuncTypes have identical params and
// results, used to type-check call_indirect and import linkage.
func (f *FuncType) EqualsSignature(params, results []ValueType) bool {
	if len(f.Params) != len(params) || len(f.Results) != len(results) {
		return false
	}
	for i := range params {
		if f.Params[i] != params[i] {
			return false
		}
	}
	for i := range results {
		if f.Results[i] != results[i] {
			return false
		}
	}
	return true
}

func valueTypes(vs []ValueType) string {
	s := "("
	for i, v := range vs {
		if i > 0 {
			s += ","
		}
		s += v.String()
	}
	return s + ")"
}

// CoreFeatures is a bitset of optional Wasm proposals the engine accepts.
// A use of a disabled feature fails translation with FeatureDisabled.
type CoreFeatures uint64

const (
	CoreFeatureThreads CoreFeatures = 1 << iota
	CoreFeatureSIMD
	CoreFeatureReferenceTypes
	CoreFeatureBulkMemory
	CoreFeatureMultiValue
	CoreFeatureTailCall
	CoreFeatureExceptions
	CoreFeatureMemory64
	CoreFeatureRelaxedSIMD
	CoreFeatureGC
	CoreFeatureExtendedConst
	CoreFeatureFunctionReferences
)

var featureNames = map[CoreFeatures]string{
	CoreFeatureThreads:            "threads",
	CoreFeatureSIMD:               "simd",
	CoreFeatureReferenceTypes:     "reference-types",
	CoreFeatureBulkMemory:         "bulk-memory",
	CoreFeatureMultiValue:         "multi-value",
	CoreFeatureTailCall:           "tail-call",
	CoreFeatureExceptions:         "exceptions",
	CoreFeatureMemory64:           "memory64",
	CoreFeatureRelaxedSIMD:        "relaxed-simd",
	CoreFeatureGC:                 "gc",
	CoreFeatureExtendedConst:      "extended-const",
	CoreFeatureFunctionReferences: "function-references",
}

// IsEnabled reports whether every bit in want is set in f.
func (f CoreFeatures) IsEnabled(want CoreFeatures) bool {
	return f&want == want
}

// Name returns the canonical proposal name for a single feature bit.
func (f CoreFeatures) Name() string {
	if name, ok := featureNames[f]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%#x)", uint64(f))
}

// CoreFeaturesV2 is the baseline feature set this engine enables by default:
// proposals that have shipped long enough to be considered stable AND that
// this engine actually implements. ReferenceTypes and BulkMemory cover only
// table.get/table.set and memory.copy/memory.fill respectively — the rest
// of each proposal (table.grow/fill/copy/init, elem.drop/data.drop,
// memory.init) is
// unimplemented and reports FeatureDisabled regardless of this bit. SIMD
// and ExtendedConst have no implementation at all and are deliberately
// left out rather than advertised and silently unhandled; see DESIGN.md.
const CoreFeaturesV2 = CoreFeatureReferenceTypes | CoreFeatureBulkMemory | CoreFeatureMultiValue

// TrapCode enumerates the ways guest code can fault. These are the only
// codes a Trap may carry; the unwinder never invents new ones.
type TrapCode byte

const (
	TrapCodeUnreachableExecuted TrapCode = iota
	TrapCodeIntegerOverflow
	TrapCodeIntegerDivisionByZero
	TrapCodeBadConversionToInteger
	TrapCodeHeapAccessOutOfBounds
	TrapCodeHeapMisaligned
	TrapCodeTableAccessOutOfBounds
	TrapCodeIndirectCallToNull
	TrapCodeBadSignature
	TrapCodeStackOverflow
	TrapCodeUnalignedAtomic
	TrapCodeUncaughtException
)

func (c TrapCode) String() string {
	switch c {
	case TrapCodeUnreachableExecuted:
		return "unreachable executed"
	case TrapCodeIntegerOverflow:
		return "integer overflow"
	case TrapCodeIntegerDivisionByZero:
		return "integer division by zero"
	case TrapCodeBadConversionToInteger:
		return "invalid conversion to integer"
	case TrapCodeHeapAccessOutOfBounds:
		return "out of bounds memory access"
	case TrapCodeHeapMisaligned:
		return "misaligned memory access"
	case TrapCodeTableAccessOutOfBounds:
		return "out of bounds table access"
	case TrapCodeIndirectCallToNull:
		return "indirect call to null"
	case TrapCodeBadSignature:
		return "indirect call type mismatch"
	case TrapCodeStackOverflow:
		return "stack overflow"
	case TrapCodeUnalignedAtomic:
		return "unaligned atomic"
	case TrapCodeUncaughtException:
		return "uncaught exception"
	default:
		return fmt.Sprintf("unknown trap(%d)", byte(c))
	}
}

// Frame is one entry of a Trap's backtrace.
type Frame struct {
	ModuleName   string
	FunctionName string
	FunctionIndex uint32
	WasmOffset   uint64
	Symbol       string
}

// Trap is returned instead of results when guest execution faults.
type Trap struct {
	Code    TrapCode
	Message string
	Frames  []Frame
}

func (t *Trap) Error() string {
	if t.Message != "" {
		return fmt.Sprintf("wasm trap: %s: %s", t.Code, t.Message)
	}
	return fmt.Sprintf("wasm trap: %s", t.Code)
}

// AsTrap reports whether err is a *Trap, returning it if so. It is a plain
// type assertion: a *Trap wrapped inside another error is not found.
func AsTrap(err error) (*Trap, bool) {
	t, ok := err.(*Trap)
	return t, ok
}

// Closer is implemented by any resource the embedder must explicitly
// release (Engine, Instance, Artifact caches).
type Closer interface {
	Close(ctx context.Context) error
}

// Function is a callable export or host import, independent of whether it
// is backed by compiled guest code or a Go function.
type Function interface {
	Definition() FuncType
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// Memory is the host-facing view of a single linear memory.
type Memory interface {
	Size() uint32
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, data []byte) bool
}

// Table is the host-facing view of a table of references.
type Table interface {
	Size() uint32
	Grow(delta uint32, init uint64) (previous uint32, ok bool)
	Get(index uint32) (uint64, bool)
	Set(index uint32, value uint64) bool
}

// Global is the host-facing view of a global cell.
type Global interface {
	Type() ValueType
	Get() uint64
}

// MutableGlobal additionally allows writes; only mutable globals implement
// it in practice, but the split mirrors the read-only default in Wasm.
type MutableGlobal interface {
	Global
	Set(value uint64)
}

// Extern is any of the four export kinds bound to a concrete runtime
// object, used both for import satisfaction and for Instance.Exports().
type Extern struct {
	Type    ExternType
	Func    Function
	Memory  Memory
	Table   Table
	Global  Global
}
