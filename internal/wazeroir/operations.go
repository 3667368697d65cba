// Package wazeroir defines the compiler-independent intermediate
// representation every back-end consumes: a flat, already-validated,
// already-branch-resolved operator stream. Grounded on the teacher's
// internal/wazeroir package (one small struct per operation kind,
// compiler_test.go's fixtures for the expected flattening of structured
// control flow into labeled branches).
package wazeroir

import "github.com/wasmcore-go/wasmcore/api"

// OperationKind tags the union in Operation.
type OperationKind byte

const (
	OperationKindUnreachable OperationKind = iota
	OperationKindLabel
	OperationKindBr
	OperationKindBrIf
	OperationKindBrTable
	OperationKindCall
	OperationKindCallIndirect
	OperationKindDrop
	OperationKindSelect
	OperationKindPick
	OperationKindSwap
	OperationKindGlobalGet
	OperationKindGlobalSet
	OperationKindLocalGet
	OperationKindLocalSet
	OperationKindLocalTee
	OperationKindConstI32
	OperationKindConstI64
	OperationKindConstF32
	OperationKindConstF64
	OperationKindLoad
	OperationKindStore
	OperationKindMemorySize
	OperationKindMemoryGrow
	OperationKindMemoryCopy
	OperationKindMemoryFill
	OperationKindEq
	OperationKindNe
	OperationKindLt
	OperationKindGt
	OperationKindLe
	OperationKindGe
	OperationKindEqz
	OperationKindAdd
	OperationKindSub
	OperationKindMul
	OperationKindDiv
	OperationKindRem
	OperationKindAnd
	OperationKindOr
	OperationKindXor
	OperationKindShl
	OperationKindShr
	OperationKindRotl
	OperationKindRotr
	OperationKindClz
	OperationKindCtz
	OperationKindPopcnt
	OperationKindAbs
	OperationKindNeg
	OperationKindCeil
	OperationKindFloor
	OperationKindTrunc
	OperationKindNearest
	OperationKindSqrt
	OperationKindMin
	OperationKindMax
	OperationKindCopysign
	OperationKindConvert
	OperationKindReturn
	OperationKindRefFunc
	OperationKindRefNull
	OperationKindRefIsNull
	OperationKindTableGet
	OperationKindTableSet
	OperationKindTableGrow
	OperationKindTableSize
	OperationKindTableFill
)

// ConvertOp discriminates which numeric conversion an OperationKindConvert
// instruction performs. Values are the instruction's raw Wasm opcode byte,
// except the saturating-truncation family (the 0xFC-prefixed proposal),
// which is offset by convertSatBase to keep it out of the single-byte
// range every other opcode occupies.
type ConvertOp uint32

const convertSatBase ConvertOp = 0x100

const (
	ConvertI32WrapI64        ConvertOp = 0xA7
	ConvertI32TruncF32S      ConvertOp = 0xA8
	ConvertI32TruncF32U      ConvertOp = 0xA9
	ConvertI32TruncF64S      ConvertOp = 0xAA
	ConvertI32TruncF64U      ConvertOp = 0xAB
	ConvertI64ExtendI32S     ConvertOp = 0xAC
	ConvertI64ExtendI32U     ConvertOp = 0xAD
	ConvertI64TruncF32S      ConvertOp = 0xAE
	ConvertI64TruncF32U      ConvertOp = 0xAF
	ConvertI64TruncF64S      ConvertOp = 0xB0
	ConvertI64TruncF64U      ConvertOp = 0xB1
	ConvertF32ConvertI32S    ConvertOp = 0xB2
	ConvertF32ConvertI32U    ConvertOp = 0xB3
	ConvertF32ConvertI64S    ConvertOp = 0xB4
	ConvertF32ConvertI64U    ConvertOp = 0xB5
	ConvertF32DemoteF64      ConvertOp = 0xB6
	ConvertF64ConvertI32S    ConvertOp = 0xB7
	ConvertF64ConvertI32U    ConvertOp = 0xB8
	ConvertF64ConvertI64S    ConvertOp = 0xB9
	ConvertF64ConvertI64U    ConvertOp = 0xBA
	ConvertF64PromoteF32     ConvertOp = 0xBB
	ConvertI32ReinterpretF32 ConvertOp = 0xBC
	ConvertI64ReinterpretF64 ConvertOp = 0xBD
	ConvertF32ReinterpretI32 ConvertOp = 0xBE
	ConvertF64ReinterpretI64 ConvertOp = 0xBF
	ConvertI32Extend8S       ConvertOp = 0xC0
	ConvertI32Extend16S      ConvertOp = 0xC1
	ConvertI64Extend8S       ConvertOp = 0xC2
	ConvertI64Extend16S      ConvertOp = 0xC3
	ConvertI64Extend32S      ConvertOp = 0xC4

	ConvertI32TruncSatF32S ConvertOp = convertSatBase + 0
	ConvertI32TruncSatF32U ConvertOp = convertSatBase + 1
	ConvertI32TruncSatF64S ConvertOp = convertSatBase + 2
	ConvertI32TruncSatF64U ConvertOp = convertSatBase + 3
	ConvertI64TruncSatF32S ConvertOp = convertSatBase + 4
	ConvertI64TruncSatF32U ConvertOp = convertSatBase + 5
	ConvertI64TruncSatF64S ConvertOp = convertSatBase + 6
	ConvertI64TruncSatF64U ConvertOp = convertSatBase + 7
)

// NumericClass distinguishes i32/i64/f32/f64 variants of a shared opcode
// family (add, comparisons, …) so back-ends can switch on one field
// instead of dozens of OperationKind values.
type NumericClass byte

const (
	ClassI32 NumericClass = iota
	ClassI64
	ClassF32
	ClassF64
)

// ConstKind returns the ConstXxx OperationKind matching this class, used
// by back-end passes that synthesize a new constant of a known class.
func (c NumericClass) ConstKind() OperationKind {
	switch c {
	case ClassI64:
		return OperationKindConstI64
	case ClassF32:
		return OperationKindConstF32
	case ClassF64:
		return OperationKindConstF64
	default:
		return OperationKindConstI32
	}
}

// Signedness disambiguates *S/*U opcode pairs (div_s vs div_u, etc).
type Signedness byte

const (
	SignedOrNA Signedness = iota
	Unsigned
)

// MemArg carries a load/store instruction's static alignment hint and
// offset immediate.
type MemArg struct {
	Alignment uint32
	Offset    uint32
}

// Operation is one flattened wazeroir instruction. Only the fields
// relevant to Kind are meaningful; this mirrors the teacher's pattern of
// "one struct type per operation" but collapsed into a tagged union to
// keep the back-end dispatch loop (internal/engine/execexec) a single flat
// switch, which is the shape both singlepass and the interpreted fallback
// want.
type Operation struct {
	Kind OperationKind

	Class      NumericClass
	Signedness Signedness

	// Label / branch targets are resolved to absolute indices into the
	// owning CompiledFunction.Operations slice before the back-end ever
	// sees them — structured control flow never reaches the back-end.
	BranchTarget  int
	BranchTargets []int // br_table: targets[0:n-1] plus the default as the last entry

	Index  uint32 // local/global/function/table/type index, depending on Kind
	Convert ConvertOp // which numeric conversion, only meaningful for OperationKindConvert
	ImmI32 int32
	ImmI64 int64
	ImmF32 float32
	ImmF64 float64

	Mem MemArg

	// Arity is a result count: Lower sets it on call, call_indirect and
	// return operations, and execexec reads it on return to take that many
	// values off the operand stack.
	Arity int

	// RefLiveSlots lists abstract stack-slot ids holding reference types
	// across a call. Lower never sets it, so it is always nil, and nothing
	// reads it.
	RefLiveSlots []int

	// SourceOffset is the byte offset of this instruction in the original
	// Wasm function body, used for Trap backtraces and the address map.
	SourceOffset int
}

// CompiledFunction is the lowered form of one function body: a flat,
// validated Operation stream plus the metadata a back-end needs to set up
// its frame (param/result/local layout).
type CompiledFunction struct {
	Signature       *api.FuncType
	NumLocals       int // params + declared locals
	LocalTypes      []api.ValueType // length == NumLocals, params first
	Operations      []Operation
	MaxStackDepth    int
	HasMemory       bool
	HasTable        bool
}
