package wazeroir

import (
	"bytes"
	"fmt"
	"math"

	"github.com/wasmcore-go/wasmcore/api"
	"github.com/wasmcore-go/wasmcore/internal/wasm/leb128"
)

// ValidationError corresponds to the spec's Validation(reason, function_index, offset).
type ValidationError struct {
	FunctionIndex uint32
	Offset        int
	Reason        string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error in function %d at offset %d: %s", e.FunctionIndex, e.Offset, e.Reason)
}

// FeatureDisabledError mirrors binary.FeatureDisabledError for uses that
// first appear inside a function body rather than in a section header.
type FeatureDisabledError struct{ Feature string }

func (e *FeatureDisabledError) Error() string { return "feature disabled: " + e.Feature }

// raw Wasm opcode bytes this lowering pass understands. Named distinctly
// from wasm.Opcode (which tags already-classified const-exprs) because
// these are the literal bytes of the binary format.
const (
	rawUnreachable = 0x00
	rawNop         = 0x01
	rawBlock       = 0x02
	rawLoop        = 0x03
	rawIf          = 0x04
	rawElse        = 0x05
	rawEnd         = 0x0B
	rawBr          = 0x0C
	rawBrIf        = 0x0D
	rawBrTable     = 0x0E
	rawReturn      = 0x0F
	rawCall        = 0x10
	rawCallIndirect = 0x11
	rawDrop        = 0x1A
	rawSelect      = 0x1B
	rawSelectT     = 0x1C
	rawLocalGet    = 0x20
	rawLocalSet    = 0x21
	rawLocalTee    = 0x22
	rawGlobalGet   = 0x23
	rawGlobalSet   = 0x24
	rawTableGet    = 0x25
	rawTableSet    = 0x26

	rawI32Load = 0x28
	rawI64Load = 0x29
	rawF32Load = 0x2A
	rawF64Load = 0x2B
	rawI32Load8S  = 0x2C
	rawI32Load8U  = 0x2D
	rawI32Load16S = 0x2E
	rawI32Load16U = 0x2F
	rawI64Load8S  = 0x30
	rawI64Load8U  = 0x31
	rawI64Load16S = 0x32
	rawI64Load16U = 0x33
	rawI64Load32S = 0x34
	rawI64Load32U = 0x35
	rawI32Store   = 0x36
	rawI64Store   = 0x37
	rawF32Store   = 0x38
	rawF64Store   = 0x39
	rawI32Store8  = 0x3A
	rawI32Store16 = 0x3B
	rawI64Store8  = 0x3C
	rawI64Store16 = 0x3D
	rawI64Store32 = 0x3E
	rawMemorySize = 0x3F
	rawMemoryGrow = 0x40

	rawI32Const = 0x41
	rawI64Const = 0x42
	rawF32Const = 0x43
	rawF64Const = 0x44

	rawRefNull   = 0xD0
	rawRefIsNull = 0xD1
	rawRefFunc   = 0xD2

	rawMisc = 0xFC // bulk-memory / saturating-truncation prefix

	// MVP float unary ops and the min/max/copysign family that share the
	// f32/f64 opcode ranges with lowerArith's add/sub/mul/div entries.
	rawF32Abs = 0x8B
	rawF32Neg = 0x8C
	rawF32Ceil = 0x8D
	rawF32Floor = 0x8E
	rawF32Trunc = 0x8F
	rawF32Nearest = 0x90
	rawF32Sqrt = 0x91
	rawF32Min = 0x96
	rawF32Max = 0x97
	rawF32Copysign = 0x98

	rawF64Abs = 0x99
	rawF64Neg = 0x9A
	rawF64Ceil = 0x9B
	rawF64Floor = 0x9C
	rawF64Trunc = 0x9D
	rawF64Nearest = 0x9E
	rawF64Sqrt = 0x9F
	rawF64Min = 0xA4
	rawF64Max = 0xA5
	rawF64Copysign = 0xA6

	// Numeric conversion and sign-extension opcodes. These are baseline
	// MVP (1.0) instructions, not a gated proposal: every module emitted by
	// a real C/Rust/Go/AssemblyScript toolchain uses them.
	rawI32WrapI64        = 0xA7
	rawI32TruncF32S      = 0xA8
	rawI32TruncF32U      = 0xA9
	rawI32TruncF64S      = 0xAA
	rawI32TruncF64U      = 0xAB
	rawI64ExtendI32S     = 0xAC
	rawI64ExtendI32U     = 0xAD
	rawI64TruncF32S      = 0xAE
	rawI64TruncF32U      = 0xAF
	rawI64TruncF64S      = 0xB0
	rawI64TruncF64U      = 0xB1
	rawF32ConvertI32S    = 0xB2
	rawF32ConvertI32U    = 0xB3
	rawF32ConvertI64S    = 0xB4
	rawF32ConvertI64U    = 0xB5
	rawF32DemoteF64      = 0xB6
	rawF64ConvertI32S    = 0xB7
	rawF64ConvertI32U    = 0xB8
	rawF64ConvertI64S    = 0xB9
	rawF64ConvertI64U    = 0xBA
	rawF64PromoteF32     = 0xBB
	rawI32ReinterpretF32 = 0xBC
	rawI64ReinterpretF64 = 0xBD
	rawF32ReinterpretI32 = 0xBE
	rawF64ReinterpretI64 = 0xBF
	rawI32Extend8S       = 0xC0
	rawI32Extend16S      = 0xC1
	rawI64Extend8S       = 0xC2
	rawI64Extend16S      = 0xC3
	rawI64Extend32S      = 0xC4

	// rawMisc sub-opcodes (unsigned LEB128 immediately after 0xFC).
	miscI32TruncSatF32S = 0
	miscI32TruncSatF32U = 1
	miscI32TruncSatF64S = 2
	miscI32TruncSatF64U = 3
	miscI64TruncSatF32S = 4
	miscI64TruncSatF32U = 5
	miscI64TruncSatF64S = 6
	miscI64TruncSatF64U = 7
	miscMemoryInit      = 8
	miscDataDrop        = 9
	miscMemoryCopy      = 10
	miscMemoryFill      = 11
	miscTableInit       = 12
	miscElemDrop        = 13
	miscTableCopy       = 14
	miscTableGrow       = 15
	miscTableSize       = 16
	miscTableFill       = 17
)

// loadOp / storeOp describe a memory access instruction's natural width and
// whether it sign- or zero-extends.
type accessWidth struct {
	class  NumericClass
	bytes  uint32
	signed bool // for narrow loads; irrelevant to stores
}

var loadOpInfo = map[byte]accessWidth{
	rawI32Load:     {ClassI32, 4, false},
	rawI64Load:     {ClassI64, 8, false},
	rawF32Load:     {ClassF32, 4, false},
	rawF64Load:     {ClassF64, 8, false},
	rawI32Load8S:   {ClassI32, 1, true},
	rawI32Load8U:   {ClassI32, 1, false},
	rawI32Load16S:  {ClassI32, 2, true},
	rawI32Load16U:  {ClassI32, 2, false},
	rawI64Load8S:   {ClassI64, 1, true},
	rawI64Load8U:   {ClassI64, 1, false},
	rawI64Load16S:  {ClassI64, 2, true},
	rawI64Load16U:  {ClassI64, 2, false},
	rawI64Load32S:  {ClassI64, 4, true},
	rawI64Load32U:  {ClassI64, 4, false},
}

var storeOpInfo = map[byte]accessWidth{
	rawI32Store:   {ClassI32, 4, false},
	rawI64Store:   {ClassI64, 8, false},
	rawF32Store:   {ClassF32, 4, false},
	rawF64Store:   {ClassF64, 8, false},
	rawI32Store8:  {ClassI32, 1, false},
	rawI32Store16: {ClassI32, 2, false},
	rawI64Store8:  {ClassI64, 1, false},
	rawI64Store16: {ClassI64, 2, false},
	rawI64Store32: {ClassI64, 4, false},
}

type arithInfo struct {
	kind       OperationKind
	class      NumericClass
	signedness Signedness
}

// binOpInfo maps the large family of binary/unary/comparison opcodes that
// differ only in class+signedness to one table, so the main switch in
// lowerBody doesn't have to repeat the same five lines forty times.
var binOpInfo = map[byte]arithInfo{
	0x46: {OperationKindEq, ClassI32, SignedOrNA}, 0x47: {OperationKindNe, ClassI32, SignedOrNA},
	0x48: {OperationKindLt, ClassI32, SignedOrNA}, 0x49: {OperationKindLt, ClassI32, Unsigned},
	0x4A: {OperationKindGt, ClassI32, SignedOrNA}, 0x4B: {OperationKindGt, ClassI32, Unsigned},
	0x4C: {OperationKindLe, ClassI32, SignedOrNA}, 0x4D: {OperationKindLe, ClassI32, Unsigned},
	0x4E: {OperationKindGe, ClassI32, SignedOrNA}, 0x4F: {OperationKindGe, ClassI32, Unsigned},

	0x51: {OperationKindEq, ClassI64, SignedOrNA}, 0x52: {OperationKindNe, ClassI64, SignedOrNA},
	0x53: {OperationKindLt, ClassI64, SignedOrNA}, 0x54: {OperationKindLt, ClassI64, Unsigned},
	0x55: {OperationKindGt, ClassI64, SignedOrNA}, 0x56: {OperationKindGt, ClassI64, Unsigned},
	0x57: {OperationKindLe, ClassI64, SignedOrNA}, 0x58: {OperationKindLe, ClassI64, Unsigned},
	0x59: {OperationKindGe, ClassI64, SignedOrNA}, 0x5A: {OperationKindGe, ClassI64, Unsigned},

	0x5B: {OperationKindEq, ClassF32, SignedOrNA}, 0x5C: {OperationKindNe, ClassF32, SignedOrNA},
	0x5D: {OperationKindLt, ClassF32, SignedOrNA}, 0x5E: {OperationKindGt, ClassF32, SignedOrNA},
	0x5F: {OperationKindLe, ClassF32, SignedOrNA}, 0x60: {OperationKindGe, ClassF32, SignedOrNA},

	0x61: {OperationKindEq, ClassF64, SignedOrNA}, 0x62: {OperationKindNe, ClassF64, SignedOrNA},
	0x63: {OperationKindLt, ClassF64, SignedOrNA}, 0x64: {OperationKindGt, ClassF64, SignedOrNA},
	0x65: {OperationKindLe, ClassF64, SignedOrNA}, 0x66: {OperationKindGe, ClassF64, SignedOrNA},

	0x67: {OperationKindClz, ClassI32, SignedOrNA}, 0x68: {OperationKindCtz, ClassI32, SignedOrNA}, 0x69: {OperationKindPopcnt, ClassI32, SignedOrNA},
	0x6A: {OperationKindAdd, ClassI32, SignedOrNA}, 0x6B: {OperationKindSub, ClassI32, SignedOrNA}, 0x6C: {OperationKindMul, ClassI32, SignedOrNA},
	0x6D: {OperationKindDiv, ClassI32, SignedOrNA}, 0x6E: {OperationKindDiv, ClassI32, Unsigned},
	0x6F: {OperationKindRem, ClassI32, SignedOrNA}, 0x70: {OperationKindRem, ClassI32, Unsigned},
	0x71: {OperationKindAnd, ClassI32, SignedOrNA}, 0x72: {OperationKindOr, ClassI32, SignedOrNA}, 0x73: {OperationKindXor, ClassI32, SignedOrNA},
	0x74: {OperationKindShl, ClassI32, SignedOrNA}, 0x75: {OperationKindShr, ClassI32, SignedOrNA}, 0x76: {OperationKindShr, ClassI32, Unsigned},
	0x77: {OperationKindRotl, ClassI32, SignedOrNA}, 0x78: {OperationKindRotr, ClassI32, SignedOrNA},

	0x79: {OperationKindClz, ClassI64, SignedOrNA}, 0x7A: {OperationKindCtz, ClassI64, SignedOrNA}, 0x7B: {OperationKindPopcnt, ClassI64, SignedOrNA},
	0x7C: {OperationKindAdd, ClassI64, SignedOrNA}, 0x7D: {OperationKindSub, ClassI64, SignedOrNA}, 0x7E: {OperationKindMul, ClassI64, SignedOrNA},
	0x7F: {OperationKindDiv, ClassI64, SignedOrNA}, 0x80: {OperationKindDiv, ClassI64, Unsigned},
	0x81: {OperationKindRem, ClassI64, SignedOrNA}, 0x82: {OperationKindRem, ClassI64, Unsigned},
	0x83: {OperationKindAnd, ClassI64, SignedOrNA}, 0x84: {OperationKindOr, ClassI64, SignedOrNA}, 0x85: {OperationKindXor, ClassI64, SignedOrNA},
	0x86: {OperationKindShl, ClassI64, SignedOrNA}, 0x87: {OperationKindShr, ClassI64, SignedOrNA}, 0x88: {OperationKindShr, ClassI64, Unsigned},
	0x89: {OperationKindRotl, ClassI64, SignedOrNA}, 0x8A: {OperationKindRotr, ClassI64, SignedOrNA},

	0x92: {OperationKindAdd, ClassF32, SignedOrNA}, 0x93: {OperationKindSub, ClassF32, SignedOrNA},
	0x94: {OperationKindMul, ClassF32, SignedOrNA}, 0x95: {OperationKindDiv, ClassF32, SignedOrNA},

	0xA0: {OperationKindAdd, ClassF64, SignedOrNA}, 0xA1: {OperationKindSub, ClassF64, SignedOrNA},
	0xA2: {OperationKindMul, ClassF64, SignedOrNA}, 0xA3: {OperationKindDiv, ClassF64, SignedOrNA},

	rawF32Min: {OperationKindMin, ClassF32, SignedOrNA}, rawF32Max: {OperationKindMax, ClassF32, SignedOrNA},
	rawF32Copysign: {OperationKindCopysign, ClassF32, SignedOrNA},
	rawF64Min: {OperationKindMin, ClassF64, SignedOrNA}, rawF64Max: {OperationKindMax, ClassF64, SignedOrNA},
	rawF64Copysign: {OperationKindCopysign, ClassF64, SignedOrNA},
}

var unaryEqz = map[byte]NumericClass{0x45: ClassI32, 0x50: ClassI64}

// floatUnaryOpInfo covers the f32/f64 abs/neg/ceil/floor/trunc/nearest/sqrt
// family, which (unlike binOpInfo's clz/ctz/popcnt) only ever applies to
// float classes, so it gets its own small table instead of overloading
// arithInfo's signedness field.
var floatUnaryOpInfo = map[byte]arithInfo{
	rawF32Abs: {OperationKindAbs, ClassF32, SignedOrNA}, rawF32Neg: {OperationKindNeg, ClassF32, SignedOrNA},
	rawF32Ceil: {OperationKindCeil, ClassF32, SignedOrNA}, rawF32Floor: {OperationKindFloor, ClassF32, SignedOrNA},
	rawF32Trunc: {OperationKindTrunc, ClassF32, SignedOrNA}, rawF32Nearest: {OperationKindNearest, ClassF32, SignedOrNA},
	rawF32Sqrt: {OperationKindSqrt, ClassF32, SignedOrNA},

	rawF64Abs: {OperationKindAbs, ClassF64, SignedOrNA}, rawF64Neg: {OperationKindNeg, ClassF64, SignedOrNA},
	rawF64Ceil: {OperationKindCeil, ClassF64, SignedOrNA}, rawF64Floor: {OperationKindFloor, ClassF64, SignedOrNA},
	rawF64Trunc: {OperationKindTrunc, ClassF64, SignedOrNA}, rawF64Nearest: {OperationKindNearest, ClassF64, SignedOrNA},
	rawF64Sqrt: {OperationKindSqrt, ClassF64, SignedOrNA},
}

// convertInfo describes one numeric-conversion opcode's operand and result
// type, so lowerConvert can pop/push correctly without a giant switch.
type convertInfo struct {
	from, to api.ValueType
	op       ConvertOp
}

var convertOpInfo = map[byte]convertInfo{
	rawI32WrapI64:        {api.ValueTypeI64, api.ValueTypeI32, ConvertI32WrapI64},
	rawI32TruncF32S:      {api.ValueTypeF32, api.ValueTypeI32, ConvertI32TruncF32S},
	rawI32TruncF32U:      {api.ValueTypeF32, api.ValueTypeI32, ConvertI32TruncF32U},
	rawI32TruncF64S:      {api.ValueTypeF64, api.ValueTypeI32, ConvertI32TruncF64S},
	rawI32TruncF64U:      {api.ValueTypeF64, api.ValueTypeI32, ConvertI32TruncF64U},
	rawI64ExtendI32S:     {api.ValueTypeI32, api.ValueTypeI64, ConvertI64ExtendI32S},
	rawI64ExtendI32U:     {api.ValueTypeI32, api.ValueTypeI64, ConvertI64ExtendI32U},
	rawI64TruncF32S:      {api.ValueTypeF32, api.ValueTypeI64, ConvertI64TruncF32S},
	rawI64TruncF32U:      {api.ValueTypeF32, api.ValueTypeI64, ConvertI64TruncF32U},
	rawI64TruncF64S:      {api.ValueTypeF64, api.ValueTypeI64, ConvertI64TruncF64S},
	rawI64TruncF64U:      {api.ValueTypeF64, api.ValueTypeI64, ConvertI64TruncF64U},
	rawF32ConvertI32S:    {api.ValueTypeI32, api.ValueTypeF32, ConvertF32ConvertI32S},
	rawF32ConvertI32U:    {api.ValueTypeI32, api.ValueTypeF32, ConvertF32ConvertI32U},
	rawF32ConvertI64S:    {api.ValueTypeI64, api.ValueTypeF32, ConvertF32ConvertI64S},
	rawF32ConvertI64U:    {api.ValueTypeI64, api.ValueTypeF32, ConvertF32ConvertI64U},
	rawF32DemoteF64:      {api.ValueTypeF64, api.ValueTypeF32, ConvertF32DemoteF64},
	rawF64ConvertI32S:    {api.ValueTypeI32, api.ValueTypeF64, ConvertF64ConvertI32S},
	rawF64ConvertI32U:    {api.ValueTypeI32, api.ValueTypeF64, ConvertF64ConvertI32U},
	rawF64ConvertI64S:    {api.ValueTypeI64, api.ValueTypeF64, ConvertF64ConvertI64S},
	rawF64ConvertI64U:    {api.ValueTypeI64, api.ValueTypeF64, ConvertF64ConvertI64U},
	rawF64PromoteF32:     {api.ValueTypeF32, api.ValueTypeF64, ConvertF64PromoteF32},
	rawI32ReinterpretF32: {api.ValueTypeF32, api.ValueTypeI32, ConvertI32ReinterpretF32},
	rawI64ReinterpretF64: {api.ValueTypeF64, api.ValueTypeI64, ConvertI64ReinterpretF64},
	rawF32ReinterpretI32: {api.ValueTypeI32, api.ValueTypeF32, ConvertF32ReinterpretI32},
	rawF64ReinterpretI64: {api.ValueTypeI64, api.ValueTypeF64, ConvertF64ReinterpretI64},
	rawI32Extend8S:       {api.ValueTypeI32, api.ValueTypeI32, ConvertI32Extend8S},
	rawI32Extend16S:      {api.ValueTypeI32, api.ValueTypeI32, ConvertI32Extend16S},
	rawI64Extend8S:       {api.ValueTypeI64, api.ValueTypeI64, ConvertI64Extend8S},
	rawI64Extend16S:      {api.ValueTypeI64, api.ValueTypeI64, ConvertI64Extend16S},
	rawI64Extend32S:      {api.ValueTypeI64, api.ValueTypeI64, ConvertI64Extend32S},
}

var truncSatInfo = map[uint32]convertInfo{
	miscI32TruncSatF32S: {api.ValueTypeF32, api.ValueTypeI32, ConvertI32TruncSatF32S},
	miscI32TruncSatF32U: {api.ValueTypeF32, api.ValueTypeI32, ConvertI32TruncSatF32U},
	miscI32TruncSatF64S: {api.ValueTypeF64, api.ValueTypeI32, ConvertI32TruncSatF64S},
	miscI32TruncSatF64U: {api.ValueTypeF64, api.ValueTypeI32, ConvertI32TruncSatF64U},
	miscI64TruncSatF32S: {api.ValueTypeF32, api.ValueTypeI64, ConvertI64TruncSatF32S},
	miscI64TruncSatF32U: {api.ValueTypeF32, api.ValueTypeI64, ConvertI64TruncSatF32U},
	miscI64TruncSatF64S: {api.ValueTypeF64, api.ValueTypeI64, ConvertI64TruncSatF64S},
	miscI64TruncSatF64U: {api.ValueTypeF64, api.ValueTypeI64, ConvertI64TruncSatF64U},
}

type brTablePatch struct{ opIdx, slot int }

type controlFrame struct {
	isLoop       bool
	blockType    *api.FuncType
	stackBase    int
	unreachable  bool
	labelPos     int            // for loops: index of the Label op at the loop head
	endPatches   []int          // indices of Br/BrIf ops whose BranchTarget must point just after this frame's matching End
	tablePatches []brTablePatch // same, for individual BrTable slots
	elsePatch    int            // index of the `if`'s conditional-skip Op, -1 if none pending
}

type lowerer struct {
	module    moduleView
	funcIndex uint32
	features  api.CoreFeatures
	locals    []api.ValueType
	sig       *api.FuncType
	valStack  []api.ValueType
	ctrl      []controlFrame
	ops       []Operation
	maxDepth  int
	curOffset int // byte offset of the instruction currently being lowered
}

// moduleView is the minimal read-only surface Lower needs from a *wasm.Module,
// kept narrow to avoid an import cycle between wasm and wazeroir.
type moduleView interface {
	TypeByIndex(i uint32) (*api.FuncType, error)
	FunctionTypeByIndex(i uint32) (*api.FuncType, error)
	GlobalTypeByIndex(i uint32) (api.ValueType, bool, error)
	HasMemory() bool
	HasTable() bool
}

// Lower validates and translates one function body into a CompiledFunction.
// It implements spec §4.1's "validation done strictly before code
// generation begins for each function": any error aborts before a single
// Operation is handed to a back-end.
func Lower(m moduleView, funcIndex uint32, sig *api.FuncType, localTypes []api.ValueType, body []byte, features api.CoreFeatures) (*CompiledFunction, error) {
	l := &lowerer{module: m, funcIndex: funcIndex, features: features, sig: sig}
	l.locals = append(append([]api.ValueType{}, sig.Params...), localTypes...)

	// Implicit outermost block frame with the function's own result type.
	l.ctrl = append(l.ctrl, controlFrame{blockType: sig, stackBase: 0, elsePatch: -1})

	r := bytes.NewReader(body)
	for r.Len() > 0 {
		offset := len(body) - r.Len()
		l.curOffset = offset
		op, err := r.ReadByte()
		if err != nil {
			return nil, l.errf(offset, "%v", err)
		}
		if err := l.step(op, r, offset); err != nil {
			return nil, err
		}
		if len(l.ctrl) == 0 {
			break // consumed the function-level `end`
		}
	}
	if len(l.ctrl) != 0 {
		return nil, l.errf(len(body), "function body missing end")
	}

	return &CompiledFunction{
		Signature:    sig,
		NumLocals:    len(l.locals),
		LocalTypes:   l.locals,
		Operations:   l.ops,
		MaxStackDepth: l.maxDepth,
		HasMemory:    m.HasMemory(),
		HasTable:     m.HasTable(),
	}, nil
}

func (l *lowerer) errf(offset int, format string, args ...interface{}) error {
	return &ValidationError{FunctionIndex: l.funcIndex, Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

func (l *lowerer) emit(o Operation) int {
	o.SourceOffset = l.curOffset
	l.ops = append(l.ops, o)
	if len(l.valStack) > l.maxDepth {
		l.maxDepth = len(l.valStack)
	}
	return len(l.ops) - 1
}

func (l *lowerer) push(vt api.ValueType) {
	l.valStack = append(l.valStack, vt)
	if len(l.valStack) > l.maxDepth {
		l.maxDepth = len(l.valStack)
	}
}

func (l *lowerer) pop(offset int, want api.ValueType) (api.ValueType, error) {
	frame := &l.ctrl[len(l.ctrl)-1]
	if len(l.valStack) == frame.stackBase {
		if frame.unreachable {
			return want, nil // polymorphic stack after unreachable/br
		}
		return 0, l.errf(offset, "operand stack underflow")
	}
	got := l.valStack[len(l.valStack)-1]
	l.valStack = l.valStack[:len(l.valStack)-1]
	if want != got && !frame.unreachable {
		return 0, l.errf(offset, "type mismatch: want %s got %s", want, got)
	}
	return got, nil
}

func (l *lowerer) popAny(offset int) (api.ValueType, error) {
	frame := &l.ctrl[len(l.ctrl)-1]
	if len(l.valStack) == frame.stackBase {
		if frame.unreachable {
			return api.ValueTypeI32, nil
		}
		return 0, l.errf(offset, "operand stack underflow")
	}
	got := l.valStack[len(l.valStack)-1]
	l.valStack = l.valStack[:len(l.valStack)-1]
	return got, nil
}

func classType(c NumericClass) api.ValueType {
	switch c {
	case ClassI32:
		return api.ValueTypeI32
	case ClassI64:
		return api.ValueTypeI64
	case ClassF32:
		return api.ValueTypeF32
	default:
		return api.ValueTypeF64
	}
}

func (l *lowerer) setUnreachable() {
	l.ctrl[len(l.ctrl)-1].unreachable = true
	l.valStack = l.valStack[:l.ctrl[len(l.ctrl)-1].stackBase]
}

func (l *lowerer) decodeBlockType(r *bytes.Reader, offset int) (*api.FuncType, error) {
	v, _, err := leb128.DecodeInt64(r)
	if err != nil {
		return nil, l.errf(offset, "bad blocktype: %v", err)
	}
	switch v {
	case -0x40:
		return &api.FuncType{}, nil
	case -0x01:
		return &api.FuncType{Results: []api.ValueType{api.ValueTypeI32}}, nil
	case -0x02:
		return &api.FuncType{Results: []api.ValueType{api.ValueTypeI64}}, nil
	case -0x03:
		return &api.FuncType{Results: []api.ValueType{api.ValueTypeF32}}, nil
	case -0x04:
		return &api.FuncType{Results: []api.ValueType{api.ValueTypeF64}}, nil
	}
	if v < 0 {
		return nil, l.errf(offset, "invalid blocktype %d", v)
	}
	ft, err := l.module.TypeByIndex(uint32(v))
	if err != nil {
		return nil, l.errf(offset, "%v", err)
	}
	return ft, nil
}

func (l *lowerer) step(op byte, r *bytes.Reader, offset int) error {
	switch op {
	case rawUnreachable:
		l.emit(Operation{Kind: OperationKindUnreachable})
		l.setUnreachable()
		return nil
	case rawNop:
		return nil

	case rawBlock, rawLoop, rawIf:
		bt, err := l.decodeBlockType(r, offset)
		if err != nil {
			return err
		}
		for i := len(bt.Params) - 1; i >= 0; i-- {
			if _, err := l.pop(offset, bt.Params[i]); err != nil {
				return err
			}
		}
		labelPos := -1
		if op == rawLoop {
			labelPos = l.emit(Operation{Kind: OperationKindLabel})
		}
		var elseSkip = -1
		if op == rawIf {
			if _, err := l.pop(offset, api.ValueTypeI32); err != nil {
				return err
			}
			elseSkip = l.emit(Operation{Kind: OperationKindBrIf, BranchTarget: -1})
		}
		l.ctrl = append(l.ctrl, controlFrame{
			isLoop: op == rawLoop, blockType: bt, stackBase: len(l.valStack),
			labelPos: labelPos, elsePatch: elseSkip,
		})
		for _, p := range bt.Params {
			l.push(p)
		}
		return nil

	case rawElse:
		frame := &l.ctrl[len(l.ctrl)-1]
		for i := len(frame.blockType.Results) - 1; i >= 0; i-- {
			if _, err := l.pop(offset, frame.blockType.Results[i]); err != nil {
				return err
			}
		}
		endJump := l.emit(Operation{Kind: OperationKindBr, BranchTarget: -1})
		frame.endPatches = append(frame.endPatches, endJump)
		if frame.elsePatch >= 0 {
			l.ops[frame.elsePatch].BranchTarget = len(l.ops)
			frame.elsePatch = -1
		}
		frame.unreachable = false
		l.valStack = l.valStack[:frame.stackBase]
		for _, p := range frame.blockType.Params {
			l.push(p)
		}
		return nil

	case rawEnd:
		frame := l.ctrl[len(l.ctrl)-1]
		for i := len(frame.blockType.Results) - 1; i >= 0; i-- {
			if _, err := l.pop(offset, frame.blockType.Results[i]); err != nil {
				return err
			}
		}
		l.ctrl = l.ctrl[:len(l.ctrl)-1]
		labelIdx := l.emit(Operation{Kind: OperationKindLabel})
		if frame.elsePatch >= 0 {
			l.ops[frame.elsePatch].BranchTarget = labelIdx
		}
		for _, idx := range frame.endPatches {
			l.ops[idx].BranchTarget = labelIdx
		}
		for _, p := range frame.tablePatches {
			l.ops[p.opIdx].BranchTargets[p.slot] = labelIdx
		}
		for _, r := range frame.blockType.Results {
			l.push(r)
		}
		return nil

	case rawBr:
		depth, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		frameIdx, results, err := l.resolveDepth(offset, depth)
		if err != nil {
			return err
		}
		for i := len(results) - 1; i >= 0; i-- {
			if _, err := l.pop(offset, results[i]); err != nil {
				return err
			}
		}
		idx := l.emit(Operation{Kind: OperationKindBr, BranchTarget: -1})
		l.resolveBranch(frameIdx, idx)
		l.setUnreachable()
		return nil

	case rawBrIf:
		depth, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		if _, err := l.pop(offset, api.ValueTypeI32); err != nil {
			return err
		}
		frameIdx, _, err := l.resolveDepth(offset, depth)
		if err != nil {
			return err
		}
		idx := l.emit(Operation{Kind: OperationKindBrIf, BranchTarget: -1})
		l.resolveBranch(frameIdx, idx)
		return nil

	case rawBrTable:
		count, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		frameIdxs := make([]int, 0, count+1)
		for i := uint32(0); i < count; i++ {
			depth, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return err
			}
			f, _, err := l.resolveDepth(offset, depth)
			if err != nil {
				return err
			}
			frameIdxs = append(frameIdxs, f)
		}
		defDepth, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		defFrame, results, err := l.resolveDepth(offset, defDepth)
		if err != nil {
			return err
		}
		frameIdxs = append(frameIdxs, defFrame)
		if _, err := l.pop(offset, api.ValueTypeI32); err != nil {
			return err
		}
		for i := len(results) - 1; i >= 0; i-- {
			if _, err := l.pop(offset, results[i]); err != nil {
				return err
			}
		}
		targets := make([]int, len(frameIdxs))
		idx := l.emit(Operation{Kind: OperationKindBrTable, BranchTargets: targets})
		for i, f := range frameIdxs {
			l.resolveBranchTableSlot(f, idx, i)
		}
		l.setUnreachable()
		return nil

	case rawReturn:
		for i := len(l.sig.Results) - 1; i >= 0; i-- {
			if _, err := l.pop(offset, l.sig.Results[i]); err != nil {
				return err
			}
		}
		l.emit(Operation{Kind: OperationKindReturn, Arity: len(l.sig.Results)})
		l.setUnreachable()
		return nil

	case rawCall:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		ft, err := l.module.FunctionTypeByIndex(idx)
		if err != nil {
			return l.errf(offset, "%v", err)
		}
		for i := len(ft.Params) - 1; i >= 0; i-- {
			if _, err := l.pop(offset, ft.Params[i]); err != nil {
				return err
			}
		}
		l.emit(Operation{Kind: OperationKindCall, Index: idx, Arity: len(ft.Results), Mem: MemArg{Alignment: uint32(len(ft.Params))}})
		for _, rt := range ft.Results {
			l.push(rt)
		}
		return nil

	case rawCallIndirect:
		typeIdx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		if _, _, err := leb128.DecodeUint32(r); err != nil { // table index, always 0 in the MVP subset we lower
			return err
		}
		ft, err := l.module.TypeByIndex(typeIdx)
		if err != nil {
			return l.errf(offset, "%v", err)
		}
		if _, err := l.pop(offset, api.ValueTypeI32); err != nil {
			return err
		}
		for i := len(ft.Params) - 1; i >= 0; i-- {
			if _, err := l.pop(offset, ft.Params[i]); err != nil {
				return err
			}
		}
		l.emit(Operation{Kind: OperationKindCallIndirect, Index: typeIdx, Arity: len(ft.Results), Mem: MemArg{Alignment: uint32(len(ft.Params))}})
		for _, rt := range ft.Results {
			l.push(rt)
		}
		return nil

	case rawDrop:
		if _, err := l.popAny(offset); err != nil {
			return err
		}
		l.emit(Operation{Kind: OperationKindDrop})
		return nil

	case rawSelect, rawSelectT:
		if op == rawSelectT {
			n, _, _ := leb128.DecodeUint32(r)
			for i := uint32(0); i < n; i++ {
				r.ReadByte()
			}
		}
		if _, err := l.pop(offset, api.ValueTypeI32); err != nil {
			return err
		}
		v2, err := l.popAny(offset)
		if err != nil {
			return err
		}
		if _, err := l.pop(offset, v2); err != nil {
			return err
		}
		l.emit(Operation{Kind: OperationKindSelect})
		l.push(v2)
		return nil

	case rawLocalGet:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		if int(idx) >= len(l.locals) {
			return l.errf(offset, "local index %d out of range", idx)
		}
		l.emit(Operation{Kind: OperationKindLocalGet, Index: idx})
		l.push(l.locals[idx])
		return nil

	case rawLocalSet, rawLocalTee:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		if int(idx) >= len(l.locals) {
			return l.errf(offset, "local index %d out of range", idx)
		}
		if _, err := l.pop(offset, l.locals[idx]); err != nil {
			return err
		}
		kind := OperationKindLocalSet
		if op == rawLocalTee {
			kind = OperationKindLocalTee
		}
		l.emit(Operation{Kind: kind, Index: idx})
		if op == rawLocalTee {
			l.push(l.locals[idx])
		}
		return nil

	case rawGlobalGet:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		vt, _, err := l.module.GlobalTypeByIndex(idx)
		if err != nil {
			return l.errf(offset, "%v", err)
		}
		l.emit(Operation{Kind: OperationKindGlobalGet, Index: idx})
		l.push(vt)
		return nil

	case rawGlobalSet:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		vt, mutable, err := l.module.GlobalTypeByIndex(idx)
		if err != nil {
			return l.errf(offset, "%v", err)
		}
		if !mutable {
			return l.errf(offset, "global.set on immutable global %d", idx)
		}
		if _, err := l.pop(offset, vt); err != nil {
			return err
		}
		l.emit(Operation{Kind: OperationKindGlobalSet, Index: idx})
		return nil

	case rawI32Const:
		v, _, err := leb128.DecodeInt32(r)
		if err != nil {
			return err
		}
		l.emit(Operation{Kind: OperationKindConstI32, ImmI32: v})
		l.push(api.ValueTypeI32)
		return nil
	case rawI64Const:
		v, _, err := leb128.DecodeInt64(r)
		if err != nil {
			return err
		}
		l.emit(Operation{Kind: OperationKindConstI64, ImmI64: v})
		l.push(api.ValueTypeI64)
		return nil
	case rawF32Const:
		var buf [4]byte
		if _, err := r.Read(buf[:]); err != nil {
			return err
		}
		bits := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
		l.emit(Operation{Kind: OperationKindConstF32, ImmF32: math.Float32frombits(bits)})
		l.push(api.ValueTypeF32)
		return nil
	case rawF64Const:
		var buf [8]byte
		if _, err := r.Read(buf[:]); err != nil {
			return err
		}
		var bits uint64
		for i := 0; i < 8; i++ {
			bits |= uint64(buf[i]) << (8 * i)
		}
		l.emit(Operation{Kind: OperationKindConstF64, ImmF64: math.Float64frombits(bits)})
		l.push(api.ValueTypeF64)
		return nil

	case rawMemorySize:
		r.ReadByte()
		if !l.module.HasMemory() {
			return l.errf(offset, "memory.size without a memory")
		}
		l.emit(Operation{Kind: OperationKindMemorySize})
		l.push(api.ValueTypeI32)
		return nil
	case rawMemoryGrow:
		r.ReadByte()
		if !l.module.HasMemory() {
			return l.errf(offset, "memory.grow without a memory")
		}
		if _, err := l.pop(offset, api.ValueTypeI32); err != nil {
			return err
		}
		l.emit(Operation{Kind: OperationKindMemoryGrow})
		l.push(api.ValueTypeI32)
		return nil

	case rawTableGet:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		if !l.features.IsEnabled(api.CoreFeatureReferenceTypes) {
			return &FeatureDisabledError{Feature: "reference-types"}
		}
		if _, err := l.pop(offset, api.ValueTypeI32); err != nil {
			return err
		}
		l.emit(Operation{Kind: OperationKindTableGet, Index: idx})
		l.push(api.ValueTypeFuncref)
		return nil

	case rawTableSet:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		if !l.features.IsEnabled(api.CoreFeatureReferenceTypes) {
			return &FeatureDisabledError{Feature: "reference-types"}
		}
		if _, err := l.pop(offset, api.ValueTypeFuncref); err != nil {
			return err
		}
		if _, err := l.pop(offset, api.ValueTypeI32); err != nil {
			return err
		}
		l.emit(Operation{Kind: OperationKindTableSet, Index: idx})
		return nil

	case rawMisc:
		return l.stepMisc(r, offset)

	default:
		if info, ok := loadOpInfo[op]; ok {
			return l.lowerLoad(r, offset, op, info)
		}
		if info, ok := storeOpInfo[op]; ok {
			return l.lowerStore(r, offset, op, info)
		}
		if cls, ok := unaryEqz[op]; ok {
			if _, err := l.pop(offset, classType(cls)); err != nil {
				return err
			}
			l.emit(Operation{Kind: OperationKindEqz, Class: cls})
			l.push(api.ValueTypeI32)
			return nil
		}
		if info, ok := floatUnaryOpInfo[op]; ok {
			return l.lowerArith(offset, info)
		}
		if info, ok := binOpInfo[op]; ok {
			return l.lowerArith(offset, info)
		}
		if info, ok := convertOpInfo[op]; ok {
			return l.lowerConvert(offset, info)
		}
		return l.errf(offset, "unsupported opcode %#x", op)
	}
}

// lowerConvert validates and emits one numeric-conversion instruction: pop
// the source type, emit OperationKindConvert tagged with which conversion,
// push the result type.
func (l *lowerer) lowerConvert(offset int, info convertInfo) error {
	if _, err := l.pop(offset, info.from); err != nil {
		return err
	}
	l.emit(Operation{Kind: OperationKindConvert, Convert: info.op})
	l.push(info.to)
	return nil
}

// stepMisc lowers one 0xFC-prefixed instruction: the non-trapping
// (saturating) float-to-int conversions are baseline MVP-adjacent and
// always available; the bulk-memory and table sub-opcodes are a real but
// partial implementation of the bulk-memory proposal (memory.copy and
// memory.fill only) gated behind CoreFeatureBulkMemory.
func (l *lowerer) stepMisc(r *bytes.Reader, offset int) error {
	sub, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return err
	}
	if info, ok := truncSatInfo[sub]; ok {
		return l.lowerConvert(offset, info)
	}
	switch sub {
	case miscMemoryCopy:
		if _, _, err := leb128.DecodeUint32(r); err != nil { // dst memory index, always 0
			return err
		}
		if _, _, err := leb128.DecodeUint32(r); err != nil { // src memory index, always 0
			return err
		}
		if !l.features.IsEnabled(api.CoreFeatureBulkMemory) {
			return &FeatureDisabledError{Feature: "bulk-memory"}
		}
		if !l.module.HasMemory() {
			return l.errf(offset, "memory.copy without a memory")
		}
		if _, err := l.pop(offset, api.ValueTypeI32); err != nil {
			return err
		}
		if _, err := l.pop(offset, api.ValueTypeI32); err != nil {
			return err
		}
		if _, err := l.pop(offset, api.ValueTypeI32); err != nil {
			return err
		}
		l.emit(Operation{Kind: OperationKindMemoryCopy})
		return nil

	case miscMemoryFill:
		if _, _, err := leb128.DecodeUint32(r); err != nil { // memory index, always 0
			return err
		}
		if !l.features.IsEnabled(api.CoreFeatureBulkMemory) {
			return &FeatureDisabledError{Feature: "bulk-memory"}
		}
		if !l.module.HasMemory() {
			return l.errf(offset, "memory.fill without a memory")
		}
		if _, err := l.pop(offset, api.ValueTypeI32); err != nil {
			return err
		}
		if _, err := l.pop(offset, api.ValueTypeI32); err != nil {
			return err
		}
		if _, err := l.pop(offset, api.ValueTypeI32); err != nil {
			return err
		}
		l.emit(Operation{Kind: OperationKindMemoryFill})
		return nil

	case miscMemoryInit, miscDataDrop:
		return &FeatureDisabledError{Feature: "bulk-memory"}
	case miscTableInit, miscElemDrop, miscTableCopy, miscTableGrow, miscTableSize, miscTableFill:
		return &FeatureDisabledError{Feature: "bulk-memory"}
	default:
		return l.errf(offset, "unsupported 0xfc sub-opcode %d", sub)
	}
}

func (l *lowerer) lowerLoad(r *bytes.Reader, offset int, op byte, info accessWidth) error {
	align, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return err
	}
	off, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return err
	}
	if !l.module.HasMemory() {
		return l.errf(offset, "memory access without a memory")
	}
	if _, err := l.pop(offset, api.ValueTypeI32); err != nil {
		return err
	}
	l.emit(Operation{Kind: OperationKindLoad, Class: info.class, Signedness: boolSign(info.signed),
		Mem: MemArg{Alignment: align, Offset: off}, Index: info.bytes})
	l.push(classType(info.class))
	return nil
}

func (l *lowerer) lowerStore(r *bytes.Reader, offset int, op byte, info accessWidth) error {
	align, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return err
	}
	off, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return err
	}
	if !l.module.HasMemory() {
		return l.errf(offset, "memory access without a memory")
	}
	if _, err := l.pop(offset, classType(info.class)); err != nil {
		return err
	}
	if _, err := l.pop(offset, api.ValueTypeI32); err != nil {
		return err
	}
	l.emit(Operation{Kind: OperationKindStore, Class: info.class,
		Mem: MemArg{Alignment: align, Offset: off}, Index: info.bytes})
	return nil
}

func (l *lowerer) lowerArith(offset int, info arithInfo) error {
	t := classType(info.class)
	isCompare := info.kind == OperationKindEq || info.kind == OperationKindNe || info.kind == OperationKindLt ||
		info.kind == OperationKindGt || info.kind == OperationKindLe || info.kind == OperationKindGe
	isUnary := info.kind == OperationKindClz || info.kind == OperationKindCtz || info.kind == OperationKindPopcnt ||
		info.kind == OperationKindAbs || info.kind == OperationKindNeg || info.kind == OperationKindCeil ||
		info.kind == OperationKindFloor || info.kind == OperationKindTrunc || info.kind == OperationKindNearest ||
		info.kind == OperationKindSqrt
	if isUnary {
		if _, err := l.pop(offset, t); err != nil {
			return err
		}
		l.emit(Operation{Kind: info.kind, Class: info.class})
		l.push(t)
		return nil
	}
	if _, err := l.pop(offset, t); err != nil {
		return err
	}
	if _, err := l.pop(offset, t); err != nil {
		return err
	}
	l.emit(Operation{Kind: info.kind, Class: info.class, Signedness: info.signedness})
	if isCompare {
		l.push(api.ValueTypeI32)
	} else {
		l.push(t)
	}
	return nil
}

func boolSign(signed bool) Signedness {
	if signed {
		return SignedOrNA
	}
	return Unsigned
}

// resolveDepth maps a relative label depth to an absolute index into
// l.ctrl, along with the value types a branch to that label carries (a
// loop's params, since branching there re-enters the loop; a block/if's
// results, since branching there exits it).
func (l *lowerer) resolveDepth(offset int, depth uint32) (int, []api.ValueType, error) {
	if int(depth) >= len(l.ctrl) {
		return 0, nil, l.errf(offset, "branch depth %d exceeds control stack", depth)
	}
	idx := len(l.ctrl) - 1 - int(depth)
	frame := &l.ctrl[idx]
	if frame.isLoop {
		return idx, frame.blockType.Params, nil
	}
	return idx, frame.blockType.Results, nil
}

// resolveBranch fixes up a just-emitted Br/BrIf operation's BranchTarget.
// A loop's head is already emitted, so the target is known immediately;
// a block/if's exit point is only known once its matching `end` is
// reached, so the fixup is deferred via controlFrame.endPatches.
func (l *lowerer) resolveBranch(frameIdx, opIdx int) {
	frame := &l.ctrl[frameIdx]
	if frame.isLoop {
		l.ops[opIdx].BranchTarget = frame.labelPos
		return
	}
	frame.endPatches = append(frame.endPatches, opIdx)
}

// resolveBranchTableSlot is the br_table analogue of resolveBranch,
// fixing up a single BranchTargets[slot] entry.
func (l *lowerer) resolveBranchTableSlot(frameIdx, opIdx, slot int) {
	frame := &l.ctrl[frameIdx]
	if frame.isLoop {
		l.ops[opIdx].BranchTargets[slot] = frame.labelPos
		return
	}
	frame.tablePatches = append(frame.tablePatches, brTablePatch{opIdx: opIdx, slot: slot})
}
