// Package vm instantiates a linked artifact.Artifact: allocating memories,
// tables and globals, applying active element/data segments, running the
// start function, and exposing exports as callable api.Function values. An
// Instance is also the execexec.Host every one of its own functions
// executes against. Grounded on the teacher's internal/wasm Module
// instantiation path (validate imports, allocate memories and tables,
// initialize globals, decode function bodies, apply segments, run start;
// exports are resolved when looked up) and its
// Store/ModuleInstance split, collapsed here into one Instance since this
// module has no multi-module Store concept to share across.
package vm

import (
	"context"
	"fmt"

	"github.com/wasmcore-go/wasmcore/api"
	"github.com/wasmcore-go/wasmcore/internal/artifact"
	"github.com/wasmcore-go/wasmcore/internal/corelog"
	"github.com/wasmcore-go/wasmcore/internal/engine"
	"github.com/wasmcore-go/wasmcore/internal/engine/execexec"
	"github.com/wasmcore-go/wasmcore/internal/identity"
	"github.com/wasmcore-go/wasmcore/internal/vm/layout"
	"github.com/wasmcore-go/wasmcore/internal/wasm"
	"github.com/wasmcore-go/wasmcore/internal/wasmdebug"
	"github.com/wasmcore-go/wasmcore/internal/wazeroir"
)

// compiledFunc is one locally-defined function, decoded once at
// instantiation time and executed directly by execexec.Run on every call.
type compiledFunc struct {
	ops       []wazeroir.Operation
	numLocals int
	frame     engine.FrameDescriptor
}

// Instance is one instantiated module: its own memories, tables, globals,
// resolved imports, and decoded local function bodies.
type Instance struct {
	id     identity.Token
	name   string
	module *wasm.Module
	lay    layout.Layout

	funcs   []compiledFunc // local functions only, indexed by LocalFunctionSlot
	imports []api.Extern   // parallel to module.Imports

	memories []api.Memory // imported + local, shared index space
	tables   []api.Table
	globals  []*Global // imports re-wrapped so Set always works uniformly

	callStack []wasmdebug.ActiveFrame

	// stackSizeLimit is the artifact's Tunables.StackSizeLimit; zero means
	// unbounded. stackUsed is the running sum of FrameDescriptor.StackSize
	// across the active call chain, checked in invoke before each recursive
	// call so a runaway guest recursion raises TrapCodeStackOverflow instead
	// of exhausting the real Go stack.
	stackSizeLimit uint64
	stackUsed      uint64
}

// ID is this instance's opaque identity, minted by identity.New when the
// Instance is created.
func (i *Instance) ID() identity.Token { return i.id }

// InstantiationError wraps any failure during Instantiate with the module
// name, matching the spec's LinkError/instantiation-failure propagation:
// no partially built Instance is ever returned alongside a non-nil error.
type InstantiationError struct {
	ModuleName string
	Reason     string
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("instantiate %q: %s", e.ModuleName, e.Reason)
}

// Instantiate allocates and initializes a new Instance from a linked
// Artifact, its originating Module, and an already-resolved imports vector
// (one entry per module.Imports, in order — resolving names to Externs is
// the embedder/root package's job, not vm's).
func Instantiate(ctx context.Context, module *wasm.Module, art *artifact.Artifact, imports []api.Extern, name string) (inst *Instance, err error) {
	if len(imports) != len(module.Imports) {
		e := &InstantiationError{ModuleName: name, Reason: fmt.Sprintf("got %d imports, module declares %d", len(imports), len(module.Imports))}
		corelog.InstantiationFailed(name, e)
		return nil, e
	}
	if err := checkImportTypes(module, imports); err != nil {
		e := &InstantiationError{ModuleName: name, Reason: err.Error()}
		corelog.InstantiationFailed(name, e)
		return nil, e
	}

	inst = &Instance{
		id:             identity.New(),
		name:           name,
		module:         module,
		lay:            layout.Compute(module),
		imports:        imports,
		stackSizeLimit: art.StackSizeLimit,
	}

	// Clean up any already-allocated memories if a later instantiation
	// step fails, so a rejected Instance never leaks its reservations.
	// Each failure path returns a nil inst, so the deferred cleanup holds
	// its own reference.
	built := inst
	defer func() {
		if err != nil {
			built.closeMemories()
		}
	}()

	if err = inst.allocateMemoriesAndTables(); err != nil {
		e := &InstantiationError{ModuleName: name, Reason: err.Error()}
		corelog.InstantiationFailed(name, e)
		return nil, e
	}
	if err = inst.initGlobals(); err != nil {
		e := &InstantiationError{ModuleName: name, Reason: err.Error()}
		corelog.InstantiationFailed(name, e)
		return nil, e
	}
	if err = inst.decodeFunctions(art); err != nil {
		e := &InstantiationError{ModuleName: name, Reason: err.Error()}
		corelog.InstantiationFailed(name, e)
		return nil, e
	}
	if err = inst.applySegments(); err != nil {
		e := &InstantiationError{ModuleName: name, Reason: err.Error()}
		corelog.InstantiationFailed(name, e)
		return nil, e
	}

	if module.StartFunc != nil {
		if _, trap := inst.invoke(uint32(*module.StartFunc), nil, -1); trap != nil {
			e := &InstantiationError{ModuleName: name, Reason: trap.Error()}
			corelog.InstantiationFailed(name, e)
			return nil, e
		}
	}

	return inst, nil
}

func checkImportTypes(module *wasm.Module, imports []api.Extern) error {
	for i, imp := range module.Imports {
		ext := imports[i]
		if ext.Type != imp.Kind {
			return fmt.Errorf("import %d (%s.%s): expected kind %s, got %s", i, imp.Module, imp.Name, imp.Kind, ext.Type)
		}
		switch imp.Kind {
		case api.ExternTypeFunc:
			if ext.Func == nil {
				return fmt.Errorf("import %d (%s.%s): nil function", i, imp.Module, imp.Name)
			}
			want, err := module.TypeByIndex(uint32(imp.DescFunc))
			if err != nil {
				return err
			}
			got := ext.Func.Definition()
			if !want.EqualsSignature(got.Params, got.Results) {
				return fmt.Errorf("import %d (%s.%s): signature mismatch: want %s, got %s", i, imp.Module, imp.Name, want, &got)
			}
		case api.ExternTypeMemory:
			if ext.Memory == nil {
				return fmt.Errorf("import %d (%s.%s): nil memory", i, imp.Module, imp.Name)
			}
		case api.ExternTypeTable:
			if ext.Table == nil {
				return fmt.Errorf("import %d (%s.%s): nil table", i, imp.Module, imp.Name)
			}
		case api.ExternTypeGlobal:
			if ext.Global == nil {
				return fmt.Errorf("import %d (%s.%s): nil global", i, imp.Module, imp.Name)
			}
			if ext.Global.Type() != imp.DescGlobal.ValType {
				return fmt.Errorf("import %d (%s.%s): value type mismatch", i, imp.Module, imp.Name)
			}
		}
	}
	return nil
}

func (i *Instance) allocateMemoriesAndTables() error {
	for idx, imp := range i.module.Imports {
		switch imp.Kind {
		case api.ExternTypeMemory:
			i.memories = append(i.memories, i.imports[idx].Memory)
		case api.ExternTypeTable:
			i.tables = append(i.tables, i.imports[idx].Table)
		}
	}
	for _, mt := range i.module.Memories {
		m, err := newMemory(uint32(mt.Min), uint32(mt.Max), mt.HasMax)
		if err != nil {
			return fmt.Errorf("allocating memory: %w", err)
		}
		i.memories = append(i.memories, m)
	}
	for _, tt := range i.module.Tables {
		i.tables = append(i.tables, newTable(uint32(tt.Min), uint32(tt.Max), tt.HasMax))
	}
	return nil
}

func (i *Instance) closeMemories() {
	for _, m := range i.memories {
		if local, ok := m.(*Memory); ok {
			_ = local.close()
		}
	}
}

func (i *Instance) initGlobals() error {
	for idx, imp := range i.module.Imports {
		if imp.Kind != api.ExternTypeGlobal {
			continue
		}
		g := &Global{valType: imp.DescGlobal.ValType, mutable: imp.DescGlobal.Mutable, value: i.imports[idx].Global.Get()}
		i.globals = append(i.globals, g)
	}
	for _, gd := range i.module.Globals {
		v, err := i.evalConstExpr(gd.Init)
		if err != nil {
			return fmt.Errorf("global init: %w", err)
		}
		i.globals = append(i.globals, &Global{valType: gd.Type.ValType, mutable: gd.Type.Mutable, value: v})
	}
	return nil
}

// evalConstExpr evaluates the restricted constant-expression language
// allowed in global initializers and active segment offsets.
func (i *Instance) evalConstExpr(ce wasm.ConstExpr) (uint64, error) {
	switch ce.Opcode {
	case wasm.OpcodeI32Const, wasm.OpcodeI64Const:
		return ce.Value, nil
	case wasm.OpcodeGlobalGet:
		idx := uint32(ce.Value)
		if int(idx) >= len(i.globals) {
			return 0, fmt.Errorf("const expr references global %d before it is defined", idx)
		}
		return i.globals[idx].Get(), nil
	case wasm.OpcodeRefNull:
		return nullRef, nil
	case wasm.OpcodeRefFunc:
		return ce.Value, nil
	default:
		return 0, fmt.Errorf("unsupported const expr opcode %v", ce.Opcode)
	}
}

func (i *Instance) decodeFunctions(art *artifact.Artifact) error {
	i.funcs = make([]compiledFunc, len(art.Functions))
	for idx, fn := range art.Functions {
		ops, err := execexec.Decode(fn.Code)
		if err != nil {
			return fmt.Errorf("decoding function %d: %w", idx, err)
		}
		i.funcs[idx] = compiledFunc{ops: ops, numLocals: fn.Frame.NumLocals, frame: fn.Frame}
	}
	return nil
}

// rawBytes is implemented by every memory this package allocates, giving
// applySegments and the execexec.Host methods direct slice access instead
// of going through the copying Read/Write pair api.Memory exposes to
// embedders.
type rawBytes interface {
	Memory() []byte
}

// elementOffsets/dataOffsets hold the evaluated active-segment offsets,
// computed before any write so an out-of-bounds later segment can never
// leave an earlier one half-applied.
func (i *Instance) applySegments() error {
	elementOffsets := make([]uint64, len(i.module.Elements))
	for idx, seg := range i.module.Elements {
		if seg.Mode != wasm.ElementModeActive {
			continue
		}
		off, err := i.evalConstExpr(seg.Offset)
		if err != nil {
			return err
		}
		tblIdx := int(seg.TableIndex)
		if tblIdx >= len(i.tables) {
			return fmt.Errorf("element segment targets out-of-range table %d", tblIdx)
		}
		if off+uint64(len(seg.Init)) > uint64(i.tables[tblIdx].Size()) {
			return fmt.Errorf("element segment out of bounds (table %d, offset %d, length %d)", tblIdx, off, len(seg.Init))
		}
		elementOffsets[idx] = off
	}

	dataOffsets := make([]uint64, len(i.module.DataSegs))
	for idx, seg := range i.module.DataSegs {
		if seg.Passive {
			continue
		}
		off, err := i.evalConstExpr(seg.Offset)
		if err != nil {
			return err
		}
		memIdx := int(seg.MemoryIndex)
		if memIdx >= len(i.memories) {
			return fmt.Errorf("data segment targets out-of-range memory %d", memIdx)
		}
		size := uint64(i.memories[memIdx].Size()) * wasmPageSize
		if off+uint64(len(seg.Init)) > size {
			return fmt.Errorf("data segment out of bounds (memory %d, offset %d, length %d)", memIdx, off, len(seg.Init))
		}
		dataOffsets[idx] = off
	}

	for idx, seg := range i.module.Elements {
		if seg.Mode != wasm.ElementModeActive {
			continue
		}
		off := elementOffsets[idx]
		for j, fi := range seg.Init {
			val := nullRef
			if fi != wasm.FunctionIndex(^uint32(0)) {
				val = uint64(fi)
			}
			i.tables[seg.TableIndex].Set(uint32(off)+uint32(j), val)
		}
	}
	for idx, seg := range i.module.DataSegs {
		if seg.Passive {
			continue
		}
		off := dataOffsets[idx]
		mem := i.memories[seg.MemoryIndex].(rawBytes).Memory()
		copy(mem[off:], seg.Init)
	}
	return nil
}

// --- execexec.Host ---

func (i *Instance) Memory() []byte {
	if len(i.memories) == 0 {
		return nil
	}
	return i.memories[0].(rawBytes).Memory()
}

func (i *Instance) GrowMemory(deltaPages uint32) (uint32, bool) {
	if len(i.memories) == 0 {
		return 0, false
	}
	return i.memories[0].Grow(deltaPages)
}

func (i *Instance) GlobalGet(idx uint32) uint64 { return i.globals[idx].Get() }
func (i *Instance) GlobalSet(idx uint32, v uint64) {
	i.globals[idx].Set(v)
	if i.lay.GlobalIsImport(idx) {
		// Imported mutable globals are shared cells; push the write back
		// to the exporter so both sides observe the same value.
		if mg, ok := i.imports[idx].Global.(api.MutableGlobal); ok {
			mg.Set(v)
		}
	}
}

func (i *Instance) CallFunction(idx uint32, args []uint64, callerOffset int) ([]uint64, *api.Trap) {
	return i.invoke(idx, args, callerOffset)
}

func (i *Instance) CallIndirect(typeIdx uint32, tableElem uint32, args []uint64, callerOffset int) ([]uint64, *api.Trap) {
	if len(i.tables) == 0 {
		return nil, i.Trap(api.TrapCodeTableAccessOutOfBounds, callerOffset)
	}
	elem, ok := i.tables[0].Get(tableElem)
	if !ok {
		return nil, i.Trap(api.TrapCodeTableAccessOutOfBounds, callerOffset)
	}
	if elem == nullRef {
		return nil, i.Trap(api.TrapCodeIndirectCallToNull, callerOffset)
	}
	funcIdx := uint32(elem)
	wantSig, err := i.module.TypeByIndex(typeIdx)
	if err != nil {
		return nil, i.Trap(api.TrapCodeBadSignature, callerOffset)
	}
	gotSig, err := i.module.TypeOf(wasm.FunctionIndex(funcIdx))
	if err != nil || !gotSig.EqualsSignature(wantSig.Params, wantSig.Results) {
		return nil, i.Trap(api.TrapCodeBadSignature, callerOffset)
	}
	return i.invoke(funcIdx, args, callerOffset)
}

func (i *Instance) TableGet(tableIdx, elemIdx uint32) (uint64, bool) {
	if int(tableIdx) >= len(i.tables) {
		return 0, false
	}
	return i.tables[tableIdx].Get(elemIdx)
}

func (i *Instance) TableSet(tableIdx, elemIdx uint32, v uint64) bool {
	if int(tableIdx) >= len(i.tables) {
		return false
	}
	return i.tables[tableIdx].Set(elemIdx, v)
}

func (i *Instance) MemoryCopy(dst, src, n uint32) bool {
	if len(i.memories) == 0 {
		return false
	}
	mem := i.memories[0].(rawBytes).Memory()
	if uint64(src)+uint64(n) > uint64(len(mem)) || uint64(dst)+uint64(n) > uint64(len(mem)) {
		return false
	}
	copy(mem[dst:dst+n], mem[src:src+n])
	return true
}

func (i *Instance) MemoryFill(dst uint32, val byte, n uint32) bool {
	if len(i.memories) == 0 {
		return false
	}
	mem := i.memories[0].(rawBytes).Memory()
	if uint64(dst)+uint64(n) > uint64(len(mem)) {
		return false
	}
	region := mem[dst : dst+n]
	for j := range region {
		region[j] = val
	}
	return true
}

func (i *Instance) Trap(code api.TrapCode, wasmOffset int) *api.Trap {
	if n := len(i.callStack); n > 0 {
		i.callStack[n-1].PC = wasmOffset
	}
	frames := wasmdebug.Build(i.callStack)
	fn := ""
	if len(frames) > 0 {
		fn = frames[0].FunctionName
		if fn == "" {
			fn = frames[0].Symbol
		}
	}
	corelog.Trapped(i.name, fn, code.String(), len(frames))
	return &api.Trap{Code: code, Frames: frames}
}

// invoke is the one place that actually runs a function body, whether
// reached from a host-initiated export call, a call instruction, or
// call_indirect. callerOffset is the Wasm byte offset of the instruction
// that is calling in (ignored, via the empty callStack check, for the
// outermost call from the host).
func (i *Instance) invoke(idx uint32, args []uint64, callerOffset int) ([]uint64, *api.Trap) {
	if n := len(i.callStack); n > 0 {
		i.callStack[n-1].PC = callerOffset
	}

	if i.lay.FunctionIsImport(idx) {
		f := i.imports[idx].Func
		results, err := f.Call(context.Background(), args...)
		if err != nil {
			return nil, i.Trap(api.TrapCodeUncaughtException, callerOffset)
		}
		return results, nil
	}

	slot := i.lay.LocalFunctionSlot(idx)
	if int(slot) >= len(i.funcs) {
		return nil, i.Trap(api.TrapCodeBadSignature, callerOffset)
	}
	fn := &i.funcs[slot]

	frameCost := uint64(fn.frame.StackSize)
	if i.stackSizeLimit != 0 && i.stackUsed+frameCost > i.stackSizeLimit {
		return nil, i.Trap(api.TrapCodeStackOverflow, callerOffset)
	}
	i.stackUsed += frameCost

	i.callStack = append(i.callStack, wasmdebug.ActiveFrame{
		ModuleName:   i.name,
		FunctionName: i.functionName(idx),
		Descriptor:   &fn.frame,
		PC:           0,
	})
	results, trap := execexec.Run(fn.ops, fn.numLocals, args, i)
	i.callStack = i.callStack[:len(i.callStack)-1]
	i.stackUsed -= frameCost
	return results, trap
}

func (i *Instance) functionName(idx uint32) string {
	if i.module.Names != nil {
		if name, ok := i.module.Names.FunctionNames[wasm.FunctionIndex(idx)]; ok {
			return name
		}
	}
	for _, exp := range i.module.Exports {
		if exp.Kind == api.ExternTypeFunc && exp.Index == idx {
			return exp.Name
		}
	}
	return ""
}

// Close releases every resource this Instance owns. Guest code must never
// be invoked again afterward.
func (i *Instance) Close(ctx context.Context) error {
	i.closeMemories()
	return nil
}

var _ api.Closer = (*Instance)(nil)
