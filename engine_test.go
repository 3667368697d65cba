package wasmcore_test

import (
	"context"
	"math"
	"testing"

	"github.com/wasmcore-go/wasmcore/api"
	"github.com/wasmcore-go/wasmcore/internal/engine"
	"github.com/wasmcore-go/wasmcore/internal/testing/require"
	"github.com/wasmcore-go/wasmcore/internal/wasm/binary"

	wasmcore "github.com/wasmcore-go/wasmcore"
)

var i32i32ToI32 = &api.FuncType{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}
var i32ToI32 = &api.FuncType{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}
var noneToNone = &api.FuncType{}
var noneToI32 = &api.FuncType{Results: []api.ValueType{api.ValueTypeI32}}
var i64ToI32 = &api.FuncType{Params: []api.ValueType{api.ValueTypeI64}, Results: []api.ValueType{api.ValueTypeI32}}
var f64ToF64 = &api.FuncType{Params: []api.ValueType{api.ValueTypeF64}, Results: []api.ValueType{api.ValueTypeF64}}

func TestEngine_Add(t *testing.T) {
	src := binary.EncodeModule(binary.ModuleBuilder{
		Types:   []*api.FuncType{i32i32ToI32},
		FuncSig: []uint32{0},
		Code: []binary.CodeEntry{{
			Body: []byte{0x20, 0x00, 0x20, 0x01, 0x6A, 0x0B}, // local.get 0; local.get 1; i32.add; end
		}},
		Exports: map[string]binary.ExportDesc{"add": {Kind: api.ExternTypeFunc, Index: 0}},
	})

	eng := wasmcore.NewEngine(nil)
	ctx := context.Background()
	art, err := eng.Compile(ctx, src, nil)
	require.NoError(t, err)

	inst, err := art.Instantiate(ctx, nil)
	require.NoError(t, err)

	fn, ok := inst.ExportedFunction("add")
	require.True(t, ok)
	results, err := fn.Call(ctx, 7, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(15), results[0])
}

func TestEngine_Unreachable(t *testing.T) {
	src := binary.EncodeModule(binary.ModuleBuilder{
		Types:   []*api.FuncType{noneToNone},
		FuncSig: []uint32{0},
		Code: []binary.CodeEntry{{
			Body: []byte{0x00, 0x0B}, // unreachable; end
		}},
		Exports: map[string]binary.ExportDesc{"f": {Kind: api.ExternTypeFunc, Index: 0}},
	})

	eng := wasmcore.NewEngine(nil)
	ctx := context.Background()
	art, err := eng.Compile(ctx, src, nil)
	require.NoError(t, err)
	inst, err := art.Instantiate(ctx, nil)
	require.NoError(t, err)

	fn, ok := inst.ExportedFunction("f")
	require.True(t, ok)
	_, err = fn.Call(ctx)
	require.Error(t, err)
	trap, ok := api.AsTrap(err)
	require.True(t, ok)
	require.Equal(t, api.TrapCodeUnreachableExecuted, trap.Code)
	require.Equal(t, 1, len(trap.Frames))
	require.Equal(t, uint64(0), trap.Frames[0].WasmOffset)
}

func TestEngine_OutOfBoundsLoad(t *testing.T) {
	mem := binary.Limits{Min: 1}
	src := binary.EncodeModule(binary.ModuleBuilder{
		Types:   []*api.FuncType{i32ToI32},
		FuncSig: []uint32{0},
		Code: []binary.CodeEntry{{
			Body: []byte{0x20, 0x00, 0x28, 0x02, 0x00, 0x0B}, // local.get 0; i32.load align=2 offset=0; end
		}},
		Exports: map[string]binary.ExportDesc{"g": {Kind: api.ExternTypeFunc, Index: 0}},
		Memory:  &mem,
	})

	eng := wasmcore.NewEngine(nil)
	ctx := context.Background()
	art, err := eng.Compile(ctx, src, nil)
	require.NoError(t, err)
	inst, err := art.Instantiate(ctx, nil)
	require.NoError(t, err)

	fn, ok := inst.ExportedFunction("g")
	require.True(t, ok)

	_, err = fn.Call(ctx, 65536)
	require.Error(t, err)
	trap, ok := api.AsTrap(err)
	require.True(t, ok)
	require.Equal(t, api.TrapCodeHeapAccessOutOfBounds, trap.Code)

	results, err := fn.Call(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), results[0])
}

func TestEngine_Grow(t *testing.T) {
	mem := binary.Limits{Min: 1}
	src := binary.EncodeModule(binary.ModuleBuilder{
		Types:   []*api.FuncType{i32ToI32},
		FuncSig: []uint32{0},
		Code: []binary.CodeEntry{{
			Body: []byte{0x20, 0x00, 0x40, 0x00, 0x0B}, // local.get 0; memory.grow; end
		}},
		Exports: map[string]binary.ExportDesc{
			"grow_by": {Kind: api.ExternTypeFunc, Index: 0},
			"memory":  {Kind: api.ExternTypeMemory, Index: 0},
		},
		Memory: &mem,
	})

	eng := wasmcore.NewEngine(nil)
	ctx := context.Background()
	art, err := eng.Compile(ctx, src, nil)
	require.NoError(t, err)
	inst, err := art.Instantiate(ctx, nil)
	require.NoError(t, err)

	fn, ok := inst.ExportedFunction("grow_by")
	require.True(t, ok)

	results, err := fn.Call(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(1), results[0])

	exports := inst.Exports()
	require.Equal(t, uint32(3), exports["memory"].Memory.Size())
}

func TestEngine_IndirectCall(t *testing.T) {
	tbl := binary.Limits{Min: 1, HasMax: true, Max: 1}
	src := binary.EncodeModule(binary.ModuleBuilder{
		Types:   []*api.FuncType{noneToI32, i32ToI32},
		FuncSig: []uint32{0, 1},
		Code: []binary.CodeEntry{
			{Body: []byte{0x41, 42, 0x0B}}, // i32.const 42; end
			{Body: []byte{0x20, 0x00, 0x11, 0x00, 0x00, 0x0B}}, // local.get 0; call_indirect (type 0) table 0; end
		},
		Exports:   map[string]binary.ExportDesc{"call_tbl": {Kind: api.ExternTypeFunc, Index: 1}},
		Table:     &tbl,
		TableInit: []uint32{0},
	})

	eng := wasmcore.NewEngine(nil)
	ctx := context.Background()
	art, err := eng.Compile(ctx, src, nil)
	require.NoError(t, err)
	inst, err := art.Instantiate(ctx, nil)
	require.NoError(t, err)

	fn, ok := inst.ExportedFunction("call_tbl")
	require.True(t, ok)

	results, err := fn.Call(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(42), results[0])

	_, err = fn.Call(ctx, 1)
	require.Error(t, err)
	trap, ok := api.AsTrap(err)
	require.True(t, ok)
	require.Equal(t, api.TrapCodeTableAccessOutOfBounds, trap.Code)
}

func TestEngine_WrapI64(t *testing.T) {
	src := binary.EncodeModule(binary.ModuleBuilder{
		Types:   []*api.FuncType{i64ToI32},
		FuncSig: []uint32{0},
		Code: []binary.CodeEntry{{
			Body: []byte{0x20, 0x00, 0xA7, 0x0B}, // local.get 0; i32.wrap_i64; end
		}},
		Exports: map[string]binary.ExportDesc{"wrap": {Kind: api.ExternTypeFunc, Index: 0}},
	})

	eng := wasmcore.NewEngine(nil)
	ctx := context.Background()
	art, err := eng.Compile(ctx, src, nil)
	require.NoError(t, err)
	inst, err := art.Instantiate(ctx, nil)
	require.NoError(t, err)

	fn, ok := inst.ExportedFunction("wrap")
	require.True(t, ok)
	results, err := fn.Call(ctx, 0x1_0000_0001)
	require.NoError(t, err)
	require.Equal(t, uint64(1), results[0])
}

func TestEngine_F64Sqrt(t *testing.T) {
	src := binary.EncodeModule(binary.ModuleBuilder{
		Types:   []*api.FuncType{f64ToF64},
		FuncSig: []uint32{0},
		Code: []binary.CodeEntry{{
			Body: []byte{0x20, 0x00, 0x9F, 0x0B}, // local.get 0; f64.sqrt; end
		}},
		Exports: map[string]binary.ExportDesc{"sqrt": {Kind: api.ExternTypeFunc, Index: 0}},
	})

	eng := wasmcore.NewEngine(nil)
	ctx := context.Background()
	art, err := eng.Compile(ctx, src, nil)
	require.NoError(t, err)
	inst, err := art.Instantiate(ctx, nil)
	require.NoError(t, err)

	fn, ok := inst.ExportedFunction("sqrt")
	require.True(t, ok)
	results, err := fn.Call(ctx, math.Float64bits(16))
	require.NoError(t, err)
	require.Equal(t, 4.0, math.Float64frombits(results[0]))
}

func TestEngine_LocalsAndGlobals(t *testing.T) {
	// Declares two extra i32 locals beyond its one parameter, accumulates
	// into them, and folds in a mutable global before returning.
	src := binary.EncodeModule(binary.ModuleBuilder{
		Types:   []*api.FuncType{i32ToI32},
		FuncSig: []uint32{0},
		Code: []binary.CodeEntry{{
			LocalTypes: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
			Body: []byte{
				0x20, 0x00, // local.get 0
				0x21, 0x01, // local.set 1
				0x20, 0x01, 0x41, 0x01, 0x6A, 0x21, 0x02, // local.get 1; i32.const 1; i32.add; local.set 2
				0x20, 0x02,
				0x23, 0x00, // global.get 0
				0x6A,       // i32.add
				0x0B,
			},
		}},
		Exports: map[string]binary.ExportDesc{"f": {Kind: api.ExternTypeFunc, Index: 0}},
		Globals: []binary.GlobalDesc{{ValType: api.ValueTypeI32, Mutable: true, Init: 100}},
	})

	eng := wasmcore.NewEngine(nil)
	ctx := context.Background()
	art, err := eng.Compile(ctx, src, nil)
	require.NoError(t, err)
	inst, err := art.Instantiate(ctx, nil)
	require.NoError(t, err)

	fn, ok := inst.ExportedFunction("f")
	require.True(t, ok)
	results, err := fn.Call(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(106), results[0])
}

func TestEngine_HostImport(t *testing.T) {
	double, err := wasmcore.NewHostFunction(func(_ context.Context, x uint32) uint32 { return x * 2 })
	require.NoError(t, err)

	src := binary.EncodeModule(binary.ModuleBuilder{
		Types:   []*api.FuncType{i32ToI32},
		Imports: []binary.ImportDesc{{Module: "env", Name: "double", TypeIndex: 0}},
		FuncSig: []uint32{0},
		Code: []binary.CodeEntry{{
			Body: []byte{0x20, 0x00, 0x10, 0x00, 0x0B}, // local.get 0; call 0 (import); end
		}},
		Exports: map[string]binary.ExportDesc{"call_double": {Kind: api.ExternTypeFunc, Index: 1}},
	})

	eng := wasmcore.NewEngine(nil)
	ctx := context.Background()
	art, err := eng.Compile(ctx, src, nil)
	require.NoError(t, err)
	inst, err := art.Instantiate(ctx, []api.Extern{{Type: api.ExternTypeFunc, Func: double}})
	require.NoError(t, err)

	fn, ok := inst.ExportedFunction("call_double")
	require.True(t, ok)
	results, err := fn.Call(ctx, 21)
	require.NoError(t, err)
	require.Equal(t, uint64(42), results[0])
}

func TestEngine_StackOverflow(t *testing.T) {
	src := binary.EncodeModule(binary.ModuleBuilder{
		Types:   []*api.FuncType{i32ToI32},
		FuncSig: []uint32{0},
		Code: []binary.CodeEntry{{
			// local.get 0; call 0 (self); end — recurses forever
			Body: []byte{0x20, 0x00, 0x10, 0x00, 0x0B},
		}},
		Exports: map[string]binary.ExportDesc{"loop": {Kind: api.ExternTypeFunc, Index: 0}},
	})

	cfg := wasmcore.NewEngineConfig().WithTunables(engine.Tunables{StackSizeLimit: 4096})
	eng := wasmcore.NewEngine(cfg)
	ctx := context.Background()
	art, err := eng.Compile(ctx, src, nil)
	require.NoError(t, err)
	inst, err := art.Instantiate(ctx, nil)
	require.NoError(t, err)

	fn, ok := inst.ExportedFunction("loop")
	require.True(t, ok)
	_, err = fn.Call(ctx, 0)
	require.Error(t, err)
	trap, ok := api.AsTrap(err)
	require.True(t, ok)
	require.Equal(t, api.TrapCodeStackOverflow, trap.Code)
}

func TestEngine_SerializeDeserialize(t *testing.T) {
	src := binary.EncodeModule(binary.ModuleBuilder{
		Types:   []*api.FuncType{i32i32ToI32},
		FuncSig: []uint32{0},
		Code: []binary.CodeEntry{{
			Body: []byte{0x20, 0x00, 0x20, 0x01, 0x6A, 0x0B},
		}},
		Exports: map[string]binary.ExportDesc{"add": {Kind: api.ExternTypeFunc, Index: 0}},
	})

	eng := wasmcore.NewEngine(nil)
	ctx := context.Background()
	art, err := eng.Compile(ctx, src, nil)
	require.NoError(t, err)

	data, err := art.Serialize()
	require.NoError(t, err)

	loaded, err := eng.LoadArtifact(ctx, src, data, nil)
	require.NoError(t, err)

	inst, err := loaded.Instantiate(ctx, nil)
	require.NoError(t, err)

	fn, ok := inst.ExportedFunction("add")
	require.True(t, ok)
	results, err := fn.Call(ctx, 2, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(5), results[0])
}
