package wasmcore_test

import (
	"context"
	"testing"

	"go.uber.org/goleak"

	"github.com/wasmcore-go/wasmcore/api"
	"github.com/wasmcore-go/wasmcore/internal/testing/require"
	"github.com/wasmcore-go/wasmcore/internal/wasm/binary"

	wasmcore "github.com/wasmcore-go/wasmcore"
)

// TestEngine_CloseLeavesNoGoroutines runs a full compile/instantiate/call/
// close cycle under goleak, the same watchdog the rest of the corpus uses
// around its own test binaries. Grounded on grafana-k6's cmd/tests package,
// which wraps goleak.Find around its own top-level test run.
func TestEngine_CloseLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := binary.EncodeModule(binary.ModuleBuilder{
		Types:   []*api.FuncType{i32i32ToI32},
		FuncSig: []uint32{0},
		Code: []binary.CodeEntry{{
			Body: []byte{0x20, 0x00, 0x20, 0x01, 0x6A, 0x0B},
		}},
		Exports: map[string]binary.ExportDesc{"add": {Kind: api.ExternTypeFunc, Index: 0}},
	})

	ctx := context.Background()
	eng := wasmcore.NewEngine(nil)
	art, err := eng.Compile(ctx, src, nil)
	require.NoError(t, err)

	inst, err := art.Instantiate(ctx, nil)
	require.NoError(t, err)

	fn, ok := inst.ExportedFunction("add")
	require.True(t, ok)
	_, err = fn.Call(ctx, 1, 2)
	require.NoError(t, err)

	require.NoError(t, eng.Close(ctx))
}
