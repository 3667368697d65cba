package binary

import (
	"bytes"
	"testing"

	"github.com/wasmcore-go/wasmcore/api"
	"github.com/wasmcore-go/wasmcore/internal/testing/require"
)

func TestDecodeModule_RoundTripsWhatModuleBuilderEncodes(t *testing.T) {
	sig := &api.FuncType{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}
	mem := Limits{Min: 1, HasMax: true, Max: 4}
	src := EncodeModule(ModuleBuilder{
		Types:   []*api.FuncType{sig},
		FuncSig: []uint32{0},
		Code: []CodeEntry{{
			LocalTypes: []api.ValueType{api.ValueTypeI32},
			Body:       []byte{0x20, 0x00, 0x20, 0x01, 0x6A, 0x0B},
		}},
		Exports: map[string]ExportDesc{"add": {Kind: api.ExternTypeFunc, Index: 0}},
		Memory:  &mem,
	})

	module, code, err := DecodeModule(bytes.NewReader(src), api.CoreFeaturesV2)
	require.NoError(t, err)

	require.Equal(t, 1, len(module.Types))
	require.Equal(t, 2, len(module.Types[0].Params))
	require.Equal(t, 1, len(module.Types[0].Results))
	require.Equal(t, 1, len(module.Functions))
	require.Equal(t, 1, len(module.Memories))
	require.Equal(t, uint64(1), module.Memories[0].Min)
	require.True(t, module.Memories[0].HasMax)
	require.Equal(t, uint64(4), module.Memories[0].Max)
	require.Equal(t, 1, len(module.Exports))
	require.Equal(t, "add", module.Exports[0].Name)

	require.Equal(t, 1, len(code))
	require.Equal(t, 1, len(code[0].LocalTypes))
	require.Equal(t, api.ValueTypeI32, code[0].LocalTypes[0])
	require.Equal(t, []byte{0x20, 0x00, 0x20, 0x01, 0x6A, 0x0B}, code[0].Body)
}

func TestDecodeModule_RejectsBadMagic(t *testing.T) {
	_, _, err := DecodeModule(bytes.NewReader([]byte{0, 1, 2, 3}), api.CoreFeaturesV2)
	require.Error(t, err)
}
