package wazeroir

import (
	"errors"
	"testing"

	"github.com/wasmcore-go/wasmcore/api"
	"github.com/wasmcore-go/wasmcore/internal/testing/require"
)

// fakeModule satisfies moduleView for tests that don't need a real
// *wasm.Module: no globals, no memory, no table, and a single function
// type reused for every function index asked about.
type fakeModule struct {
	types []*api.FuncType
}

func (f *fakeModule) TypeByIndex(i uint32) (*api.FuncType, error) { return f.types[i], nil }
func (f *fakeModule) FunctionTypeByIndex(uint32) (*api.FuncType, error) {
	return f.types[0], nil
}
func (f *fakeModule) GlobalTypeByIndex(uint32) (api.ValueType, bool, error) {
	return 0, false, nil
}
func (f *fakeModule) HasMemory() bool { return true }
func (f *fakeModule) HasTable() bool  { return true }

func TestLower_Add(t *testing.T) {
	sig := &api.FuncType{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}
	m := &fakeModule{types: []*api.FuncType{sig}}

	body := []byte{0x20, 0x00, 0x20, 0x01, 0x6A, 0x0B} // local.get 0; local.get 1; i32.add; end
	cf, err := Lower(m, 0, sig, nil, body, api.CoreFeaturesV2)
	require.NoError(t, err)
	require.Equal(t, 2, cf.NumLocals)
	require.True(t, len(cf.Operations) > 0)
}

func TestLower_RejectsStackUnderflow(t *testing.T) {
	sig := &api.FuncType{Results: []api.ValueType{api.ValueTypeI32}}
	m := &fakeModule{types: []*api.FuncType{sig}}

	// i32.add with nothing pushed: must fail validation before any
	// back-end ever sees the operation stream.
	body := []byte{0x6A, 0x0B}
	_, err := Lower(m, 0, sig, nil, body, api.CoreFeaturesV2)
	require.Error(t, err)
}

func TestLower_RejectsResultTypeMismatch(t *testing.T) {
	// Declares an i32 result but the body leaves an i64 on the stack.
	sig := &api.FuncType{Results: []api.ValueType{api.ValueTypeI32}}
	m := &fakeModule{types: []*api.FuncType{sig}}

	body := []byte{0x42, 0x00, 0x0B} // i64.const 0; end
	_, err := Lower(m, 0, sig, nil, body, api.CoreFeaturesV2)
	require.Error(t, err)
}

func TestLower_WrapI64(t *testing.T) {
	sig := &api.FuncType{Params: []api.ValueType{api.ValueTypeI64}, Results: []api.ValueType{api.ValueTypeI32}}
	m := &fakeModule{types: []*api.FuncType{sig}}

	body := []byte{0x20, 0x00, 0xA7, 0x0B} // local.get 0; i32.wrap_i64; end
	cf, err := Lower(m, 0, sig, nil, body, api.CoreFeaturesV2)
	require.NoError(t, err)
	require.True(t, len(cf.Operations) > 0)
}

func TestLower_TableGetRequiresReferenceTypes(t *testing.T) {
	sig := &api.FuncType{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeFuncref}}
	m := &fakeModule{types: []*api.FuncType{sig}}

	body := []byte{0x20, 0x00, 0x25, 0x00, 0x0B} // local.get 0; table.get 0; end

	_, err := Lower(m, 0, sig, nil, body, 0)
	var fde *FeatureDisabledError
	require.True(t, errors.As(err, &fde))

	_, err = Lower(m, 0, sig, nil, body, api.CoreFeatureReferenceTypes)
	require.NoError(t, err)
}

// TestLower_TableGrowAlwaysDisabled locks in the partial bulk-memory
// implementation: table.grow reports FeatureDisabled even when the bit
// is enabled, since only memory.copy/memory.fill/table.get/table.set are
// actually wired for this proposal family.
func TestLower_TableGrowAlwaysDisabled(t *testing.T) {
	sig := &api.FuncType{}
	m := &fakeModule{types: []*api.FuncType{sig}}

	body := []byte{0xFC, 0x0F, 0x0B} // misc prefix; sub-opcode 15 (table.grow); end
	_, err := Lower(m, 0, sig, nil, body, api.CoreFeatureBulkMemory)
	var fde *FeatureDisabledError
	require.True(t, errors.As(err, &fde))
}
