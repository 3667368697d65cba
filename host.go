package wasmcore

import (
	"context"
	"fmt"
	"math"
	"reflect"

	"github.com/wasmcore-go/wasmcore/api"
)

// hostFunction adapts a reflect.Value-wrapped Go func to api.Function,
// marshalling the uint64 stack convention every Wasm call uses into and out
// of the Go func's real parameter/result types. Grounded on the teacher's
// WithFunc, narrowed to the numeric parameter/result kinds Wasm itself
// defines (no api.Module access parameter, since this module's host
// functions reach the calling Instance only through values they close
// over, not an injected parameter — see DESIGN.md).
type hostFunction struct {
	fn  reflect.Value
	sig api.FuncType

	hasCtx bool
}

// NewHostFunction wraps a Go func as an api.Function importable by a Wasm
// module. fn's first parameter may optionally be a context.Context; every
// other parameter and result must be one of uint32, int32, uint64, int64,
// float32, or float64.
//
//	add, err := NewHostFunction(func(ctx context.Context, x, y uint32) uint32 {
//		return x + y
//	})
func NewHostFunction(fn interface{}) (api.Function, error) {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("wasmcore: NewHostFunction requires a func, got %s", t.Kind())
	}

	hf := &hostFunction{fn: v}
	numIn := t.NumIn()
	start := 0
	if numIn > 0 && t.In(0) == reflect.TypeOf((*context.Context)(nil)).Elem() {
		hf.hasCtx = true
		start = 1
	}
	for i := start; i < numIn; i++ {
		vt, err := valueTypeOf(t.In(i))
		if err != nil {
			return nil, fmt.Errorf("wasmcore: parameter %d: %w", i, err)
		}
		hf.sig.Params = append(hf.sig.Params, vt)
	}
	for i := 0; i < t.NumOut(); i++ {
		vt, err := valueTypeOf(t.Out(i))
		if err != nil {
			return nil, fmt.Errorf("wasmcore: result %d: %w", i, err)
		}
		hf.sig.Results = append(hf.sig.Results, vt)
	}
	return hf, nil
}

func valueTypeOf(t reflect.Type) (api.ValueType, error) {
	switch t.Kind() {
	case reflect.Uint32, reflect.Int32:
		return api.ValueTypeI32, nil
	case reflect.Uint64, reflect.Int64:
		return api.ValueTypeI64, nil
	case reflect.Float32:
		return api.ValueTypeF32, nil
	case reflect.Float64:
		return api.ValueTypeF64, nil
	default:
		return 0, fmt.Errorf("unsupported Go type %s", t)
	}
}

// Definition implements api.Function.
func (h *hostFunction) Definition() api.FuncType { return h.sig }

// Call implements api.Function.
func (h *hostFunction) Call(ctx context.Context, params ...uint64) (results []uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("wasmcore: host function panicked: %v", r)
		}
	}()

	t := h.fn.Type()
	in := make([]reflect.Value, t.NumIn())
	paramIdx := 0
	if h.hasCtx {
		in[0] = reflect.ValueOf(ctx)
		paramIdx = 1
	}
	for i := paramIdx; i < t.NumIn(); i++ {
		in[i] = decodeStackValue(t.In(i), params[i-paramIdx])
	}

	out := h.fn.Call(in)
	results = make([]uint64, len(out))
	for i, o := range out {
		results[i] = encodeStackValue(o)
	}
	return results, nil
}

func decodeStackValue(t reflect.Type, raw uint64) reflect.Value {
	switch t.Kind() {
	case reflect.Uint32:
		return reflect.ValueOf(uint32(raw)).Convert(t)
	case reflect.Int32:
		return reflect.ValueOf(int32(raw)).Convert(t)
	case reflect.Uint64:
		return reflect.ValueOf(raw).Convert(t)
	case reflect.Int64:
		return reflect.ValueOf(int64(raw)).Convert(t)
	case reflect.Float32:
		return reflect.ValueOf(math.Float32frombits(uint32(raw))).Convert(t)
	case reflect.Float64:
		return reflect.ValueOf(math.Float64frombits(raw)).Convert(t)
	default:
		panic("wasmcore: unreachable: unsupported parameter type " + t.String())
	}
}

func encodeStackValue(v reflect.Value) uint64 {
	switch v.Kind() {
	case reflect.Uint32, reflect.Uint64:
		return v.Uint()
	case reflect.Int32, reflect.Int64:
		return uint64(v.Int())
	case reflect.Float32:
		return uint64(math.Float32bits(float32(v.Float())))
	case reflect.Float64:
		return math.Float64bits(v.Float())
	default:
		panic("wasmcore: unreachable: unsupported result type " + v.Type().String())
	}
}

var _ api.Function = (*hostFunction)(nil)
