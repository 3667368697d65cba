package vm

import (
	"context"
	"fmt"

	"github.com/wasmcore-go/wasmcore/api"
	"github.com/wasmcore-go/wasmcore/internal/wasm"
)

// exportedFunction adapts one of an Instance's functions (local or
// re-exported import) to the host-facing api.Function interface.
type exportedFunction struct {
	inst  *Instance
	idx   uint32
	sig   *api.FuncType
	trace string // export name, used only for error messages
}

// Definition implements api.Function.
func (f *exportedFunction) Definition() api.FuncType { return *f.sig }

// Call implements api.Function. A trap is reported as a plain error since
// *api.Trap already implements the error interface.
func (f *exportedFunction) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	results, trap := f.inst.invoke(f.idx, params, -1)
	if trap != nil {
		return nil, trap
	}
	return results, nil
}

var _ api.Function = (*exportedFunction)(nil)

// Exports returns every export this Instance declares, keyed by its export
// name, wrapped in the host-facing Extern union.
func (i *Instance) Exports() map[string]api.Extern {
	out := make(map[string]api.Extern, len(i.module.Exports))
	for _, exp := range i.module.Exports {
		ext, err := i.externFor(exp)
		if err != nil {
			// Only reachable for an export with an out-of-range index;
			// neither the decoder nor Link checks export indices. Skip
			// rather than panic so a single bad entry doesn't break the
			// rest of the export table.
			continue
		}
		out[exp.Name] = ext
	}
	return out
}

// ExportedFunction looks up a single function export by name, the common
// case for embedders that only want to call one entry point.
func (i *Instance) ExportedFunction(name string) (api.Function, bool) {
	for _, exp := range i.module.Exports {
		if exp.Kind == api.ExternTypeFunc && exp.Name == name {
			sig, err := i.module.TypeOf(wasm.FunctionIndex(exp.Index))
			if err != nil {
				return nil, false
			}
			return &exportedFunction{inst: i, idx: exp.Index, sig: sig, trace: name}, true
		}
	}
	return nil, false
}

func (i *Instance) externFor(exp wasm.Export) (api.Extern, error) {
	switch exp.Kind {
	case api.ExternTypeFunc:
		sig, err := i.module.TypeOf(wasm.FunctionIndex(exp.Index))
		if err != nil {
			return api.Extern{}, err
		}
		return api.Extern{Type: api.ExternTypeFunc, Func: &exportedFunction{inst: i, idx: exp.Index, sig: sig, trace: exp.Name}}, nil
	case api.ExternTypeMemory:
		if int(exp.Index) >= len(i.memories) {
			return api.Extern{}, fmt.Errorf("export %q: memory index %d out of range", exp.Name, exp.Index)
		}
		return api.Extern{Type: api.ExternTypeMemory, Memory: i.memories[exp.Index]}, nil
	case api.ExternTypeTable:
		if int(exp.Index) >= len(i.tables) {
			return api.Extern{}, fmt.Errorf("export %q: table index %d out of range", exp.Name, exp.Index)
		}
		return api.Extern{Type: api.ExternTypeTable, Table: i.tables[exp.Index]}, nil
	case api.ExternTypeGlobal:
		if int(exp.Index) >= len(i.globals) {
			return api.Extern{}, fmt.Errorf("export %q: global index %d out of range", exp.Name, exp.Index)
		}
		return api.Extern{Type: api.ExternTypeGlobal, Global: i.globals[exp.Index]}, nil
	default:
		return api.Extern{}, fmt.Errorf("export %q: unsupported kind %v", exp.Name, exp.Kind)
	}
}
