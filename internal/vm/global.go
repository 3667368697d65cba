package vm

import "github.com/wasmcore-go/wasmcore/api"

// Global is one instance's global cell.
type Global struct {
	valType api.ValueType
	mutable bool
	value   uint64
}

// Type implements api.Global.
func (g *Global) Type() api.ValueType { return g.valType }

// Get implements api.Global.
func (g *Global) Get() uint64 { return g.value }

// Set implements api.MutableGlobal. Callers (Instance.GlobalSet,
// host embedders going through the exported api.Global) are responsible
// for only calling this on a global that reports mutable == true; Instance
// enforces that at instantiation/lowering time, not here.
func (g *Global) Set(value uint64) { g.value = value }

var (
	_ api.Global        = (*Global)(nil)
	_ api.MutableGlobal = (*Global)(nil)
)
