package vm

import "github.com/wasmcore-go/wasmcore/api"

// nullRef is the sentinel stored in a table slot (or passed as a
// ref.null value) meaning "no function/extern bound here".
const nullRef = ^uint64(0)

// Table is one instance's table of references. Elements are either a
// function index (funcref) or an opaque host-supplied uint64 (externref);
// execexec reaches tables only through Instance's CallIndirect, TableGet
// and TableSet, so Table itself stays a thin, host-facing api.Table.
type Table struct {
	elems  []uint64
	maxLen uint32
	hasMax bool
}

func newTable(initLen, maxLen uint32, hasMax bool) *Table {
	t := &Table{elems: make([]uint64, initLen), maxLen: maxLen, hasMax: hasMax}
	for i := range t.elems {
		t.elems[i] = nullRef
	}
	return t
}

// Size implements api.Table.
func (t *Table) Size() uint32 { return uint32(len(t.elems)) }

// Grow implements api.Table.
func (t *Table) Grow(delta uint32, init uint64) (uint32, bool) {
	old := uint32(len(t.elems))
	if t.hasMax && old+delta > t.maxLen {
		return old, false
	}
	grown := make([]uint64, old+delta)
	copy(grown, t.elems)
	for i := old; i < old+delta; i++ {
		grown[i] = init
	}
	t.elems = grown
	return old, true
}

// Get implements api.Table.
func (t *Table) Get(index uint32) (uint64, bool) {
	if index >= uint32(len(t.elems)) {
		return 0, false
	}
	return t.elems[index], true
}

// Set implements api.Table.
func (t *Table) Set(index uint32, value uint64) bool {
	if index >= uint32(len(t.elems)) {
		return false
	}
	t.elems[index] = value
	return true
}

var _ api.Table = (*Table)(nil)
