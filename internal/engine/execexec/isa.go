// Package execexec is the single fixed dispatch loop every compiler tier
// ultimately hands its output to. Grounded on the observation that the
// teacher's own internal/engine/interpreter package already implements
// exactly this shape (one walk over wazeroir operations producing a
// position-independent op stream, executed by a flat switch): singlepass
// emits wazeroir.Operation nearly verbatim, miditier and heavytier run
// optimization passes over the same Operation slice before handing it
// here. No tier emits literal x86-64/aarch64 machine code — see DESIGN.md
// for why that was out of scope for this module.
package execexec

import (
	"encoding/binary"
	"fmt"

	"github.com/wasmcore-go/wasmcore/internal/wazeroir"
)

// Encode serializes an Operation stream to a flat byte form suitable for
// mmap'd, freeze-protected artifact storage (see internal/artifact). The
// encoding is fixed-width per field so Decode never needs to backtrack.
func Encode(ops []wazeroir.Operation) []byte {
	buf := make([]byte, 0, len(ops)*48)
	var scratch [8]byte
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(scratch[:4], v)
		buf = append(buf, scratch[:4]...)
	}
	putI64 := func(v int64) {
		binary.LittleEndian.PutUint64(scratch[:8], uint64(v))
		buf = append(buf, scratch[:8]...)
	}

	putU32(uint32(len(ops)))
	for _, op := range ops {
		buf = append(buf, byte(op.Kind), byte(op.Class), byte(op.Signedness))
		putI64(int64(op.BranchTarget))
		putU32(uint32(len(op.BranchTargets)))
		for _, t := range op.BranchTargets {
			putI64(int64(t))
		}
		putU32(op.Index)
		putI64(int64(op.ImmI32))
		putI64(op.ImmI64)
		putI64(int64(float32ToBits(op.ImmF32)))
		putI64(int64(float64ToBits(op.ImmF64)))
		putU32(op.Mem.Alignment)
		putU32(op.Mem.Offset)
		putI64(int64(op.Arity))
		putI64(int64(op.SourceOffset))
	}
	return buf
}

// Decode is Encode's inverse. It returns an error rather than panicking so
// a corrupted or foreign-tier artifact is rejected cleanly at link time.
func Decode(b []byte) ([]wazeroir.Operation, error) {
	r := &byteCursor{buf: b}
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	ops := make([]wazeroir.Operation, count)
	for i := range ops {
		kind, err := r.u8()
		if err != nil {
			return nil, err
		}
		class, err := r.u8()
		if err != nil {
			return nil, err
		}
		sign, err := r.u8()
		if err != nil {
			return nil, err
		}
		branch, err := r.i64()
		if err != nil {
			return nil, err
		}
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		targets := make([]int, n)
		for j := range targets {
			v, err := r.i64()
			if err != nil {
				return nil, err
			}
			targets[j] = int(v)
		}
		index, err := r.u32()
		if err != nil {
			return nil, err
		}
		immI32, err := r.i64()
		if err != nil {
			return nil, err
		}
		immI64, err := r.i64()
		if err != nil {
			return nil, err
		}
		immF32bits, err := r.i64()
		if err != nil {
			return nil, err
		}
		immF64bits, err := r.i64()
		if err != nil {
			return nil, err
		}
		align, err := r.u32()
		if err != nil {
			return nil, err
		}
		memOff, err := r.u32()
		if err != nil {
			return nil, err
		}
		arity, err := r.i64()
		if err != nil {
			return nil, err
		}
		srcOff, err := r.i64()
		if err != nil {
			return nil, err
		}
		ops[i] = wazeroir.Operation{
			Kind:          wazeroir.OperationKind(kind),
			Class:         wazeroir.NumericClass(class),
			Signedness:    wazeroir.Signedness(sign),
			BranchTarget:  int(branch),
			BranchTargets: targets,
			Index:         index,
			ImmI32:        int32(immI32),
			ImmI64:        immI64,
			ImmF32:        float32FromBits(uint32(immF32bits)),
			ImmF64:        float64FromBits(uint64(immF64bits)),
			Mem:           wazeroir.MemArg{Alignment: align, Offset: memOff},
			Arity:         int(arity),
			SourceOffset:  int(srcOff),
		}
	}
	return ops, nil
}

type byteCursor struct {
	buf []byte
	pos int
}

func (c *byteCursor) need(n int) error {
	if c.pos+n > len(c.buf) {
		return fmt.Errorf("execexec: truncated operation stream")
	}
	return nil
}

func (c *byteCursor) u8() (byte, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *byteCursor) u32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *byteCursor) i64() (int64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(c.buf[c.pos:])
	c.pos += 8
	return int64(v), nil
}
