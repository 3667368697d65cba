package artifact

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/wasmcore-go/wasmcore/internal/engine"
	"github.com/wasmcore-go/wasmcore/internal/wasm"
)

// encodeFunction serializes one Function (code blob + frame descriptor)
// before compression. The code blob is already an execexec-encoded byte
// stream; this layer only adds enough framing to recover Frame alongside it.
func encodeFunction(fn Function) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(fn.Code)))
	buf.Write(fn.Code)

	writeString(&buf, fn.Frame.Name)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(fn.Frame.FunctionIndex))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(fn.Frame.CodeOffset))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(fn.Frame.CodeLength))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(fn.Frame.NumLocals))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(fn.Frame.StackSize))

	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(fn.Frame.AddressMap)))
	for _, e := range fn.Frame.AddressMap {
		_ = binary.Write(&buf, binary.LittleEndian, uint32(e.CodeOffset))
		_ = binary.Write(&buf, binary.LittleEndian, uint32(e.WasmOffset))
	}

	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(fn.Frame.HotLocalSlots)))
	for _, slot := range fn.Frame.HotLocalSlots {
		_ = binary.Write(&buf, binary.LittleEndian, slot)
	}
	return buf.Bytes()
}

func decodeFunction(block []byte) (Function, error) {
	r := bytes.NewReader(block)

	var codeLen uint32
	if err := binary.Read(r, binary.LittleEndian, &codeLen); err != nil {
		return Function{}, err
	}
	code := make([]byte, codeLen)
	if _, err := io.ReadFull(r, code); err != nil {
		return Function{}, err
	}

	name, err := readString(r)
	if err != nil {
		return Function{}, err
	}
	var funcIdx, codeOffset, codeLength, numLocals, stackSize uint32
	for _, dst := range []*uint32{&funcIdx, &codeOffset, &codeLength, &numLocals, &stackSize} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return Function{}, err
		}
	}

	var addrMapLen uint32
	if err := binary.Read(r, binary.LittleEndian, &addrMapLen); err != nil {
		return Function{}, err
	}
	addrMap := make([]engine.AddressMapEntry, addrMapLen)
	for i := range addrMap {
		var codeOff, wasmOff uint32
		if err := binary.Read(r, binary.LittleEndian, &codeOff); err != nil {
			return Function{}, err
		}
		if err := binary.Read(r, binary.LittleEndian, &wasmOff); err != nil {
			return Function{}, err
		}
		addrMap[i] = engine.AddressMapEntry{CodeOffset: int(codeOff), WasmOffset: int(wasmOff)}
	}

	var hotLen uint32
	if err := binary.Read(r, binary.LittleEndian, &hotLen); err != nil {
		return Function{}, err
	}
	hotSlots := make([]uint32, hotLen)
	for i := range hotSlots {
		if err := binary.Read(r, binary.LittleEndian, &hotSlots[i]); err != nil {
			return Function{}, err
		}
	}

	if r.Len() != 0 {
		return Function{}, fmt.Errorf("trailing %d bytes after decoding function block", r.Len())
	}

	return Function{
		Code: code,
		Frame: engine.FrameDescriptor{
			FunctionIndex: wasm.FunctionIndex(funcIdx),
			Name:          name,
			CodeOffset:    int(codeOffset),
			CodeLength:    int(codeLength),
			NumLocals:     int(numLocals),
			StackSize:     int(stackSize),
			AddressMap:    addrMap,
			HotLocalSlots: hotSlots,
		},
	}, nil
}
