// Package artifact owns the linked, serializable output of compilation:
// Artifact bundles every function's internal-ISA code with the frame info
// wasmdebug needs for backtraces, and Serialize/Deserialize round-trip that
// bundle to and from the bytes a compilationcache.Cache stores. Grounded on
// the teacher's own artifact/module-engine split between "compiled code" and
// "the linked, cacheable unit" — compression follows grafana-k6's use of
// klauspost/compress/zstd for its own payload bodies.
package artifact

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/wasmcore-go/wasmcore/internal/engine"
	"github.com/wasmcore-go/wasmcore/internal/wasm"
)

const (
	magic         uint32 = 0x57434146 // "WCAF"
	formatVersion byte   = 1
)

// ModuleInfo is the subset of a wasm.Module an Artifact needs to remember
// about the module it was linked against, so a later Deserialize can catch
// a cache entry from a module that has since changed.
type ModuleInfo struct {
	ID           wasm.ModuleID
	NumFunctions int
}

// Function is one defined function's linked output.
type Function struct {
	Code  []byte // execexec-encoded operation stream
	Frame engine.FrameDescriptor
}

// Artifact is everything a vm.Instance needs to run a module under one
// Target/Tier, without ever touching the original Wasm bytes again.
type Artifact struct {
	Target    engine.Target
	Tier      engine.Tier
	Module    ModuleInfo
	Functions []Function

	// StackSizeLimit is the Compilation's Tunables.StackSizeLimit, carried
	// through so vm.Instantiate can enforce it without reaching back into
	// engine.Tunables at instantiation time.
	StackSizeLimit uint64
}

// LinkError explains why Link refused to accept a Compilation.
type LinkError struct {
	Reason string
}

func (e *LinkError) Error() string { return "artifact: link failed: " + e.Reason }

// Link validates a Backend's Compilation against the module it was
// compiled from and bundles them into an Artifact. Because execexec
// dispatches calls dynamically by function index (see engine/execexec.Host),
// a Relocation never needs patching into the code stream the way a native
// machine-code backend would — Link's job narrows to verifying every
// Relocation a Backend *did* emit still points at something that exists, so
// a future native-codegen Backend can plug into the same contract without a
// format change.
func Link(module *wasm.Module, comp *engine.Compilation) (*Artifact, error) {
	if !engine.IsSupported(comp.Target) {
		return nil, &LinkError{Reason: fmt.Sprintf("unsupported target %s", comp.Target)}
	}
	if len(comp.Functions) != len(module.Functions) {
		return nil, &LinkError{Reason: fmt.Sprintf("compiled %d functions, module defines %d", len(comp.Functions), len(module.Functions))}
	}
	totalFuncs := int(module.NumImportedFunctions) + len(module.Functions)
	fns := make([]Function, len(comp.Functions))
	for i, cf := range comp.Functions {
		for _, r := range cf.Relocations {
			if err := validateRelocation(r, totalFuncs); err != nil {
				return nil, &LinkError{Reason: fmt.Sprintf("function %d: %s", i, err)}
			}
		}
		fns[i] = Function{Code: cf.Code, Frame: cf.Frame}
	}
	return &Artifact{
		Target:         comp.Target,
		Tier:           comp.Tier,
		Module:         ModuleInfo{ID: module.ID, NumFunctions: len(module.Functions)},
		Functions:      fns,
		StackSizeLimit: comp.StackSizeLimit,
	}, nil
}

func validateRelocation(r engine.Relocation, totalFuncs int) error {
	switch r.Kind {
	case engine.RelocationKindFunction, engine.RelocationKindImportedFunc:
		if int(r.TargetIndex) >= totalFuncs {
			return fmt.Errorf("relocation targets out-of-range function index %d", r.TargetIndex)
		}
	case engine.RelocationKindBuiltin, engine.RelocationKindVMContextSlot, engine.RelocationKindDataBase:
		// Nothing to cross-check without a native code buffer to patch;
		// accepted as-is.
	default:
		return fmt.Errorf("unknown relocation kind %d", r.Kind)
	}
	return nil
}

// Serialize encodes an Artifact to bytes suitable for compilationcache
// storage: a small header, one zstd-compressed block per function (code
// plus its frame descriptor), and a trailing CRC-32 over everything that
// precedes it so a truncated or bit-rotted cache entry is rejected instead
// of silently mis-executed.
func Serialize(a *Artifact) ([]byte, error) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, magic)
	buf.WriteByte(formatVersion)
	writeString(&buf, a.Target.Arch)
	writeString(&buf, a.Target.OS)
	buf.WriteByte(byte(a.Tier))
	buf.Write(a.Module.ID[:])
	_ = binary.Write(&buf, binary.LittleEndian, uint32(a.Module.NumFunctions))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(a.Functions)))
	_ = binary.Write(&buf, binary.LittleEndian, a.StackSizeLimit)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	for _, fn := range a.Functions {
		block := encodeFunction(fn)
		compressed := enc.EncodeAll(block, nil)
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(compressed)))
		buf.Write(compressed)
	}

	sum := crc32.ChecksumIEEE(buf.Bytes())
	_ = binary.Write(&buf, binary.LittleEndian, sum)
	return buf.Bytes(), nil
}

// Deserialize is Serialize's inverse. want, when non-zero-value, is checked
// against the stored Target so an artifact built for one host triple is
// never loaded on another.
func Deserialize(data []byte, want engine.Target) (*Artifact, error) {
	const checksumSize = 4
	if len(data) < 4+checksumSize {
		return nil, fmt.Errorf("artifact: truncated (%d bytes)", len(data))
	}
	body, sum := data[:len(data)-checksumSize], data[len(data)-checksumSize:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(sum) {
		return nil, fmt.Errorf("artifact: checksum mismatch")
	}

	r := bytes.NewReader(body)
	var m uint32
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil || m != magic {
		return nil, fmt.Errorf("artifact: bad magic")
	}
	version, err := r.ReadByte()
	if err != nil || version != formatVersion {
		return nil, fmt.Errorf("artifact: unsupported format version %d", version)
	}
	arch, err := readString(r)
	if err != nil {
		return nil, err
	}
	osName, err := readString(r)
	if err != nil {
		return nil, err
	}
	target := engine.Target{Arch: arch, OS: osName}
	if want != (engine.Target{}) && want != target {
		return nil, fmt.Errorf("artifact: built for %s, want %s", target, want)
	}
	tierByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	var moduleID wasm.ModuleID
	if _, err := io.ReadFull(r, moduleID[:]); err != nil {
		return nil, err
	}
	var numFuncs, numCompiled uint32
	if err := binary.Read(r, binary.LittleEndian, &numFuncs); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &numCompiled); err != nil {
		return nil, err
	}
	var stackSizeLimit uint64
	if err := binary.Read(r, binary.LittleEndian, &stackSizeLimit); err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	fns := make([]Function, numCompiled)
	for i := range fns {
		var blockLen uint32
		if err := binary.Read(r, binary.LittleEndian, &blockLen); err != nil {
			return nil, err
		}
		compressed := make([]byte, blockLen)
		if _, err := io.ReadFull(r, compressed); err != nil {
			return nil, err
		}
		block, err := dec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("artifact: decompressing function %d: %w", i, err)
		}
		fn, err := decodeFunction(block)
		if err != nil {
			return nil, fmt.Errorf("artifact: decoding function %d: %w", i, err)
		}
		fns[i] = fn
	}

	return &Artifact{
		Target:         target,
		Tier:           engine.Tier(tierByte),
		Module:         ModuleInfo{ID: moduleID, NumFunctions: int(numFuncs)},
		Functions:      fns,
		StackSizeLimit: stackSizeLimit,
	}, nil
}

func writeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
