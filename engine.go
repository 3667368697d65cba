// Package wasmcore is the embedding surface over this module's core: decode
// and compile a Wasm binary into an Artifact, then instantiate it with a
// set of imports to get a callable Instance. Grounded on the teacher's
// top-level wazero package (Runtime/CompiledModule/HostModuleBuilder), with
// Runtime renamed Engine and CompiledModule renamed Artifact to match this
// module's own naming.
package wasmcore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/wasmcore-go/wasmcore/api"
	"github.com/wasmcore-go/wasmcore/internal/artifact"
	"github.com/wasmcore-go/wasmcore/internal/compilationcache"
	"github.com/wasmcore-go/wasmcore/internal/corelog"
	"github.com/wasmcore-go/wasmcore/internal/engine"
	"github.com/wasmcore-go/wasmcore/internal/engine/heavytier"
	"github.com/wasmcore-go/wasmcore/internal/engine/miditier"
	"github.com/wasmcore-go/wasmcore/internal/engine/singlepass"
	"github.com/wasmcore-go/wasmcore/internal/platform"
	"github.com/wasmcore-go/wasmcore/internal/wasm"
	"github.com/wasmcore-go/wasmcore/internal/wasm/binary"
	"github.com/wasmcore-go/wasmcore/internal/wazeroir"
)

// Engine holds one compiler back-end selection, its tunables, and an
// optional compilation cache. An Engine is safe for concurrent use by
// multiple goroutines compiling independent modules.
type Engine struct {
	config  *EngineConfig
	backend engine.Backend
}

// NewEngine constructs an Engine from the given configuration. A nil config
// is equivalent to NewEngineConfig().
func NewEngine(config *EngineConfig) *Engine {
	if config == nil {
		config = NewEngineConfig()
	}
	e := &Engine{config: config, backend: backendFor(config.tier)}
	platform.EnableFaultRecovery()
	corelog.EngineCreated(e.backend.Tier().String(), config.target.String())
	return e
}

func backendFor(tier engine.Tier) engine.Backend {
	switch tier {
	case engine.TierMidTier:
		return miditier.Backend{}
	case engine.TierHeavyTier:
		return heavytier.Backend{}
	default:
		return singlepass.Backend{}
	}
}

// SupportedTarget reports whether t is one this build of the module can
// produce or load code for.
func (e *Engine) SupportedTarget(t engine.Target) bool { return engine.IsSupported(t) }

// CompilationCache replaces the Engine's cache with cache, returning the
// same Engine for chaining. A nil cache disables caching.
func (e *Engine) CompilationCache(cache compilationcache.Cache) *Engine {
	e.config = e.config.WithCompilationCache(cache)
	return e
}

// Compile decodes, validates, and compiles src (a Wasm binary module) into
// an Artifact, consulting and populating the configured compilation cache
// by the module's content hash.
func (e *Engine) Compile(ctx context.Context, src []byte, cfg *CompileConfig) (*Artifact, error) {
	if cfg == nil {
		cfg = NewCompileConfig()
	}
	module, codeEntries, err := binary.DecodeModule(bytes.NewReader(src), e.config.features)
	if err != nil {
		return nil, err
	}
	module.ID = sha256.Sum256(src)
	name := cfg.moduleName
	if name == "" && module.Names != nil {
		name = module.Names.ModuleName
	}

	if e.config.cache != nil {
		key := compilationcache.Key{ModuleID: module.ID, Target: e.config.target, Tier: e.backend.Tier()}
		if data, ok, err := e.config.cache.Get(key); err == nil && ok {
			if art, err := loadArtifact(data, module, e.config.target, name); err == nil {
				return art, nil
			}
			// Fall through to a fresh compile on any cache-entry decode
			// failure (bit rot, stale format version) rather than fail
			// the whole Compile call.
		}
	}

	fns, err := lowerFunctions(module, codeEntries, e.config.features)
	if err != nil {
		return nil, err
	}
	comp, err := e.backend.Compile(e.config.target, module, fns, e.config.tunables)
	if err != nil {
		return nil, err
	}
	linked, err := artifact.Link(module, comp)
	if err != nil {
		corelog.LinkFailed(name, err)
		return nil, err
	}

	art := &Artifact{module: module, linked: linked, name: name}
	if e.config.cache != nil {
		if data, err := artifact.Serialize(linked); err == nil {
			key := compilationcache.Key{ModuleID: module.ID, Target: e.config.target, Tier: e.backend.Tier()}
			_ = e.config.cache.Put(key, data)
		}
	}
	return art, nil
}

// LoadArtifact pairs a previously Serialize'd Artifact with the original
// Wasm binary it was compiled from, skipping the compile step entirely.
// The module is re-decoded (cheap: no validation/lowering of function
// bodies happens here, since the cached Artifact already carries their
// compiled form) so its import/export/table/global manifest is available
// to Instantiate without that manifest having to round-trip through the
// serialized Artifact itself.
func (e *Engine) LoadArtifact(ctx context.Context, src []byte, data []byte, cfg *CompileConfig) (*Artifact, error) {
	if cfg == nil {
		cfg = NewCompileConfig()
	}
	module, _, err := binary.DecodeModule(bytes.NewReader(src), e.config.features)
	if err != nil {
		return nil, err
	}
	module.ID = sha256.Sum256(src)
	name := cfg.moduleName
	if name == "" && module.Names != nil {
		name = module.Names.ModuleName
	}
	return loadArtifact(data, module, e.config.target, name)
}

func loadArtifact(data []byte, module *wasm.Module, target engine.Target, name string) (*Artifact, error) {
	linked, err := artifact.Deserialize(data, target)
	if err != nil {
		return nil, err
	}
	if linked.Module.ID != module.ID {
		return nil, fmt.Errorf("wasmcore: artifact was built for a different module (id mismatch)")
	}
	return &Artifact{module: module, linked: linked, name: name}, nil
}

func lowerFunctions(module *wasm.Module, codeEntries []binary.CodeEntry, features api.CoreFeatures) ([]*wazeroir.CompiledFunction, error) {
	fns := make([]*wazeroir.CompiledFunction, len(codeEntries))
	for i, entry := range codeEntries {
		funcIdx := module.NumImportedFunctions + uint32(i)
		sig, err := module.FunctionTypeByIndex(funcIdx)
		if err != nil {
			return nil, err
		}
		cf, err := wazeroir.Lower(module, funcIdx, sig, entry.LocalTypes, entry.Body, features)
		if err != nil {
			return nil, &engine.CompileError{FunctionIndex: wasm.FunctionIndex(funcIdx), Err: err}
		}
		fns[i] = cf
	}
	return fns, nil
}

// Close logs this Engine's teardown. It does not undo the fault recovery
// NewEngine enabled, and it does not affect any Artifact or Instance
// already produced.
func (e *Engine) Close(ctx context.Context) error {
	corelog.EngineClosed(e.backend.Tier().String())
	return nil
}

var _ api.Closer = (*Engine)(nil)
