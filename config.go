package wasmcore

import (
	"github.com/wasmcore-go/wasmcore/api"
	"github.com/wasmcore-go/wasmcore/internal/compilationcache"
	"github.com/wasmcore-go/wasmcore/internal/engine"
)

// EngineConfig selects a compiler tier, its tunables, the enabled Wasm
// proposals, and an optional compilation cache. Grounded on the teacher's
// RuntimeConfig/NewRuntimeConfigJIT-vs-Interpreter split, generalized from
// a two-way JIT/interpreter choice into a three-way tier choice plus an
// explicit Tunables struct instead of build-tag-selected defaults.
type EngineConfig struct {
	tier     engine.Tier
	target   engine.Target
	tunables engine.Tunables
	features api.CoreFeatures
	cache    compilationcache.Cache
}

// NewEngineConfig returns the default configuration: the single-pass
// back-end, the host's own (arch, OS), DefaultTunables, and the stable
// CoreFeaturesV2 proposal set.
func NewEngineConfig() *EngineConfig {
	return &EngineConfig{
		tier:     engine.TierSinglePass,
		target:   engine.CurrentTarget,
		tunables: engine.DefaultTunables,
		features: api.CoreFeaturesV2,
	}
}

func (c *EngineConfig) clone() *EngineConfig {
	cp := *c
	return &cp
}

// WithTier selects which compiler back-end Compile uses.
func (c *EngineConfig) WithTier(tier engine.Tier) *EngineConfig {
	ret := c.clone()
	ret.tier = tier
	return ret
}

// WithTarget pins the (arch, OS) pair Compile produces code for, instead of
// the host triple. Only useful for producing an Artifact ahead of time for
// a different machine. Instantiate does not check the target; a serialized
// Artifact is only accepted by LoadArtifact or a cache lookup on an Engine
// configured with the same target.
func (c *EngineConfig) WithTarget(target engine.Target) *EngineConfig {
	ret := c.clone()
	ret.target = target
	return ret
}

// WithTunables overrides the codegen trade-off knobs wholesale.
func (c *EngineConfig) WithTunables(t engine.Tunables) *EngineConfig {
	ret := c.clone()
	ret.tunables = t
	return ret
}

// WithCoreFeatures replaces the enabled Wasm proposal set.
func (c *EngineConfig) WithCoreFeatures(features api.CoreFeatures) *EngineConfig {
	ret := c.clone()
	ret.features = features
	return ret
}

// WithCompilationCache plugs in a cache Compile consults before invoking a
// back-end, and populates after a successful compile. A nil cache (the
// default) disables caching entirely.
func (c *EngineConfig) WithCompilationCache(cache compilationcache.Cache) *EngineConfig {
	ret := c.clone()
	ret.cache = cache
	return ret
}

// CompileConfig carries per-Compile-call overrides that don't belong on the
// longer-lived EngineConfig.
type CompileConfig struct {
	// moduleName overrides the name embedded in the module's own name
	// section (if any). Empty keeps whatever the binary declares.
	moduleName string
}

// NewCompileConfig returns a CompileConfig with no overrides.
func NewCompileConfig() *CompileConfig {
	return &CompileConfig{}
}

// WithModuleName overrides the compiled module's diagnostic name, used in
// log lines and Trap frames regardless of what the binary's name section
// (if any) declares.
func (c *CompileConfig) WithModuleName(name string) *CompileConfig {
	ret := *c
	ret.moduleName = name
	return &ret
}
