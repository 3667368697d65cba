package wasmcore

import (
	"context"

	"github.com/wasmcore-go/wasmcore/api"
	internalartifact "github.com/wasmcore-go/wasmcore/internal/artifact"
	"github.com/wasmcore-go/wasmcore/internal/engine"
	"github.com/wasmcore-go/wasmcore/internal/vm"
	"github.com/wasmcore-go/wasmcore/internal/wasm"
)

// Artifact is the linked, immutable result of compiling one Wasm module:
// everything Instantiate needs to run it, without touching the original
// bytes again.
type Artifact struct {
	module *wasm.Module
	linked *internalartifact.Artifact
	name   string
}

// Target reports the (arch, OS) pair this Artifact's code was compiled for.
func (a *Artifact) Target() engine.Target { return a.linked.Target }

// Serialize encodes this Artifact to bytes suitable for storage in a
// compilationcache.Cache or on a filesystem, for later use with
// Engine.LoadArtifact alongside the same source bytes it was compiled from.
func (a *Artifact) Serialize() ([]byte, error) {
	return internalartifact.Serialize(a.linked)
}

// Instantiate allocates and initializes a new Instance from this Artifact:
// memories, tables and globals are created, active segments are applied,
// the start function (if any) runs, and imports must satisfy the module's
// import list exactly, in order.
func (a *Artifact) Instantiate(ctx context.Context, imports []api.Extern) (*Instance, error) {
	return vm.Instantiate(ctx, a.module, a.linked, imports, a.name)
}

// Instance is one instantiated, callable embodiment of an Artifact.
type Instance = vm.Instance
