// Package host implements the top-level façade spec §4.5 describes:
// Manager owns the engine, component loader, registry, root supervisor
// tree, correlation tracker, broker, and host-function registry, and
// exposes the spawn/stop/restart/shutdown operations every other
// subsystem is wired underneath.
package host

import (
	"context"
	"os"

	"github.com/nmxmxh/wasmrt/pkg/apierrors"
)

// ComponentLoader is the narrow interface for fetching a component's WASM
// bytes given an identifying path — the "component store" of spec §4.3
// step 2. Narrow per spec §9's "use a narrow trait only where genuine
// substitution is needed"; FileComponentLoader and InMemoryComponentLoader
// are the substitution point it exists for.
type ComponentLoader interface {
	Load(ctx context.Context, path string) ([]byte, error)
}

// FileComponentLoader loads component bytecode from the local filesystem.
type FileComponentLoader struct{}

func (FileComponentLoader) Load(ctx context.Context, path string) ([]byte, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrComponentLoadFailed, path, err)
	}
	return bytes, nil
}

// InMemoryComponentLoader serves pre-registered bytecode by name, for
// tests and examples that don't want to touch the filesystem.
type InMemoryComponentLoader struct {
	modules map[string][]byte
}

// NewInMemoryComponentLoader returns a loader with no modules registered.
func NewInMemoryComponentLoader() *InMemoryComponentLoader {
	return &InMemoryComponentLoader{modules: make(map[string][]byte)}
}

// Register associates name with wasmBytes for later Load calls.
func (l *InMemoryComponentLoader) Register(name string, wasmBytes []byte) {
	l.modules[name] = wasmBytes
}

func (l *InMemoryComponentLoader) Load(ctx context.Context, path string) ([]byte, error) {
	bytes, ok := l.modules[path]
	if !ok {
		return nil, apierrors.Wrap(apierrors.ErrComponentLoadFailed, path, nil)
	}
	return bytes, nil
}
