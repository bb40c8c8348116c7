// Package engine defines the narrow RuntimeEngine contract a WASM
// component host needs, plus two implementations: a real wasmer-go
// backend and an in-memory fake for tests and examples (spec §4.3, §9
// "use a narrow trait only where genuine substitution is needed").
package engine

import (
	"context"
	"time"

	"github.com/nmxmxh/wasmrt/pkg/messaging"
)

// CompiledModule is an opaque handle to a validated, compiled WASM module.
// Concrete engines wrap their own module type behind this interface.
type CompiledModule interface {
	// Bytes returns the original module bytes the module was compiled from.
	Bytes() []byte
}

// RuntimeHandle is an opaque handle to one running instance of a
// CompiledModule, with its own linear memory and host-function bindings.
type RuntimeHandle interface {
	// ID identifies this instance for logging and diagnostics.
	ID() string
}

// ResourceLimits bounds what a single component instance may consume
// (spec §4.3 step 4, §5).
type ResourceLimits struct {
	MaxMemoryBytes uint64
	FuelBudget     uint64
}

// HostFunctionRegistry supplies the host functions a component's imports
// are linked against. Concrete shape lives in pkg/host, which is the only
// package that constructs one; engines link each name as a guest import
// and route guest calls through Invoke. A registry handed to Instantiate
// is already bound to the calling component's identity and capability set.
type HostFunctionRegistry interface {
	// Names returns the import names this registry can satisfy.
	Names() []string
	// Invoke runs the named host function with the raw argument bytes the
	// guest passed, returning the bytes to hand back to the guest.
	Invoke(ctx context.Context, name string, payload []byte) ([]byte, error)
}

// RuntimeEngine is the substitution point between a real WASM backend and
// a test fake. Every method takes a context so compilation, instantiation,
// and guest calls are all cancelable/timeoutable (spec §4.3).
type RuntimeEngine interface {
	Compile(ctx context.Context, wasmBytes []byte) (CompiledModule, error)
	Instantiate(ctx context.Context, mod CompiledModule, limits ResourceLimits, hostFns HostFunctionRegistry) (RuntimeHandle, error)
	CallStart(ctx context.Context, h RuntimeHandle, timeout time.Duration) error
	CallCleanup(ctx context.Context, h RuntimeHandle, timeout time.Duration) error
	CallHandleMessage(ctx context.Context, h RuntimeHandle, msg messaging.Envelope) error
	CallHandleCallback(ctx context.Context, h RuntimeHandle, msg messaging.Envelope) error
	Close(h RuntimeHandle) error
}
