package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nmxmxh/wasmrt/pkg/apierrors"
	"github.com/nmxmxh/wasmrt/pkg/messaging"
)

// FakeModule is the CompiledModule returned by FakeEngine.Compile.
type FakeModule struct {
	bytes []byte
}

func (m *FakeModule) Bytes() []byte { return m.bytes }

// FakeHandle is the RuntimeHandle returned by FakeEngine.Instantiate.
// HostFns is the registry the instance was linked against, exposed so
// tests can drive host-function calls as if the guest made them.
type FakeHandle struct {
	id      string
	HostFns HostFunctionRegistry

	mu        sync.Mutex
	started   bool
	closed    bool
	Messages  []messaging.Envelope
	Callbacks []messaging.Envelope
}

func (h *FakeHandle) ID() string { return h.id }

// Hook lets a test observe or fail a specific export call by name.
type Hook func(export string) error

// FakeEngine is an in-memory RuntimeEngine with no real WASM execution,
// used by tests and by pkg/host examples — the narrow-interface
// substitution point spec §9 calls for ("use a narrow trait only where
// genuine substitution is needed"; swapping this in for WasmerEngine is
// exactly that substitution).
type FakeEngine struct {
	mu    sync.Mutex
	hooks map[string]Hook
}

// NewFakeEngine returns an engine with no hooks installed; every call
// succeeds immediately.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{hooks: make(map[string]Hook)}
}

// SetHook installs fn to run before the named export is "called",
// letting tests simulate a start failure, a timeout, or a crash.
func (e *FakeEngine) SetHook(export string, fn Hook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks[export] = fn
}

func (e *FakeEngine) runHook(export string) error {
	e.mu.Lock()
	fn := e.hooks[export]
	e.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(export)
}

// Compile rejects bytecode that doesn't start with the WASM magic header,
// matching WasmerEngine's validation so tests exercise the same guard.
func (e *FakeEngine) Compile(ctx context.Context, wasmBytes []byte) (CompiledModule, error) {
	if len(wasmBytes) < 4 || string(wasmBytes[:4]) != "\x00asm" {
		return nil, apierrors.Wrap(apierrors.ErrComponentLoadFailed, "missing WASM magic header", nil)
	}
	return &FakeModule{bytes: wasmBytes}, nil
}

// Instantiate returns a fresh FakeHandle; limits are neither recorded nor
// enforced, and hostFns is retained for tests to drive guest-side calls.
func (e *FakeEngine) Instantiate(ctx context.Context, mod CompiledModule, limits ResourceLimits, hostFns HostFunctionRegistry) (RuntimeHandle, error) {
	return &FakeHandle{id: uuid.NewString(), HostFns: hostFns}, nil
}

func (e *FakeEngine) CallStart(ctx context.Context, h RuntimeHandle, timeout time.Duration) error {
	if err := e.runHook("start"); err != nil {
		return err
	}
	fh := h.(*FakeHandle)
	fh.mu.Lock()
	fh.started = true
	fh.mu.Unlock()
	return nil
}

func (e *FakeEngine) CallCleanup(ctx context.Context, h RuntimeHandle, timeout time.Duration) error {
	return e.runHook("cleanup")
}

func (e *FakeEngine) CallHandleMessage(ctx context.Context, h RuntimeHandle, msg messaging.Envelope) error {
	if err := e.runHook("handle_message"); err != nil {
		return err
	}
	fh := h.(*FakeHandle)
	fh.mu.Lock()
	fh.Messages = append(fh.Messages, msg)
	fh.mu.Unlock()
	return nil
}

func (e *FakeEngine) CallHandleCallback(ctx context.Context, h RuntimeHandle, msg messaging.Envelope) error {
	if err := e.runHook("handle_callback"); err != nil {
		return err
	}
	fh := h.(*FakeHandle)
	fh.mu.Lock()
	fh.Callbacks = append(fh.Callbacks, msg)
	fh.mu.Unlock()
	return nil
}

func (e *FakeEngine) Close(h RuntimeHandle) error {
	fh := h.(*FakeHandle)
	fh.mu.Lock()
	fh.closed = true
	fh.mu.Unlock()
	return nil
}
