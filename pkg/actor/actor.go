package actor

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/nmxmxh/wasmrt/internal/telemetry"
	"github.com/nmxmxh/wasmrt/pkg/apierrors"
	"github.com/nmxmxh/wasmrt/pkg/capability"
	"github.com/nmxmxh/wasmrt/pkg/engine"
	"github.com/nmxmxh/wasmrt/pkg/messaging"
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// Spec is the immutable configuration a ComponentActor is built from: its
// identity, the bytecode to run, the engine to run it on, its resource
// limits and capability set, and the host function registry its imports
// link against.
type Spec struct {
	ID             capability.ComponentID
	WASMBytes      []byte
	Engine         engine.RuntimeEngine
	Limits         engine.ResourceLimits
	Caps           capability.CapabilitySet
	HostFns        engine.HostFunctionRegistry
	StartTimeout   time.Duration
	CleanupTimeout time.Duration
}

// ComponentActor is one running (or starting/stopping) component
// instance. All state transitions happen under mu, inside Start/Stop
// only, matching spec §4.3's "state mutation outside these paths is
// forbidden".
type ComponentActor struct {
	spec Spec
	log  *telemetry.Logger

	mu        sync.Mutex
	state     State
	handle    engine.RuntimeHandle
	startedAt time.Time
	failure   FailureReason
}

// New returns a ComponentActor in the Creating state. It performs no I/O;
// call Start to bring it to Ready.
func New(spec Spec, log *telemetry.Logger) *ComponentActor {
	if log == nil {
		log = telemetry.Default("actor")
	}
	return &ComponentActor{spec: spec, log: log.With(spec.ID.String()), state: Creating}
}

// ID returns the actor's component identity.
func (a *ComponentActor) ID() capability.ComponentID { return a.spec.ID }

// Capabilities returns the immutable capability set the actor was spawned
// with — the maximum grant for its whole lifetime.
func (a *ComponentActor) Capabilities() capability.CapabilitySet { return a.spec.Caps }

// State returns the actor's current lifecycle state.
func (a *ComponentActor) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Health derives the actor's health from its current state alone (spec
// §4.3), with a hard 1s timeout — exceeding it returns Degraded.
func (a *ComponentActor) Health(ctx context.Context) Health {
	done := make(chan Health, 1)
	go func() {
		a.mu.Lock()
		h := DeriveHealth(a.state, a.handle != nil)
		a.mu.Unlock()
		done <- h
	}()
	select {
	case h := <-done:
		return h
	case <-time.After(time.Second):
		return Degraded
	}
}

// Start runs the component's start algorithm exactly per spec §4.3:
// validate magic bytes, compile, instantiate with resource limits and
// host functions, call the guest's start export under a timeout, then
// transition to Ready.
func (a *ComponentActor) Start(ctx context.Context) error {
	a.setState(Starting)

	if len(a.spec.WASMBytes) < len(wasmMagic) || !bytes.Equal(a.spec.WASMBytes[:len(wasmMagic)], wasmMagic) {
		return a.fail("validate", apierrors.Wrap(apierrors.ErrComponentValidationFailed, "missing WASM magic header", nil))
	}

	mod, err := a.spec.Engine.Compile(ctx, a.spec.WASMBytes)
	if err != nil {
		return a.fail("compile", err)
	}

	handle, err := a.spec.Engine.Instantiate(ctx, mod, a.spec.Limits, a.spec.HostFns)
	if err != nil {
		return a.fail("instantiate", err)
	}

	startTimeout := a.spec.StartTimeout
	if startTimeout <= 0 {
		startTimeout = 5 * time.Second
	}
	if err := a.spec.Engine.CallStart(ctx, handle, startTimeout); err != nil {
		_ = a.spec.Engine.Close(handle)
		return a.fail("start", err)
	}

	a.mu.Lock()
	a.handle = handle
	a.startedAt = time.Now()
	a.state = Ready
	a.mu.Unlock()

	a.log.Info("component ready")
	return nil
}

// Stop runs the component's stop algorithm exactly per spec §4.3: an
// optional cleanup export is called best-effort (timeout or error is
// logged, not fatal), the runtime handle is released deterministically,
// and the actor transitions to Terminated.
func (a *ComponentActor) Stop(ctx context.Context) error {
	a.setState(Stopping)

	a.mu.Lock()
	handle := a.handle
	startedAt := a.startedAt
	a.mu.Unlock()

	if handle == nil {
		a.setState(Terminated)
		return nil
	}

	cleanupTimeout := a.spec.CleanupTimeout
	if cleanupTimeout <= 0 {
		cleanupTimeout = 2 * time.Second
	}
	if err := a.spec.Engine.CallCleanup(ctx, handle, cleanupTimeout); err != nil {
		a.log.Warn("cleanup export failed, continuing shutdown", telemetry.Err(err))
	}

	if err := a.spec.Engine.Close(handle); err != nil {
		a.log.Warn("engine close failed", telemetry.Err(err))
	}

	a.mu.Lock()
	a.handle = nil
	a.state = Terminated
	a.mu.Unlock()

	if !startedAt.IsZero() {
		a.log.Info("component stopped", telemetry.Duration("uptime", time.Since(startedAt)))
	}
	return nil
}

// HandleMessage delivers an inbound envelope to the guest's message
// handler. Any engine error is wrapped and returned; the caller
// (supervision) decides what to do with it.
func (a *ComponentActor) HandleMessage(ctx context.Context, msg messaging.Envelope) error {
	handle, err := a.loadedHandle()
	if err != nil {
		return err
	}
	if err := a.spec.Engine.CallHandleMessage(ctx, handle, msg); err != nil {
		return apierrors.Wrap(apierrors.ErrExecutionFailed, "handle_message", err)
	}
	return nil
}

// HandleCallback delivers a correlated Response back into the guest.
func (a *ComponentActor) HandleCallback(ctx context.Context, msg messaging.Envelope) error {
	handle, err := a.loadedHandle()
	if err != nil {
		return err
	}
	if err := a.spec.Engine.CallHandleCallback(ctx, handle, msg); err != nil {
		return apierrors.Wrap(apierrors.ErrExecutionFailed, "handle_callback", err)
	}
	return nil
}

// Shutdown unloads the runtime handle; idempotent, safe to call after Stop
// or on an actor that never finished Start.
func (a *ComponentActor) Shutdown(ctx context.Context) error {
	return a.Stop(ctx)
}

func (a *ComponentActor) loadedHandle() (engine.RuntimeHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle == nil {
		return nil, apierrors.Wrap(apierrors.ErrExecutionFailed, "component has no loaded runtime", nil)
	}
	return a.handle, nil
}

func (a *ComponentActor) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *ComponentActor) fail(stage string, err error) error {
	a.mu.Lock()
	a.state = Failed
	a.failure = FailureReason{Stage: stage, Err: err}
	a.mu.Unlock()
	a.log.Error("component failed", telemetry.String("stage", stage), telemetry.Err(err))
	return err
}

// FailureReason returns why the actor failed, if it is in the Failed
// state. Zero value otherwise.
func (a *ComponentActor) FailureReason() FailureReason {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failure
}
