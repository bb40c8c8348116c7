package engine

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/nmxmxh/wasmrt/pkg/apierrors"
	"github.com/nmxmxh/wasmrt/pkg/messaging"
)

// wasmMagic is the 4-byte magic every WASM binary starts with. Checked
// before Compile is even attempted (spec §4.3 step 3).
var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// hostCallBaseCost is the fuel charged for each guest export call and
// each host-function call, plus one unit per payload byte. wasmer-go
// exposes no per-instruction metering hook, so fuel is accounted at the
// host boundary — every guest suspension point — which still starves a
// chatty runaway guest, while wall-clock timeouts bound pure compute
// loops between boundaries.
const hostCallBaseCost = 1_000

// WasmerEngine implements RuntimeEngine over wasmer-go, following the
// reference executor's NewEngine/NewStore/NewModule/NewInstance/
// GetFunction call sequence. The default engine configuration leaves
// threads, SIMD, relaxed SIMD, reference types, and bulk memory disabled,
// matching spec §6's feature list; nothing here opts into them.
type WasmerEngine struct {
	store *wasmer.Store
}

// NewWasmerEngine builds an engine and its backing store.
func NewWasmerEngine() *WasmerEngine {
	engine := wasmer.NewEngine()
	return &WasmerEngine{store: wasmer.NewStore(engine)}
}

type wasmerModule struct {
	module *wasmer.Module
	bytes  []byte
}

func (m *wasmerModule) Bytes() []byte { return m.bytes }

// Compile validates the magic header, then compiles wasmBytes into a
// wasmer.Module. Returns ErrComponentLoadFailed wrapping the compiler
// error on failure.
func (e *WasmerEngine) Compile(ctx context.Context, wasmBytes []byte) (CompiledModule, error) {
	if len(wasmBytes) < len(wasmMagic) || !bytes.Equal(wasmBytes[:len(wasmMagic)], wasmMagic) {
		return nil, apierrors.Wrap(apierrors.ErrComponentLoadFailed, "missing WASM magic header", nil)
	}
	mod, err := wasmer.NewModule(e.store, wasmBytes)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrComponentLoadFailed, "compile module", err)
	}
	return &wasmerModule{module: mod, bytes: wasmBytes}, nil
}

type wasmerHandle struct {
	id       string
	instance *wasmer.Instance
	limits   ResourceLimits

	mu       sync.Mutex
	fuelUsed uint64
}

func (h *wasmerHandle) ID() string { return h.id }

// charge debits fuel for one boundary crossing, failing once the budget
// is exhausted. A zero budget disables metering.
func (h *wasmerHandle) charge(payloadLen int) error {
	if h.limits.FuelBudget == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fuelUsed += hostCallBaseCost + uint64(payloadLen)
	if h.fuelUsed > h.limits.FuelBudget {
		return apierrors.Wrap(apierrors.ErrResourceLimitExceeded, "fuel budget exhausted", nil)
	}
	return nil
}

// checkMemory rejects a call when the guest's linear memory has grown past
// the configured limit.
func (h *wasmerHandle) checkMemory() error {
	if h.limits.MaxMemoryBytes == 0 || h.instance == nil {
		return nil
	}
	mem, err := h.instance.Exports.GetMemory("memory")
	if err != nil {
		return nil // no exported memory to bound
	}
	if uint64(mem.DataSize()) > h.limits.MaxMemoryBytes {
		return apierrors.Wrap(apierrors.ErrResourceLimitExceeded, "linear memory limit exceeded", nil)
	}
	return nil
}

// Instantiate links every host function in hostFns as an "env" import
// taking (ptr, len) into guest memory and returning a status code, then
// instantiates mod. Guest calls are routed through hostFns.Invoke with
// the argument bytes read out of the guest's linear memory, after a fuel
// charge against the instance's budget.
func (e *WasmerEngine) Instantiate(ctx context.Context, mod CompiledModule, limits ResourceLimits, hostFns HostFunctionRegistry) (RuntimeHandle, error) {
	wm, ok := mod.(*wasmerModule)
	if !ok {
		return nil, apierrors.Wrap(apierrors.ErrInternal, "engine: foreign CompiledModule", nil)
	}

	handle := &wasmerHandle{id: uuid.NewString(), limits: limits}

	importObject := wasmer.NewImportObject()
	if hostFns != nil {
		imports := make(map[string]wasmer.IntoExtern, len(hostFns.Names()))
		for _, name := range hostFns.Names() {
			name := name
			fnType := wasmer.NewFunctionType(
				wasmer.NewValueTypes(wasmer.I32, wasmer.I32),
				wasmer.NewValueTypes(wasmer.I32),
			)
			imports[name] = wasmer.NewFunction(e.store, fnType, func(args []wasmer.Value) ([]wasmer.Value, error) {
				ptr, length := args[0].I32(), args[1].I32()
				payload, err := handle.readGuestMemory(ptr, length)
				if err != nil {
					return []wasmer.Value{wasmer.NewI32(1)}, nil
				}
				if err := handle.charge(len(payload)); err != nil {
					return nil, err
				}
				if _, err := hostFns.Invoke(context.Background(), name, payload); err != nil {
					return []wasmer.Value{wasmer.NewI32(1)}, nil
				}
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			})
		}
		importObject.Register("env", imports)
	}

	instance, err := wasmer.NewInstance(wm.module, importObject)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrComponentLoadFailed, "instantiate module", err)
	}
	handle.instance = instance
	return handle, nil
}

// readGuestMemory copies length bytes at ptr out of the guest's exported
// linear memory.
func (h *wasmerHandle) readGuestMemory(ptr, length int32) ([]byte, error) {
	if h.instance == nil {
		return nil, apierrors.Wrap(apierrors.ErrExecutionFailed, "instance released", nil)
	}
	mem, err := h.instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrExecutionFailed, "guest exports no memory", err)
	}
	data := mem.Data()
	if ptr < 0 || length < 0 || int(ptr)+int(length) > len(data) {
		return nil, apierrors.Wrap(apierrors.ErrExecutionFailed, "guest pointer out of bounds", nil)
	}
	out := make([]byte, length)
	copy(out, data[ptr:ptr+length])
	return out, nil
}

// CallStart invokes the guest's optional "_start" export with a timeout
// (spec §4.3 step 9). A module without the export starts trivially.
func (e *WasmerEngine) CallStart(ctx context.Context, h RuntimeHandle, timeout time.Duration) error {
	return e.callExport(ctx, h, "_start", nil, timeout, true)
}

// CallCleanup invokes the guest's optional "_cleanup" export with a
// timeout, during the Stopping transition.
func (e *WasmerEngine) CallCleanup(ctx context.Context, h RuntimeHandle, timeout time.Duration) error {
	return e.callExport(ctx, h, "_cleanup", nil, timeout, true)
}

// CallHandleMessage invokes the guest's "handle_message" export with msg's
// payload copied into guest memory.
func (e *WasmerEngine) CallHandleMessage(ctx context.Context, h RuntimeHandle, msg messaging.Envelope) error {
	return e.callExport(ctx, h, "handle_message", msg.Payload, 0, false)
}

// CallHandleCallback invokes the guest's "handle_callback" export, used
// for delivering a correlated Response back into the originating guest.
func (e *WasmerEngine) CallHandleCallback(ctx context.Context, h RuntimeHandle, msg messaging.Envelope) error {
	return e.callExport(ctx, h, "handle_callback", msg.Payload, 0, false)
}

func (e *WasmerEngine) callExport(ctx context.Context, h RuntimeHandle, export string, payload []byte, timeout time.Duration, optional bool) error {
	wh, ok := h.(*wasmerHandle)
	if !ok {
		return apierrors.Wrap(apierrors.ErrInternal, "engine: foreign RuntimeHandle", nil)
	}
	if wh.instance == nil {
		return apierrors.Wrap(apierrors.ErrExecutionFailed, "instance released", nil)
	}
	if err := wh.charge(len(payload)); err != nil {
		return err
	}
	if err := wh.checkMemory(); err != nil {
		return err
	}

	fn, err := wh.instance.Exports.GetFunction(export)
	if err != nil {
		if optional {
			return nil
		}
		return apierrors.Wrap(apierrors.ErrExecutionFailed, fmt.Sprintf("missing export %q", export), err)
	}

	args, err := wh.stagePayload(payload)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		_, callErr := fn(args...)
		done <- callErr
	}()

	if timeout <= 0 {
		select {
		case err := <-done:
			if err != nil {
				return apierrors.Wrap(apierrors.ErrExecutionFailed, export, err)
			}
			return nil
		case <-ctx.Done():
			return apierrors.Wrap(apierrors.ErrExecutionTimeout, export, ctx.Err())
		}
	}

	select {
	case err := <-done:
		if err != nil {
			return apierrors.Wrap(apierrors.ErrExecutionFailed, export, err)
		}
		return nil
	case <-time.After(timeout):
		return apierrors.Wrap(apierrors.ErrExecutionTimeout, export, nil)
	case <-ctx.Done():
		return apierrors.Wrap(apierrors.ErrExecutionTimeout, export, ctx.Err())
	}
}

// stagePayload copies payload into guest memory via the conventional
// "alloc" export and returns the (ptr, len) argument pair. A guest
// without alloc (or an empty payload) is called with no arguments.
func (h *wasmerHandle) stagePayload(payload []byte) ([]interface{}, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	alloc, err := h.instance.Exports.GetFunction("alloc")
	if err != nil {
		return nil, nil
	}
	mem, err := h.instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, nil
	}
	raw, err := alloc(int32(len(payload)))
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrExecutionFailed, "guest alloc", err)
	}
	ptr, ok := raw.(int32)
	if !ok {
		return nil, apierrors.Wrap(apierrors.ErrExecutionFailed, "guest alloc returned non-i32", nil)
	}
	data := mem.Data()
	if ptr < 0 || int(ptr)+len(payload) > len(data) {
		return nil, apierrors.Wrap(apierrors.ErrExecutionFailed, "guest alloc pointer out of bounds", nil)
	}
	copy(data[ptr:], payload)
	return []interface{}{ptr, int32(len(payload))}, nil
}

// Close releases the wasmer instance. Idempotent.
func (e *WasmerEngine) Close(h RuntimeHandle) error {
	wh, ok := h.(*wasmerHandle)
	if !ok {
		return apierrors.Wrap(apierrors.ErrInternal, "engine: foreign RuntimeHandle", nil)
	}
	wh.mu.Lock()
	defer wh.mu.Unlock()
	if wh.instance != nil {
		wh.instance.Close()
		wh.instance = nil
	}
	return nil
}
