package host

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/nmxmxh/wasmrt/internal/telemetry"
	"github.com/nmxmxh/wasmrt/pkg/actor"
	"github.com/nmxmxh/wasmrt/pkg/apierrors"
	"github.com/nmxmxh/wasmrt/pkg/capability"
	"github.com/nmxmxh/wasmrt/pkg/engine"
	"github.com/nmxmxh/wasmrt/pkg/messaging"
	"github.com/nmxmxh/wasmrt/pkg/registry"
	"github.com/nmxmxh/wasmrt/pkg/security"
	"github.com/nmxmxh/wasmrt/pkg/supervisor"
)

// actorChild adapts *actor.ComponentActor to supervisor.Child: every
// method but Health already has a matching signature via Go's method
// promotion, so only Health needs a translation between pkg/actor's
// Health enum and pkg/supervisor's (the two packages deliberately don't
// share one, per DESIGN.md).
type actorChild struct {
	*actor.ComponentActor
}

func (a actorChild) Health(ctx context.Context) supervisor.Health {
	switch a.ComponentActor.Health(ctx) {
	case actor.Healthy:
		return supervisor.Healthy
	case actor.Degraded:
		return supervisor.Degraded
	default:
		return supervisor.Unhealthy
	}
}

// Status is the point-in-time view GetComponentStatus returns.
type Status struct {
	Registered bool
	State      actor.State
	Health     supervisor.Health
	Failure    actor.FailureReason
}

// componentRecord is what Manager keeps per spawned component: enough to
// find it again inside the supervisor tree, plus the immutable capability
// set it was spawned with.
type componentRecord struct {
	childID uuid.UUID
	caps    capability.CapabilitySet
}

// ManagerConfig assembles everything a Manager needs to own. Fields left
// zero get a sensible default (spec §4.5 "Owns: engine factory, component
// loader, registry, root supervisor, correlation tracker, messaging
// service, async host-function registry").
type ManagerConfig struct {
	Engine         engine.RuntimeEngine
	Loader         ComponentLoader
	Registry       *registry.Registry
	Tree           *supervisor.Tree
	Broker         *messaging.Broker
	Tracker        *messaging.CorrelationTracker
	Checker        *security.PermissionChecker
	Log            *telemetry.Logger
	CompileBreaker gobreaker.Settings
	RootStrategy   supervisor.Strategy
}

// Manager is the top-level façade spec §4.5 describes: it owns every
// other subsystem and exposes the spawn/stop/restart/shutdown/status
// operations a caller (a CLI, an RPC handler, a test) actually uses.
type Manager struct {
	engine  engine.RuntimeEngine
	loader  ComponentLoader
	reg     *registry.Registry
	tree    *supervisor.Tree
	broker  *messaging.Broker
	tracker *messaging.CorrelationTracker
	checker *security.PermissionChecker
	hostFns *HostFunctions
	log     *telemetry.Logger

	rootID    uuid.UUID
	sweepStop chan struct{}

	mu       sync.Mutex
	actors   map[capability.ComponentID]componentRecord
	shutdown bool
}

// sweepInterval is how often the manager runs the correlation tracker's
// defensive expiry sweep.
const sweepInterval = 60 * time.Second

// breakerEngine wraps an engine.RuntimeEngine, routing only Compile
// through a gobreaker.CircuitBreaker (spec §4.5/§2.8: "the circuit
// breaker wraps only the engine-compile step of spawn, not the whole
// spawn path"). Every other method passes straight through via the
// embedded interface.
type breakerEngine struct {
	engine.RuntimeEngine
	breaker *gobreaker.CircuitBreaker
}

func (b *breakerEngine) Compile(ctx context.Context, wasmBytes []byte) (engine.CompiledModule, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.RuntimeEngine.Compile(ctx, wasmBytes)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, apierrors.Wrap(apierrors.ErrEngineInitialization, "engine compile circuit open", err)
	}
	if err != nil {
		return nil, err
	}
	return result.(engine.CompiledModule), nil
}

// NewManager assembles a Manager from cfg, filling in defaults for any
// zero-valued collaborator and creating the root supervisor.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Engine == nil {
		return nil, apierrors.Wrap(apierrors.ErrInvalidConfiguration, "ManagerConfig requires an Engine", nil)
	}
	if cfg.Loader == nil {
		cfg.Loader = FileComponentLoader{}
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New()
	}
	if cfg.Log == nil {
		cfg.Log = telemetry.Default("host")
	}
	if cfg.Tree == nil {
		cfg.Tree = supervisor.NewTree(cfg.Log.With("supervisor-tree"))
	}
	if cfg.Broker == nil {
		cfg.Broker = messaging.NewBroker(0)
	}
	if cfg.Tracker == nil {
		cfg.Tracker = messaging.NewCorrelationTracker()
	}
	if cfg.Checker == nil {
		cfg.Checker = security.NewPermissionChecker(0, nil, nil, security.NewAuditLog(0))
	}
	if cfg.CompileBreaker.Name == "" {
		cfg.CompileBreaker = gobreaker.Settings{
			Name:    "engine-compile",
			Timeout: 30 * time.Second,
		}
	}

	root, err := cfg.Tree.CreateSupervisor(uuid.Nil, cfg.RootStrategy)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrInternal, "create root supervisor", err)
	}

	wrapped := &breakerEngine{RuntimeEngine: cfg.Engine, breaker: gobreaker.NewCircuitBreaker(cfg.CompileBreaker)}
	hostFns := NewHostFunctions(cfg.Broker, cfg.Checker, cfg.Tracker)

	m := &Manager{
		engine:    wrapped,
		loader:    cfg.Loader,
		reg:       cfg.Registry,
		tree:      cfg.Tree,
		broker:    cfg.Broker,
		tracker:   cfg.Tracker,
		checker:   cfg.Checker,
		hostFns:   hostFns,
		log:       cfg.Log,
		rootID:    root.ID,
		sweepStop: make(chan struct{}),
		actors:    make(map[capability.ComponentID]componentRecord),
	}
	go m.sweepLoop()
	return m, nil
}

// sweepLoop periodically runs the correlation tracker's defensive expiry
// sweep, catching pending requests whose timers were delayed (spec §4.2).
func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if removed := m.tracker.CleanupExpired(); removed > 0 {
				m.log.Warn("expired stale pending requests", telemetry.Int("count", removed))
			}
		case <-m.sweepStop:
			return
		}
	}
}

// SpawnComponent runs spec §4.5's spawn algorithm: load the bytecode,
// build a ComponentActor wired to the shared engine and a host-function
// registry bound to the component's identity and capability set, spawn it
// under the root supervisor (which performs the actual Start), register
// its broker inbox and routing address, and start its delivery loop.
func (m *Manager) SpawnComponent(ctx context.Context, id capability.ComponentID, wasmPath string, limits engine.ResourceLimits, caps capability.CapabilitySet) error {
	if err := m.requireRunning(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.actors[id]; exists {
		m.mu.Unlock()
		return apierrors.Wrap(apierrors.ErrComponentValidationFailed, "component "+id.String()+" already spawned", nil)
	}
	m.mu.Unlock()

	wasmBytes, err := m.loader.Load(ctx, wasmPath)
	if err != nil {
		return err
	}

	root, ok := m.tree.Supervisor(m.rootID)
	if !ok {
		return apierrors.Wrap(apierrors.ErrInternal, "root supervisor missing", nil)
	}

	bound := m.hostFns.Bind(id, caps)
	factory := func() supervisor.Child {
		a := actor.New(actor.Spec{
			ID:        id,
			WASMBytes: wasmBytes,
			Engine:    m.engine,
			Limits:    limits,
			Caps:      caps,
			HostFns:   bound,
		}, m.log.With(id.String()))
		return actorChild{a}
	}

	spec, err := supervisor.NewChildSpecBuilder(uuid.New(), factory).
		WithName(id.String()).
		WithRestartPolicy(supervisor.Permanent).
		WithShutdownPolicy(supervisor.ShutdownPolicy{Kind: supervisor.Graceful, Timeout: 2 * time.Second}).
		WithBackoff(supervisor.BackoffPolicy{Kind: supervisor.BackoffExponential, Base: 100 * time.Millisecond, Multiplier: 2, Max: 5 * time.Second}).
		Build()
	if err != nil {
		return err
	}

	if err := root.StartChild(ctx, spec); err != nil {
		return err
	}

	inbox := m.broker.RegisterInbox(id)
	m.reg.Register(id, registry.Address{ComponentID: id})

	m.mu.Lock()
	m.actors[id] = componentRecord{childID: spec.ID, caps: caps}
	m.mu.Unlock()

	go m.pump(id, spec.ID, inbox)

	m.log.Info("component spawned", telemetry.String("component_id", id.String()))
	return nil
}

// pump is one component's delivery loop: it drains the broker inbox in
// FIFO order into the actor's message/callback handlers. A handler error
// is reported to the root supervisor, whose strategy decides what to do
// (spec §2 data flow: "Failures are reported upward"). The loop ends when
// the inbox is closed by UnregisterInbox.
func (m *Manager) pump(id capability.ComponentID, childID uuid.UUID, inbox <-chan messaging.Envelope) {
	for env := range inbox {
		err := m.Dispatch(context.Background(), id, env)
		if err == nil {
			continue
		}
		m.log.Warn("message handling failed",
			telemetry.String("component_id", id.String()),
			telemetry.String("kind", apierrors.Classify(err).String()),
			telemetry.Err(err))

		root, ok := m.tree.Supervisor(m.rootID)
		if !ok {
			continue
		}
		decision, derr := root.HandleChildError(childID, err)
		if derr != nil {
			continue
		}
		if execErr := root.Execute(context.Background(), decision); execErr != nil {
			m.log.Error("supervision decision failed", telemetry.String("component_id", id.String()), telemetry.Err(execErr))
		}
	}
}

// StopComponent stops and deregisters id: the supervisor's stop-child
// protocol, then the broker inbox, registry entry, and any correlations
// still pending for it.
func (m *Manager) StopComponent(ctx context.Context, id capability.ComponentID) error {
	if err := m.requireRunning(); err != nil {
		return err
	}
	return m.stopComponent(ctx, id)
}

// stopComponent is StopComponent without the running guard, shared with
// Shutdown (which has already flipped the flag to block new spawns).
func (m *Manager) stopComponent(ctx context.Context, id capability.ComponentID) error {
	rec, err := m.lookupRecord(id)
	if err != nil {
		return err
	}

	root, ok := m.tree.Supervisor(m.rootID)
	if !ok {
		return apierrors.Wrap(apierrors.ErrInternal, "root supervisor missing", nil)
	}

	stopErr := root.StopChild(ctx, rec.childID, 0)

	m.broker.UnregisterInbox(id)
	m.reg.Unregister(id)
	m.tracker.CleanupPendingForComponent(id)

	m.mu.Lock()
	delete(m.actors, id)
	m.mu.Unlock()

	m.log.Info("component stopped", telemetry.String("component_id", id.String()))
	return stopErr
}

// RestartComponent stops id (best effort) and spawns it again from
// wasmPath with the supplied limits and capabilities, matching spec
// §4.5's restart_component: a fresh instance, not a resume of the old one.
func (m *Manager) RestartComponent(ctx context.Context, id capability.ComponentID, wasmPath string, limits engine.ResourceLimits, caps capability.CapabilitySet) error {
	if err := m.requireRunning(); err != nil {
		return err
	}
	if _, err := m.lookupRecord(id); err == nil {
		if err := m.StopComponent(ctx, id); err != nil {
			m.log.Warn("restart: stop of previous instance failed, continuing", telemetry.String("component_id", id.String()), telemetry.Err(err))
		}
	}
	return m.SpawnComponent(ctx, id, wasmPath, limits, caps)
}

// GetComponentStatus reports id's current lifecycle state, derived
// health, and failure reason. Errors with ErrNotInitialized once the host
// has shut down, and ErrComponentNotFound for an unknown id.
func (m *Manager) GetComponentStatus(id capability.ComponentID) (Status, error) {
	if err := m.requireRunning(); err != nil {
		return Status{}, err
	}
	rec, err := m.lookupRecord(id)
	if err != nil {
		return Status{}, err
	}

	root, ok := m.tree.Supervisor(m.rootID)
	if !ok {
		return Status{}, apierrors.Wrap(apierrors.ErrInternal, "root supervisor missing", nil)
	}
	child, ok := root.ChildAt(rec.childID)
	if !ok {
		return Status{}, apierrors.Wrap(apierrors.ErrChildNotFound, id.String(), nil)
	}
	mc, ok := child.(messagableChild)
	if !ok {
		return Status{Registered: true, Health: child.Health(context.Background())}, nil
	}
	return Status{
		Registered: true,
		State:      mc.State(),
		Health:     mc.Health(context.Background()),
		Failure:    mc.FailureReason(),
	}, nil
}

// IsComponentRegistered reports whether id is currently spawned.
func (m *Manager) IsComponentRegistered(id capability.ComponentID) bool {
	return m.reg.IsRegistered(id)
}

// Dispatch delivers msg to id's running instance directly, bypassing the
// broker's channel — used for synchronous call paths (e.g. a test driving
// a component's message handler without a full broker round trip).
func (m *Manager) Dispatch(ctx context.Context, id capability.ComponentID, msg messaging.Envelope) error {
	rec, err := m.lookupRecord(id)
	if err != nil {
		return err
	}
	root, ok := m.tree.Supervisor(m.rootID)
	if !ok {
		return apierrors.Wrap(apierrors.ErrInternal, "root supervisor missing", nil)
	}
	child, ok := root.ChildAt(rec.childID)
	if !ok {
		return apierrors.Wrap(apierrors.ErrComponentNotFound, id.String(), nil)
	}
	mc, ok := child.(messagableChild)
	if !ok {
		return apierrors.Wrap(apierrors.ErrInternal, "child does not support message dispatch", nil)
	}
	if msg.Type == messaging.Response {
		return mc.HandleCallback(ctx, msg)
	}
	return mc.HandleMessage(ctx, msg)
}

// Shutdown idempotently stops every spawned component, then tears down
// the supervisor tree. Per-component stop errors are collected and
// logged, never fatal to the overall shutdown (spec §4.5 "shutdown()...
// errors are collected and logged, not fatal").
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	ids := make([]capability.ComponentID, 0, len(m.actors))
	for id := range m.actors {
		ids = append(ids, id)
	}
	m.shutdown = true
	m.mu.Unlock()

	close(m.sweepStop)

	for _, id := range ids {
		if err := m.stopComponent(ctx, id); err != nil {
			m.log.Warn("shutdown: component stop failed, continuing", telemetry.String("component_id", id.String()), telemetry.Err(err))
		}
	}

	m.tracker.Drain()
	if err := m.tree.Shutdown(ctx); err != nil {
		m.log.Warn("shutdown: supervisor tree teardown failed", telemetry.Err(err))
		return err
	}
	m.log.Info("host shutdown complete")
	return nil
}

func (m *Manager) requireRunning() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return apierrors.Wrap(apierrors.ErrNotInitialized, "manager has been shut down", nil)
	}
	return nil
}

func (m *Manager) lookupRecord(id capability.ComponentID) (componentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.actors[id]
	if !ok {
		return componentRecord{}, apierrors.Wrap(apierrors.ErrComponentNotFound, id.String(), nil)
	}
	return rec, nil
}

// messagableChild is the subset of *actor.ComponentActor's API (promoted
// through actorChild) a Manager needs beyond the bare supervisor.Child
// contract: direct message delivery and status introspection.
type messagableChild interface {
	supervisor.Child
	HandleMessage(ctx context.Context, msg messaging.Envelope) error
	HandleCallback(ctx context.Context, msg messaging.Envelope) error
	State() actor.State
	FailureReason() actor.FailureReason
}
