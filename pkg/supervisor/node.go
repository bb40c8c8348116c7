package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nmxmxh/wasmrt/internal/telemetry"
	"github.com/nmxmxh/wasmrt/pkg/apierrors"
)

// restartStormRate and restartStormBurst bound how many restarts a whole
// node will attempt in a short window, independent of any single child's
// own RestartCounter — a crash-looping child shouldn't be able to starve
// its siblings' restart attempts of CPU by triggering an unbounded flood
// of factory/Start calls.
const (
	restartStormRate  = rate.Limit(10) // restarts/sec across the whole node
	restartStormBurst = 10
)

// Health is a Child's self-reported status, decoupled from any particular
// Child implementation (spec glossary: "any supervised entity exposing
// start/stop/health").
type Health int

const (
	Healthy Health = iota
	Degraded
	Unhealthy
)

// Child is the narrow contract every supervised entity implements.
// pkg/actor.ComponentActor matches this shape except that its Health
// returns actor.Health; pkg/host wraps it in an adapter that translates
// Health so it satisfies Child.
type Child interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) Health
}

// ChildSpec is the immutable description of one supervised child,
// produced by ChildSpecBuilder.Build (spec §4.4 "Start-child protocol").
// MaxRestarts/RestartWindow bound the sliding-window restart counter; zero
// values fall back to the package defaults (5 per 60s).
type ChildSpec struct {
	ID             uuid.UUID
	Name           string
	Factory        func() Child
	RestartPolicy  RestartPolicy
	ShutdownPolicy ShutdownPolicy
	Backoff        BackoffPolicy
	StartTimeout   time.Duration
	MaxRestarts    int
	RestartWindow  time.Duration
}

// Event is emitted by a SupervisorNode as it runs the child protocols,
// letting callers observe ChildStarted/ChildRestarted/StrategyApplied
// without polling.
type Event struct {
	Kind     string
	ChildID  uuid.UUID
	Decision *SupervisionDecision
}

// ChildState tracks a child's lifecycle from the supervisor's point of
// view, independent of whatever internal state machine the Child
// implementation itself runs. ChildRestartLimitExceeded is terminal: the
// supervisor gives up on the child but keeps the handle so callers can
// observe why it is gone.
type ChildState int

const (
	ChildStarting ChildState = iota
	ChildRunning
	ChildStopping
	ChildStopped
	ChildFailed
	ChildRestarting
	ChildRestartLimitExceeded
)

func (s ChildState) String() string {
	switch s {
	case ChildStarting:
		return "starting"
	case ChildRunning:
		return "running"
	case ChildStopping:
		return "stopping"
	case ChildStopped:
		return "stopped"
	case ChildFailed:
		return "failed"
	case ChildRestarting:
		return "restarting"
	case ChildRestartLimitExceeded:
		return "restart_limit_exceeded"
	default:
		return "unknown"
	}
}

type childEntry struct {
	spec         ChildSpec
	child        Child
	state        ChildState
	backoff      *RestartCounter
	attempt      int
	restartCount int
	lastRestart  time.Time
	startTime    time.Time
}

// SupervisorNode owns a strategy and a set of children, implementing the
// start/stop/restart-child protocols and error-handling dispatch of spec
// §4.4.
type SupervisorNode struct {
	ID       uuid.UUID
	Strategy Strategy

	mu             sync.Mutex
	children       map[uuid.UUID]*childEntry
	orderedIDs     []uuid.UUID
	log            *telemetry.Logger
	events         []Event
	restartLimiter *rate.Limiter
}

// NewSupervisorNode returns an empty node with the given strategy.
func NewSupervisorNode(strategy Strategy, log *telemetry.Logger) *SupervisorNode {
	if log == nil {
		log = telemetry.Default("supervisor")
	}
	return &SupervisorNode{
		ID:             uuid.New(),
		Strategy:       strategy,
		children:       make(map[uuid.UUID]*childEntry),
		log:            log,
		restartLimiter: rate.NewLimiter(restartStormRate, restartStormBurst),
	}
}

// StartChild runs the start-child protocol: materialize a fresh child via
// the factory, start it, and record it in the id map and ordered list.
func (n *SupervisorNode) StartChild(ctx context.Context, spec ChildSpec) error {
	if spec.ID == uuid.Nil {
		spec.ID = uuid.New()
	}
	child := spec.Factory()

	startCtx := ctx
	var cancel context.CancelFunc
	if spec.StartTimeout > 0 {
		startCtx, cancel = context.WithTimeout(ctx, spec.StartTimeout)
		defer cancel()
	}

	if err := child.Start(startCtx); err != nil {
		return apierrors.Wrap(apierrors.ErrChildStartFailed, spec.ID.String(), err)
	}

	entry := &childEntry{
		spec:      spec,
		child:     child,
		state:     ChildRunning,
		backoff:   NewRestartCounter(spec.MaxRestarts, spec.RestartWindow),
		startTime: time.Now(),
	}

	n.mu.Lock()
	n.children[spec.ID] = entry
	n.orderedIDs = append(n.orderedIDs, spec.ID)
	n.events = append(n.events, Event{Kind: "ChildStarted", ChildID: spec.ID})
	n.mu.Unlock()

	n.log.Info("child started", telemetry.String("child_id", spec.ID.String()))
	return nil
}

// StopChild runs the stop-child protocol: transition to Stopping,
// compute the effective timeout, call stop, and remove the child
// regardless of whether stop returned an error or timed out (spec §4.4
// "on timeout -> Stopped anyway, we must unblock").
func (n *SupervisorNode) StopChild(ctx context.Context, id uuid.UUID, callerTimeout time.Duration) error {
	n.mu.Lock()
	entry, ok := n.children[id]
	n.mu.Unlock()
	if !ok {
		return apierrors.Wrap(apierrors.ErrChildNotFound, id.String(), nil)
	}

	entry.state = ChildStopping
	timeout := entry.spec.ShutdownPolicy.EffectiveTimeout(callerTimeout)

	stopCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		stopCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- entry.child.Stop(stopCtx) }()

	var stopErr error
	select {
	case stopErr = <-done:
	case <-stopCtx.Done():
		stopErr = nil // unblock regardless; stop is considered best-effort on timeout
	}

	if stopErr != nil {
		entry.state = ChildFailed
	} else {
		entry.state = ChildStopped
	}
	n.removeChild(id)

	if stopErr != nil {
		return apierrors.Wrap(apierrors.ErrChildStopFailed, id.String(), stopErr)
	}
	return nil
}

func (n *SupervisorNode) removeChild(id uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.children, id)
	for i, existing := range n.orderedIDs {
		if existing == id {
			n.orderedIDs = append(n.orderedIDs[:i], n.orderedIDs[i+1:]...)
			break
		}
	}
}

// RestartChild runs the restart-child protocol: if the per-child backoff
// window allows another attempt, compute the delay, sleep, record the
// attempt, stop the old instance (best effort), and start a fresh one via
// the factory (spec §4.4: "Restart uses the child spec's factory to
// produce a fresh instance").
func (n *SupervisorNode) RestartChild(ctx context.Context, id uuid.UUID) error {
	n.mu.Lock()
	entry, ok := n.children[id]
	n.mu.Unlock()
	if !ok {
		return apierrors.Wrap(apierrors.ErrChildNotFound, id.String(), nil)
	}

	if !n.restartLimiter.Allow() {
		return apierrors.Wrap(apierrors.ErrRestartLimitExceeded, "node-wide restart storm limit", nil)
	}

	now := time.Now()
	if !entry.backoff.Allow(now) {
		n.mu.Lock()
		entry.state = ChildRestartLimitExceeded
		n.mu.Unlock()
		return apierrors.Wrap(apierrors.ErrRestartLimitExceeded, id.String(), nil)
	}

	n.mu.Lock()
	entry.state = ChildRestarting
	n.mu.Unlock()

	entry.attempt++
	delay := entry.spec.Backoff.Delay(entry.attempt)
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	entry.backoff.Record(time.Now())

	if err := entry.child.Stop(ctx); err != nil {
		n.log.Warn("best-effort stop before restart failed", telemetry.String("child_id", id.String()), telemetry.Err(err))
	}

	fresh := entry.spec.Factory()
	if err := fresh.Start(ctx); err != nil {
		n.mu.Lock()
		entry.state = ChildFailed
		n.mu.Unlock()
		return apierrors.Wrap(apierrors.ErrChildStartFailed, id.String(), err)
	}

	n.mu.Lock()
	entry.child = fresh
	entry.state = ChildRunning
	entry.restartCount++
	entry.lastRestart = time.Now()
	n.events = append(n.events, Event{Kind: "ChildRestarted", ChildID: id})
	n.mu.Unlock()

	n.log.Info("child restarted", telemetry.String("child_id", id.String()), telemetry.Int("attempt", entry.attempt))
	return nil
}

// HandleChildError computes the supervision decision for a failed child
// using this node's strategy, records a StrategyApplied event, and
// returns the decision for the caller to execute (spec §4.4
// "Error handling").
func (n *SupervisorNode) HandleChildError(id uuid.UUID, childErr error) (SupervisionDecision, error) {
	n.mu.Lock()
	entry, ok := n.children[id]
	allIDs := append([]uuid.UUID{}, n.orderedIDs...)
	n.mu.Unlock()
	if !ok {
		return SupervisionDecision{}, apierrors.Wrap(apierrors.ErrChildNotFound, id.String(), nil)
	}

	if !entry.spec.RestartPolicy.ShouldRestart(childErr != nil) {
		decision := SupervisionDecision{Kind: StopChild, IDs: []uuid.UUID{id}, Reason: childErr}
		n.recordStrategyApplied(decision)
		return decision, nil
	}

	decision := n.Strategy.Apply(StrategyContext{FailedID: id, AllIDs: allIDs})
	decision.Reason = childErr
	n.recordStrategyApplied(decision)
	return decision, nil
}

func (n *SupervisorNode) recordStrategyApplied(decision SupervisionDecision) {
	n.mu.Lock()
	n.events = append(n.events, Event{Kind: "StrategyApplied", Decision: &decision})
	n.mu.Unlock()
}

// Execute carries out a SupervisionDecision: restarting, stopping, or
// escalating as directed. Escalate returns the decision's Reason (or a
// generic internal error) for the caller's own escalation path to
// forward up the tree.
func (n *SupervisorNode) Execute(ctx context.Context, d SupervisionDecision) error {
	switch d.Kind {
	case RestartChild, RestartAll, RestartSubset:
		var firstErr error
		for _, id := range d.IDs {
			if err := n.RestartChild(ctx, id); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	case StopChild:
		var firstErr error
		for _, id := range d.IDs {
			if err := n.StopChild(ctx, id, 0); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	case StopAll:
		return n.StopAll(ctx)
	case Escalate:
		if d.Reason != nil {
			return d.Reason
		}
		return fmt.Errorf("supervisor %s: escalated with no reason", n.ID)
	default:
		return fmt.Errorf("supervisor %s: unknown decision kind %d", n.ID, d.Kind)
	}
}

// StopAll stops every child owned by this node, in reverse start order.
func (n *SupervisorNode) StopAll(ctx context.Context) error {
	n.mu.Lock()
	ids := append([]uuid.UUID{}, n.orderedIDs...)
	n.mu.Unlock()

	var firstErr error
	for i := len(ids) - 1; i >= 0; i-- {
		if err := n.StopChild(ctx, ids[i], 0); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ChildStateOf returns the supervisor's view of id's lifecycle state.
func (n *SupervisorNode) ChildStateOf(id uuid.UUID) (ChildState, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	entry, ok := n.children[id]
	if !ok {
		return 0, false
	}
	return entry.state, true
}

// ChildRestartCount returns how many times id has been restarted since it
// was first started.
func (n *SupervisorNode) ChildRestartCount(id uuid.UUID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	entry, ok := n.children[id]
	if !ok {
		return 0
	}
	return entry.restartCount
}

// ChildAt returns the currently running Child for id, e.g. after a
// restart has swapped in a fresh instance.
func (n *SupervisorNode) ChildAt(id uuid.UUID) (Child, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	entry, ok := n.children[id]
	if !ok {
		return nil, false
	}
	return entry.child, true
}

// ChildIDs returns the currently supervised children in start order.
func (n *SupervisorNode) ChildIDs() []uuid.UUID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]uuid.UUID{}, n.orderedIDs...)
}

// Events returns every Event recorded so far, oldest first.
func (n *SupervisorNode) Events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event{}, n.events...)
}
