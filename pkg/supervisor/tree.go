package supervisor

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nmxmxh/wasmrt/internal/telemetry"
	"github.com/nmxmxh/wasmrt/pkg/apierrors"
)

type treeNode struct {
	supervisor *SupervisorNode
	parent     uuid.UUID
	hasParent  bool
	children   []uuid.UUID
}

// Tree owns supervisors keyed by uuid, implementing create/remove/
// shutdown/escalate exactly per spec §4.4 "Tree behavior". Grounded on
// original_source/airssys-rt/src/supervisor/tree.rs for the shape of
// these operations; descendant removal here is an iterative worklist
// instead of recursion, since Go has no stack-depth concern that would
// require the boxed-future treatment the Rust original uses for async
// recursion (Open Question resolution, see DESIGN.md).
type Tree struct {
	mu    sync.Mutex
	nodes map[uuid.UUID]*treeNode
	roots []uuid.UUID
	log   *telemetry.Logger
}

// NewTree returns an empty supervisor tree.
func NewTree(log *telemetry.Logger) *Tree {
	if log == nil {
		log = telemetry.Default("supervisor-tree")
	}
	return &Tree{nodes: make(map[uuid.UUID]*treeNode), log: log}
}

// CreateSupervisor creates a new supervisor under parent. A zero-value
// parent (uuid.Nil) creates a root supervisor.
func (t *Tree) CreateSupervisor(parent uuid.UUID, strategy Strategy) (*SupervisorNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hasParent := parent != uuid.Nil
	if hasParent {
		if _, ok := t.nodes[parent]; !ok {
			return nil, apierrors.Wrap(apierrors.ErrChildNotFound, "parent supervisor "+parent.String(), nil)
		}
	}

	node := NewSupervisorNode(strategy, t.log)
	t.nodes[node.ID] = &treeNode{supervisor: node, parent: parent, hasParent: hasParent}

	if hasParent {
		t.nodes[parent].children = append(t.nodes[parent].children, node.ID)
	} else {
		t.roots = append(t.roots, node.ID)
	}
	return node, nil
}

// RemoveSupervisor removes the supervisor id and, first, every
// descendant, using an explicit stack-based worklist (no recursion).
func (t *Tree) RemoveSupervisor(ctx context.Context, id uuid.UUID) error {
	t.mu.Lock()
	_, ok := t.nodes[id]
	t.mu.Unlock()
	if !ok {
		return apierrors.Wrap(apierrors.ErrChildNotFound, id.String(), nil)
	}

	order := t.descendantsPostOrder(id)
	for _, nodeID := range order {
		t.mu.Lock()
		node := t.nodes[nodeID]
		t.mu.Unlock()
		if node == nil {
			continue
		}
		if err := node.supervisor.StopAll(ctx); err != nil {
			t.log.Warn("supervisor stop-all failed during removal", telemetry.String("supervisor_id", nodeID.String()), telemetry.Err(err))
		}
		t.detach(nodeID)
	}
	return nil
}

// descendantsPostOrder returns id's subtree (id last) via an iterative
// depth-first walk, so RemoveSupervisor stops leaves before their
// ancestors.
func (t *Tree) descendantsPostOrder(id uuid.UUID) []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var preOrder []uuid.UUID
	stack := []uuid.UUID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		preOrder = append(preOrder, cur)
		if node := t.nodes[cur]; node != nil {
			stack = append(stack, node.children...)
		}
	}

	// Reverse to approximate post-order (children before the parent that
	// queued them); exact leaf-to-root order isn't required by the spec,
	// only "descendants first, then the node itself".
	out := make([]uuid.UUID, len(preOrder))
	for i, v := range preOrder {
		out[len(preOrder)-1-i] = v
	}
	return out
}

func (t *Tree) detach(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	node, ok := t.nodes[id]
	if !ok {
		return
	}
	delete(t.nodes, id)
	if node.hasParent {
		if parent := t.nodes[node.parent]; parent != nil {
			parent.children = removeID(parent.children, id)
		}
	} else {
		t.roots = removeID(t.roots, id)
	}
}

func removeID(ids []uuid.UUID, target uuid.UUID) []uuid.UUID {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// Shutdown removes every root supervisor (and, transitively, all of
// their descendants). Independent root subtrees share no state, so they
// are torn down concurrently via errgroup rather than one at a time.
func (t *Tree) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	roots := append([]uuid.UUID{}, t.roots...)
	t.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range roots {
		id := id
		g.Go(func() error {
			return t.RemoveSupervisor(gctx, id)
		})
	}
	return g.Wait()
}

// EscalateError forwards err from supervisor id to its parent's error
// handling. At the root, an unrecoverable error becomes a tree-integrity
// violation (spec §4.4).
func (t *Tree) EscalateError(ctx context.Context, id uuid.UUID, err error) error {
	t.mu.Lock()
	node, ok := t.nodes[id]
	t.mu.Unlock()
	if !ok {
		return apierrors.Wrap(apierrors.ErrChildNotFound, id.String(), nil)
	}

	if !node.hasParent {
		return apierrors.Wrap(apierrors.ErrTreeIntegrityViolation, "unrecoverable error at root supervisor "+id.String(), err)
	}

	t.mu.Lock()
	parent := t.nodes[node.parent]
	t.mu.Unlock()
	if parent == nil {
		return apierrors.Wrap(apierrors.ErrTreeIntegrityViolation, "parent supervisor missing for "+id.String(), err)
	}

	// The failing entity is a sub-supervisor, not a Child registered via
	// StartChild, so the parent applies its strategy directly over its
	// tree-children (siblings) rather than through HandleChildError/
	// Execute, which operate on the Child registry.
	t.mu.Lock()
	siblings := append([]uuid.UUID{}, parent.children...)
	t.mu.Unlock()

	decision := parent.supervisor.Strategy.Apply(StrategyContext{FailedID: id, AllIDs: siblings})
	decision.Reason = err
	parent.supervisor.recordStrategyApplied(decision)

	if decision.Kind == Escalate {
		return t.EscalateError(ctx, node.parent, err)
	}
	return nil
}

// Supervisor looks up a supervisor by id.
func (t *Tree) Supervisor(id uuid.UUID) (*SupervisorNode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	node, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	return node.supervisor, true
}

// Roots returns the current root supervisor ids.
func (t *Tree) Roots() []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uuid.UUID{}, t.roots...)
}
