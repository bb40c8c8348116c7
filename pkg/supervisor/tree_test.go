package supervisor

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeCreateRootAndChildSupervisor(t *testing.T) {
	tree := NewTree(nil)
	root, err := tree.CreateSupervisor(uuid.Nil, OneForOne)
	require.NoError(t, err)
	require.Len(t, tree.Roots(), 1)

	child, err := tree.CreateSupervisor(root.ID, OneForAll)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, child.ID)
}

func TestTreeCreateSupervisorUnknownParentErrors(t *testing.T) {
	tree := NewTree(nil)
	_, err := tree.CreateSupervisor(uuid.New(), OneForOne)
	assert.Error(t, err)
}

func TestTreeRemoveSupervisorRemovesDescendantsFirst(t *testing.T) {
	tree := NewTree(nil)
	root, err := tree.CreateSupervisor(uuid.Nil, OneForOne)
	require.NoError(t, err)
	child, err := tree.CreateSupervisor(root.ID, OneForOne)
	require.NoError(t, err)

	require.NoError(t, tree.RemoveSupervisor(context.Background(), root.ID))

	_, ok := tree.Supervisor(root.ID)
	assert.False(t, ok)
	_, ok = tree.Supervisor(child.ID)
	assert.False(t, ok)
	assert.Empty(t, tree.Roots())
}

func TestTreeShutdownRemovesEveryRoot(t *testing.T) {
	tree := NewTree(nil)
	_, err := tree.CreateSupervisor(uuid.Nil, OneForOne)
	require.NoError(t, err)
	_, err = tree.CreateSupervisor(uuid.Nil, OneForOne)
	require.NoError(t, err)

	require.NoError(t, tree.Shutdown(context.Background()))
	assert.Empty(t, tree.Roots())
}

func TestTreeEscalateErrorAtRootIsIntegrityViolation(t *testing.T) {
	tree := NewTree(nil)
	root, err := tree.CreateSupervisor(uuid.Nil, OneForOne)
	require.NoError(t, err)

	err = tree.EscalateError(context.Background(), root.ID, assertErr)
	assert.Error(t, err)
}

func TestTreeEscalateErrorForwardsToParent(t *testing.T) {
	tree := NewTree(nil)
	root, err := tree.CreateSupervisor(uuid.Nil, OneForOne)
	require.NoError(t, err)
	child, err := tree.CreateSupervisor(root.ID, OneForOne)
	require.NoError(t, err)

	err = tree.EscalateError(context.Background(), child.ID, assertErr)
	assert.NoError(t, err)

	events := root.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, "StrategyApplied", events[len(events)-1].Kind)
}
