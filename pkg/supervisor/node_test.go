package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/wasmrt/pkg/apierrors"
)

type fakeChild struct {
	startErr   error
	stopErr    error
	starts     int32
	stops      int32
	blockStart time.Duration
}

func (c *fakeChild) Start(ctx context.Context) error {
	atomic.AddInt32(&c.starts, 1)
	if c.blockStart > 0 {
		select {
		case <-time.After(c.blockStart):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.startErr
}

func (c *fakeChild) Stop(ctx context.Context) error {
	atomic.AddInt32(&c.stops, 1)
	return c.stopErr
}

func (c *fakeChild) Health(ctx context.Context) Health { return Healthy }

func TestSupervisorNodeStartAndStopChild(t *testing.T) {
	child := &fakeChild{}
	node := NewSupervisorNode(OneForOne, nil)
	spec, err := NewChildSpecBuilder(uuid.Nil, func() Child { return child }).Build()
	require.NoError(t, err)

	require.NoError(t, node.StartChild(context.Background(), spec))
	ids := node.ChildIDs()
	require.Len(t, ids, 1)

	require.NoError(t, node.StopChild(context.Background(), ids[0], 0))
	assert.Empty(t, node.ChildIDs())
	assert.EqualValues(t, 1, child.stops)
}

func TestSupervisorNodeRestartChildUsesFreshInstance(t *testing.T) {
	first := &fakeChild{}
	calls := 0
	factory := func() Child {
		calls++
		if calls == 1 {
			return first
		}
		return &fakeChild{}
	}

	node := NewSupervisorNode(OneForOne, nil)
	spec, err := NewChildSpecBuilder(uuid.Nil, factory).Build()
	require.NoError(t, err)
	require.NoError(t, node.StartChild(context.Background(), spec))
	id := node.ChildIDs()[0]

	require.NoError(t, node.RestartChild(context.Background(), id))
	assert.Equal(t, 2, calls)
}

func TestSupervisorNodeRestartLimitExceededIsTerminal(t *testing.T) {
	node := NewSupervisorNode(OneForOne, nil)
	spec, err := NewChildSpecBuilder(uuid.Nil, func() Child { return &fakeChild{} }).
		WithRestartLimit(2, time.Minute).Build()
	require.NoError(t, err)
	require.NoError(t, node.StartChild(context.Background(), spec))
	id := node.ChildIDs()[0]

	require.NoError(t, node.RestartChild(context.Background(), id))
	require.NoError(t, node.RestartChild(context.Background(), id))

	err = node.RestartChild(context.Background(), id)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrRestartLimitExceeded)

	state, ok := node.ChildStateOf(id)
	require.True(t, ok)
	assert.Equal(t, ChildRestartLimitExceeded, state)
}

func TestSupervisorNodeRestartCounterResetsOutsideWindow(t *testing.T) {
	node := NewSupervisorNode(OneForOne, nil)
	spec, err := NewChildSpecBuilder(uuid.Nil, func() Child { return &fakeChild{} }).
		WithRestartLimit(1, 20*time.Millisecond).Build()
	require.NoError(t, err)
	require.NoError(t, node.StartChild(context.Background(), spec))
	id := node.ChildIDs()[0]

	require.NoError(t, node.RestartChild(context.Background(), id))
	time.Sleep(40 * time.Millisecond)
	assert.NoError(t, node.RestartChild(context.Background(), id))
}

func TestSupervisorNodeTemporaryChildNeverRestarts(t *testing.T) {
	node := NewSupervisorNode(OneForOne, nil)
	spec, err := NewChildSpecBuilder(uuid.Nil, func() Child { return &fakeChild{} }).
		WithRestartPolicy(Temporary).Build()
	require.NoError(t, err)
	require.NoError(t, node.StartChild(context.Background(), spec))
	id := node.ChildIDs()[0]

	for i := 0; i < 3; i++ {
		decision, err := node.HandleChildError(id, assertErr)
		require.NoError(t, err)
		assert.Equal(t, StopChild, decision.Kind)
	}
	assert.Equal(t, 0, node.ChildRestartCount(id))
}

func TestSupervisorNodeHandleChildErrorOneForOne(t *testing.T) {
	node := NewSupervisorNode(OneForOne, nil)
	spec, err := NewChildSpecBuilder(uuid.Nil, func() Child { return &fakeChild{} }).
		WithRestartPolicy(Permanent).Build()
	require.NoError(t, err)
	require.NoError(t, node.StartChild(context.Background(), spec))
	id := node.ChildIDs()[0]

	decision, err := node.HandleChildError(id, assertErr)
	require.NoError(t, err)
	assert.Equal(t, RestartChild, decision.Kind)
	assert.Equal(t, []uuid.UUID{id}, decision.IDs)
}

func TestSupervisorNodeHandleChildErrorTemporaryStops(t *testing.T) {
	node := NewSupervisorNode(OneForOne, nil)
	spec, err := NewChildSpecBuilder(uuid.Nil, func() Child { return &fakeChild{} }).
		WithRestartPolicy(Temporary).Build()
	require.NoError(t, err)
	require.NoError(t, node.StartChild(context.Background(), spec))
	id := node.ChildIDs()[0]

	decision, err := node.HandleChildError(id, assertErr)
	require.NoError(t, err)
	assert.Equal(t, StopChild, decision.Kind)
}

func TestSupervisorNodeChildOrderMirrorsRegistry(t *testing.T) {
	node := NewSupervisorNode(RestForOne, nil)
	for i := 0; i < 4; i++ {
		spec, err := NewChildSpecBuilder(uuid.Nil, func() Child { return &fakeChild{} }).Build()
		require.NoError(t, err)
		require.NoError(t, node.StartChild(context.Background(), spec))
	}
	ids := node.ChildIDs()
	require.Len(t, ids, 4)

	// Remove a middle child; relative order of the rest is preserved and
	// the ordered list stays in lockstep with the registry.
	require.NoError(t, node.StopChild(context.Background(), ids[1], 0))
	remaining := node.ChildIDs()
	assert.Equal(t, []uuid.UUID{ids[0], ids[2], ids[3]}, remaining)
	for _, id := range remaining {
		_, ok := node.ChildAt(id)
		assert.True(t, ok)
	}
}

func TestSupervisorNodeExecuteRestForOneLeavesEarlierChildrenAlone(t *testing.T) {
	node := NewSupervisorNode(RestForOne, nil)
	children := make([]*fakeChild, 4)
	for i := range children {
		i := i
		children[i] = &fakeChild{}
		spec, err := NewChildSpecBuilder(uuid.Nil, func() Child { return children[i] }).
			WithRestartPolicy(Permanent).Build()
		require.NoError(t, err)
		require.NoError(t, node.StartChild(context.Background(), spec))
	}
	ids := node.ChildIDs()

	decision, err := node.HandleChildError(ids[1], assertErr)
	require.NoError(t, err)
	assert.Equal(t, RestartSubset, decision.Kind)
	assert.Equal(t, []uuid.UUID{ids[1], ids[2], ids[3]}, decision.IDs)

	require.NoError(t, node.Execute(context.Background(), decision))

	assert.EqualValues(t, 1, atomic.LoadInt32(&children[0].starts))
	for _, c := range children[1:] {
		assert.EqualValues(t, 2, atomic.LoadInt32(&c.starts))
	}
}

var assertErr = &testErr{"boom"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
