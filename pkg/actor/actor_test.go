package actor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/wasmrt/pkg/capability"
	"github.com/nmxmxh/wasmrt/pkg/engine"
	"github.com/nmxmxh/wasmrt/pkg/messaging"
)

type noHostFunctions struct{}

func (noHostFunctions) Names() []string { return nil }

func (noHostFunctions) Invoke(context.Context, string, []byte) ([]byte, error) { return nil, nil }

func validWASM() []byte {
	return append([]byte{0x00, 0x61, 0x73, 0x6d}, []byte("rest")...)
}

func TestComponentActorStartReachesReady(t *testing.T) {
	fake := engine.NewFakeEngine()
	a := New(Spec{
		ID:        capability.NewComponentID("ns", "comp", "1"),
		WASMBytes: validWASM(),
		Engine:    fake,
		HostFns:   noHostFunctions{},
	}, nil)

	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, Ready, a.State())
	assert.Equal(t, Healthy, a.Health(context.Background()))
}

func TestComponentActorStartRejectsBadMagic(t *testing.T) {
	fake := engine.NewFakeEngine()
	a := New(Spec{
		ID:        capability.NewComponentID("ns", "comp", "1"),
		WASMBytes: []byte("not wasm"),
		Engine:    fake,
		HostFns:   noHostFunctions{},
	}, nil)

	err := a.Start(context.Background())
	assert.Error(t, err)
	assert.Equal(t, Failed, a.State())
	assert.Equal(t, Unhealthy, a.Health(context.Background()))
}

func TestComponentActorStartFailurePropagatesFromEngine(t *testing.T) {
	fake := engine.NewFakeEngine()
	fake.SetHook("start", func(string) error { return assert.AnError })

	a := New(Spec{
		ID:        capability.NewComponentID("ns", "comp", "1"),
		WASMBytes: validWASM(),
		Engine:    fake,
		HostFns:   noHostFunctions{},
	}, nil)

	err := a.Start(context.Background())
	assert.Error(t, err)
	assert.Equal(t, Failed, a.State())
	assert.Equal(t, "start", a.FailureReason().Stage)
}

func TestComponentActorStopTransitionsToTerminated(t *testing.T) {
	fake := engine.NewFakeEngine()
	a := New(Spec{
		ID:        capability.NewComponentID("ns", "comp", "1"),
		WASMBytes: validWASM(),
		Engine:    fake,
		HostFns:   noHostFunctions{},
	}, nil)

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop(context.Background()))
	assert.Equal(t, Terminated, a.State())
	assert.Equal(t, Unhealthy, a.Health(context.Background()))
}

func TestComponentActorStopSurvivesCleanupFailure(t *testing.T) {
	fake := engine.NewFakeEngine()
	fake.SetHook("cleanup", func(string) error { return assert.AnError })

	a := New(Spec{
		ID:        capability.NewComponentID("ns", "comp", "1"),
		WASMBytes: validWASM(),
		Engine:    fake,
		HostFns:   noHostFunctions{},
	}, nil)

	require.NoError(t, a.Start(context.Background()))
	err := a.Stop(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, Terminated, a.State())
}

func TestComponentActorHandleMessageRequiresLoadedHandle(t *testing.T) {
	fake := engine.NewFakeEngine()
	a := New(Spec{
		ID:        capability.NewComponentID("ns", "comp", "1"),
		WASMBytes: validWASM(),
		Engine:    fake,
		HostFns:   noHostFunctions{},
	}, nil)

	from := capability.NewComponentID("ns", "x", "1")
	env := messaging.NewEnvelope(from, a.ID(), messaging.CodecRaw, []byte("hi"))
	err := a.HandleMessage(context.Background(), env)
	assert.Error(t, err)
}

func TestComponentActorHandleMessageDeliversToEngine(t *testing.T) {
	fake := engine.NewFakeEngine()
	a := New(Spec{
		ID:        capability.NewComponentID("ns", "comp", "1"),
		WASMBytes: validWASM(),
		Engine:    fake,
		HostFns:   noHostFunctions{},
	}, nil)
	require.NoError(t, a.Start(context.Background()))

	from := capability.NewComponentID("ns", "x", "1")
	env := messaging.NewEnvelope(from, a.ID(), messaging.CodecRaw, []byte("hi"))
	require.NoError(t, a.HandleMessage(context.Background(), env))
}

func TestDeriveHealthMatrix(t *testing.T) {
	assert.Equal(t, Healthy, DeriveHealth(Ready, true))
	assert.Equal(t, Unhealthy, DeriveHealth(Ready, false))
	assert.Equal(t, Degraded, DeriveHealth(Creating, false))
	assert.Equal(t, Degraded, DeriveHealth(Starting, false))
	assert.Equal(t, Degraded, DeriveHealth(Stopping, true))
	assert.Equal(t, Unhealthy, DeriveHealth(Failed, false))
	assert.Equal(t, Unhealthy, DeriveHealth(Terminated, false))
}

func TestHealthProbeHardTimeout(t *testing.T) {
	fake := engine.NewFakeEngine()
	a := New(Spec{
		ID:        capability.NewComponentID("ns", "comp", "1"),
		WASMBytes: validWASM(),
		Engine:    fake,
		HostFns:   noHostFunctions{},
	}, nil)

	start := time.Now()
	h := a.Health(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, Degraded, h)
}
