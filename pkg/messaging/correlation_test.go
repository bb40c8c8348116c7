package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/wasmrt/pkg/apierrors"
	"github.com/nmxmxh/wasmrt/pkg/capability"
)

func testRequest(t *testing.T) Envelope {
	t.Helper()
	from := capability.NewComponentID("ns", "caller", "1")
	to := capability.NewComponentID("ns", "callee", "1")
	return NewEnvelope(from, to, CodecRaw, nil).WithCorrelationID("")
}

func TestCorrelationTrackerResolveDeliversResponse(t *testing.T) {
	tracker := NewCorrelationTracker()
	req := testRequest(t)

	replyCh, err := tracker.RegisterPending(req, time.Second)
	require.NoError(t, err)

	resp := NewEnvelope(req.To, req.From, CodecRaw, []byte("ok")).ReplyTo(req)
	require.NoError(t, tracker.Resolve(resp))

	select {
	case got := <-replyCh:
		require.NoError(t, got.Err)
		assert.Equal(t, req.MessageID, got.Response.CorrelationID)
		assert.Equal(t, []byte("ok"), got.Response.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}

	completed, timedOut, pending := tracker.Stats()
	assert.Equal(t, uint64(1), completed)
	assert.Equal(t, uint64(0), timedOut)
	assert.Equal(t, uint64(0), pending)
}

func TestCorrelationTrackerDuplicateRegistrationFails(t *testing.T) {
	tracker := NewCorrelationTracker()
	req := testRequest(t)

	_, err := tracker.RegisterPending(req, time.Minute)
	require.NoError(t, err)

	_, err = tracker.RegisterPending(req, time.Minute)
	assert.Error(t, err)
}

func TestCorrelationTrackerTimesOut(t *testing.T) {
	tracker := NewCorrelationTracker()
	req := testRequest(t)

	replyCh, err := tracker.RegisterPending(req, 10*time.Millisecond)
	require.NoError(t, err)

	select {
	case got := <-replyCh:
		require.Error(t, got.Err)
		assert.ErrorIs(t, got.Err, apierrors.ErrExecutionTimeout)
	case <-time.After(time.Second):
		t.Fatal("expected a timeout reply")
	}

	_, timedOut, pending := tracker.Stats()
	assert.Equal(t, uint64(1), timedOut)
	assert.Equal(t, uint64(0), pending)
}

func TestCorrelationTrackerResolveUnknownIDErrors(t *testing.T) {
	tracker := NewCorrelationTracker()
	resp := Envelope{CorrelationID: "does-not-exist"}
	assert.Error(t, tracker.Resolve(resp))
}

func TestCorrelationTrackerResolveAfterTimeoutErrors(t *testing.T) {
	tracker := NewCorrelationTracker()
	req := testRequest(t)

	replyCh, err := tracker.RegisterPending(req, 5*time.Millisecond)
	require.NoError(t, err)
	<-replyCh

	resp := NewEnvelope(req.To, req.From, CodecRaw, nil).ReplyTo(req)
	assert.Error(t, tracker.Resolve(resp))
}

func TestCorrelationTrackerCleanupExpiredSweepsOverdue(t *testing.T) {
	tracker := NewCorrelationTracker()
	req := testRequest(t)

	// Long timer, but a requestedAt the sweep sees as long overdue.
	replyCh, err := tracker.RegisterPending(req, time.Hour)
	require.NoError(t, err)
	shard := tracker.shardFor(req.MessageID)
	shard.mu.Lock()
	shard.pending[req.MessageID].requestedAt = time.Now().Add(-2 * time.Hour)
	shard.mu.Unlock()

	removed := tracker.CleanupExpired()
	assert.Equal(t, 1, removed)

	got := <-replyCh
	assert.Error(t, got.Err)
}

func TestCorrelationTrackerCleanupPendingForComponent(t *testing.T) {
	tracker := NewCorrelationTracker()

	asSender := testRequest(t)
	replySender, err := tracker.RegisterPending(asSender, time.Minute)
	require.NoError(t, err)

	// The same component as the receiver of someone else's request.
	other := NewEnvelope(
		capability.NewComponentID("ns", "third", "1"),
		asSender.From,
		CodecRaw, nil,
	).WithCorrelationID("")
	replyReceiver, err := tracker.RegisterPending(other, time.Minute)
	require.NoError(t, err)

	unrelated := NewEnvelope(
		capability.NewComponentID("ns", "untouched", "1"),
		capability.NewComponentID("ns", "third", "2"),
		CodecRaw, nil,
	).WithCorrelationID("")
	replyUnrelated, err := tracker.RegisterPending(unrelated, time.Minute)
	require.NoError(t, err)

	tracker.CleanupPendingForComponent(asSender.From)

	for _, ch := range []<-chan PendingReply{replySender, replyReceiver} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("expected cleanup to close the channel")
		}
	}

	select {
	case <-replyUnrelated:
		t.Fatal("unrelated pending request should survive")
	default:
	}

	_, _, pending := tracker.Stats()
	assert.Equal(t, uint64(1), pending)
}

func TestCorrelationTrackerDrainClosesEverything(t *testing.T) {
	tracker := NewCorrelationTracker()
	replyCh, err := tracker.RegisterPending(testRequest(t), time.Minute)
	require.NoError(t, err)

	tracker.Drain()

	_, ok := <-replyCh
	assert.False(t, ok)
	_, _, pending := tracker.Stats()
	assert.Equal(t, uint64(0), pending)
}
