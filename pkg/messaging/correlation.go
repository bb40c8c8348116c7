package messaging

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nmxmxh/wasmrt/pkg/apierrors"
	"github.com/nmxmxh/wasmrt/pkg/capability"
)

const correlationShardCount = 16

// PendingReply is the single value delivered on a pending request's reply
// channel: the matching Response, or the timeout error if the deadline
// elapsed first. A channel closed without a value means the tracker was
// drained out from under the caller (component stop or host shutdown).
// Exactly one of the three outcomes is ever observed.
type PendingReply struct {
	Response Envelope
	Err      error
}

// pendingRequest tracks one outstanding Request awaiting its Response.
type pendingRequest struct {
	from        capability.ComponentID
	to          capability.ComponentID
	requestedAt time.Time
	timeout     time.Duration
	replyCh     chan PendingReply
	timer       *time.Timer
}

type correlationShard struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// CorrelationTracker matches Request envelopes to their eventual Response,
// with a per-request timeout. Sharded to keep lock contention low under
// concurrent Request/Resolve traffic — the Go shape of "lock-free...
// O(1) average" without unsafe atomics on a plain map (spec §4.2).
type CorrelationTracker struct {
	shards [correlationShardCount]*correlationShard

	completed atomic.Uint64
	timedOut  atomic.Uint64
	pending   atomic.Uint64
}

// NewCorrelationTracker returns an empty tracker.
func NewCorrelationTracker() *CorrelationTracker {
	t := &CorrelationTracker{}
	for i := range t.shards {
		t.shards[i] = &correlationShard{pending: make(map[string]*pendingRequest)}
	}
	return t
}

func (t *CorrelationTracker) shardFor(correlationID string) *correlationShard {
	h := fnv.New32a()
	h.Write([]byte(correlationID))
	return t.shards[h.Sum32()%correlationShardCount]
}

// RegisterPending records that req (a Request) is awaiting a Response and
// returns a channel that delivers exactly one PendingReply. The pending
// entry is keyed by req.MessageID, the id the Response carries back in its
// CorrelationID. Registering a MessageID that is already pending fails.
func (t *CorrelationTracker) RegisterPending(req Envelope, timeout time.Duration) (<-chan PendingReply, error) {
	if req.MessageID == "" {
		return nil, apierrors.Wrap(apierrors.ErrMessagingError, "request has no message id", nil)
	}
	shard := t.shardFor(req.MessageID)
	replyCh := make(chan PendingReply, 1)

	shard.mu.Lock()
	if _, exists := shard.pending[req.MessageID]; exists {
		shard.mu.Unlock()
		return nil, apierrors.Wrap(apierrors.ErrMessagingError, "duplicate pending correlation id "+req.MessageID, nil)
	}
	pr := &pendingRequest{
		from:        req.From,
		to:          req.To,
		requestedAt: time.Now(),
		timeout:     timeout,
		replyCh:     replyCh,
	}
	pr.timer = time.AfterFunc(timeout, func() {
		t.expire(req.MessageID)
	})
	shard.pending[req.MessageID] = pr
	shard.mu.Unlock()

	t.pending.Add(1)
	return replyCh, nil
}

// Resolve delivers resp to the pending Request whose MessageID matches
// resp.CorrelationID, cancels its timeout, and bumps the completed
// counter. Errors if no matching pending request exists (already resolved
// or timed out).
func (t *CorrelationTracker) Resolve(resp Envelope) error {
	pr, ok := t.remove(resp.CorrelationID)
	if !ok {
		return apierrors.Wrap(apierrors.ErrMessagingError, "no pending request for correlation id", nil)
	}

	pr.timer.Stop()
	pr.replyCh <- PendingReply{Response: resp}
	close(pr.replyCh)
	t.completed.Add(1)
	t.pending.Add(^uint64(0))
	return nil
}

func (t *CorrelationTracker) remove(correlationID string) (*pendingRequest, bool) {
	shard := t.shardFor(correlationID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	pr, ok := shard.pending[correlationID]
	if ok {
		delete(shard.pending, correlationID)
	}
	return pr, ok
}

// expire removes the entry (if still present), delivers a timeout error on
// its channel, and bumps the timed-out counter.
func (t *CorrelationTracker) expire(correlationID string) {
	pr, ok := t.remove(correlationID)
	if !ok {
		return
	}
	pr.timer.Stop()
	pr.replyCh <- PendingReply{
		Err: apierrors.Wrap(apierrors.ErrMessagingError, "pending request timed out", apierrors.ErrExecutionTimeout),
	}
	close(pr.replyCh)
	t.timedOut.Add(1)
	t.pending.Add(^uint64(0))
}

// CleanupExpired sweeps every shard for entries whose elapsed time since
// registration exceeds their timeout — defensive against timer scheduling
// delays — expiring each and returning the number removed. Callers run
// this on a coarse timer (~60s).
func (t *CorrelationTracker) CleanupExpired() int {
	now := time.Now()
	var overdue []string
	for _, shard := range t.shards {
		shard.mu.Lock()
		for id, pr := range shard.pending {
			if now.Sub(pr.requestedAt) > pr.timeout {
				overdue = append(overdue, id)
			}
		}
		shard.mu.Unlock()
	}
	for _, id := range overdue {
		t.expire(id)
	}
	return len(overdue)
}

// CleanupPendingForComponent removes every pending request where
// componentID is the sender or the receiver, closing each channel without
// a reply (the sender-dropped outcome). Used on component stop so callers
// don't hang on a peer that no longer exists (spec §4.5).
func (t *CorrelationTracker) CleanupPendingForComponent(componentID capability.ComponentID) {
	t.drainMatching(func(pr *pendingRequest) bool {
		return pr.from == componentID || pr.to == componentID
	})
}

// Drain removes every pending request, closing each channel without a
// reply. Used on host shutdown.
func (t *CorrelationTracker) Drain() {
	t.drainMatching(func(*pendingRequest) bool { return true })
}

func (t *CorrelationTracker) drainMatching(match func(*pendingRequest) bool) {
	for _, shard := range t.shards {
		shard.mu.Lock()
		var ids []string
		for id, pr := range shard.pending {
			if match(pr) {
				ids = append(ids, id)
			}
		}
		shard.mu.Unlock()
		for _, id := range ids {
			pr, ok := t.remove(id)
			if !ok {
				continue
			}
			pr.timer.Stop()
			close(pr.replyCh)
			t.pending.Add(^uint64(0))
		}
	}
}

// Stats returns the running completed/timed-out/pending counters.
func (t *CorrelationTracker) Stats() (completed, timedOut, pending uint64) {
	return t.completed.Load(), t.timedOut.Load(), t.pending.Load()
}
