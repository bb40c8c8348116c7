package messaging

import (
	"sync"

	"github.com/nmxmxh/wasmrt/pkg/apierrors"
	"github.com/nmxmxh/wasmrt/pkg/capability"
)

// DefaultInboxCapacity bounds each component's buffered inbox. Publish and
// Send block once an inbox is full, applying natural backpressure rather
// than dropping messages.
const DefaultInboxCapacity = 256

// Broker routes Envelope values to registered component inboxes: one
// buffered channel per ComponentID, fed by Send/Publish and drained by
// each component actor's own message loop. This keeps delivery to a
// single actor strictly FIFO (spec §5) without a central dispatch
// goroutine.
type Broker struct {
	mu      sync.RWMutex
	inboxes map[capability.ComponentID]chan Envelope
	subs    map[capability.ComponentID][]capability.TopicPattern
	cap     int
}

// NewBroker returns an empty broker whose inboxes are sized to capacity
// (0 uses DefaultInboxCapacity).
func NewBroker(capacity int) *Broker {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	return &Broker{
		inboxes: make(map[capability.ComponentID]chan Envelope),
		subs:    make(map[capability.ComponentID][]capability.TopicPattern),
		cap:     capacity,
	}
}

// RegisterInbox creates (or replaces) the inbox for id and returns the
// receive side for the component's message loop to drain.
func (b *Broker) RegisterInbox(id capability.ComponentID) <-chan Envelope {
	ch := make(chan Envelope, b.cap)
	b.mu.Lock()
	b.inboxes[id] = ch
	b.mu.Unlock()
	return ch
}

// UnregisterInbox closes and removes id's inbox along with its topic
// subscriptions. Safe to call once a component has fully stopped.
func (b *Broker) UnregisterInbox(id capability.ComponentID) {
	b.mu.Lock()
	ch, ok := b.inboxes[id]
	if ok {
		delete(b.inboxes, id)
	}
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Subscribe registers id to receive Publish envelopes whose topic matches
// pattern ("**" = any depth, per topic-pattern semantics). The component
// must already have an inbox.
func (b *Broker) Subscribe(id capability.ComponentID, pattern string) error {
	compiled, err := capability.NewTopicPattern(pattern)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inboxes[id]; !ok {
		return apierrors.Wrap(apierrors.ErrComponentNotFound, "broker subscribe: no inbox for "+id.String(), nil)
	}
	b.subs[id] = append(b.subs[id], compiled)
	return nil
}

// Send delivers env to env.To's inbox, blocking if the inbox is full.
// Returns ErrComponentNotFound-flavored error if env.To has no registered
// inbox.
func (b *Broker) Send(env Envelope) error {
	b.mu.RLock()
	ch, ok := b.inboxes[env.To]
	b.mu.RUnlock()
	if !ok {
		return apierrors.Wrap(apierrors.ErrComponentNotFound, "broker send: no inbox for "+env.To.String(), nil)
	}
	ch <- env
	return nil
}

// Publish delivers env to every component with a subscription matching
// env.Topic, returning the number of inboxes reached. Delivery to each
// inbox blocks independently; a slow subscriber never blocks delivery to
// the others. No per-subscriber ack (spec §4.2).
func (b *Broker) Publish(env Envelope) int {
	b.mu.RLock()
	var targets []chan Envelope
	for id, patterns := range b.subs {
		for _, p := range patterns {
			if p.Match(env.Topic) {
				if ch, ok := b.inboxes[id]; ok {
					targets = append(targets, ch)
				}
				break
			}
		}
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ch := range targets {
		wg.Add(1)
		go func(ch chan Envelope) {
			defer wg.Done()
			ch <- env
		}(ch)
	}
	wg.Wait()
	return len(targets)
}

// SendWithGuarantee delivers env under the requested delivery guarantee:
// AtMostOnce never blocks and silently drops when the inbox is full (may
// lose, faster); AtLeastOnce blocks until the inbox accepts (the caller
// may retry on error, so the receiver must be idempotent); ExactlyOnce
// has no implementation and fails closed (spec §4.2).
func (b *Broker) SendWithGuarantee(env Envelope, g DeliveryGuarantee) error {
	if err := g.Supported(); err != nil {
		return err
	}
	if g == AtLeastOnce {
		return b.Send(env)
	}

	b.mu.RLock()
	ch, ok := b.inboxes[env.To]
	b.mu.RUnlock()
	if !ok {
		return apierrors.Wrap(apierrors.ErrComponentNotFound, "broker send: no inbox for "+env.To.String(), nil)
	}
	select {
	case ch <- env:
	default:
	}
	return nil
}

// IsRegistered reports whether id currently has an inbox.
func (b *Broker) IsRegistered(id capability.ComponentID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.inboxes[id]
	return ok
}
