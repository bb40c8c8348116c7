package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/wasmrt/pkg/apierrors"
	"github.com/nmxmxh/wasmrt/pkg/capability"
)

func TestBrokerSendDeliversToRegisteredInbox(t *testing.T) {
	broker := NewBroker(0)
	to := capability.NewComponentID("ns", "b", "1")
	inbox := broker.RegisterInbox(to)

	from := capability.NewComponentID("ns", "a", "1")
	env := NewEnvelope(from, to, CodecRaw, []byte("hi"))
	require.NoError(t, broker.Send(env))

	select {
	case got := <-inbox:
		assert.Equal(t, []byte("hi"), got.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected message delivery")
	}
}

func TestBrokerSendUnregisteredInboxErrors(t *testing.T) {
	broker := NewBroker(0)
	from := capability.NewComponentID("ns", "a", "1")
	to := capability.NewComponentID("ns", "ghost", "1")

	err := broker.Send(NewEnvelope(from, to, CodecRaw, nil))
	assert.Error(t, err)
}

func TestBrokerPublishRoutesByTopicSubscription(t *testing.T) {
	broker := NewBroker(4)
	a := capability.NewComponentID("ns", "a", "1")
	b := capability.NewComponentID("ns", "b", "1")
	c := capability.NewComponentID("ns", "c", "1")
	inboxA := broker.RegisterInbox(a)
	inboxB := broker.RegisterInbox(b)
	inboxC := broker.RegisterInbox(c)

	require.NoError(t, broker.Subscribe(a, "orders/**"))
	require.NoError(t, broker.Subscribe(b, "orders/created"))
	require.NoError(t, broker.Subscribe(c, "inventory/**"))

	from := capability.NewComponentID("ns", "publisher", "1")
	delivered := broker.Publish(NewEnvelope(from, capability.ComponentID{}, CodecRaw, []byte("evt")).WithTopic("orders/created"))
	assert.Equal(t, 2, delivered)

	for _, inbox := range []<-chan Envelope{inboxA, inboxB} {
		select {
		case got := <-inbox:
			assert.Equal(t, "orders/created", got.Topic)
		case <-time.After(time.Second):
			t.Fatal("expected topic delivery")
		}
	}

	select {
	case <-inboxC:
		t.Fatal("non-matching subscriber must not receive the publish")
	default:
	}
}

func TestBrokerSendWithGuarantee(t *testing.T) {
	broker := NewBroker(1)
	to := capability.NewComponentID("ns", "slow", "1")
	broker.RegisterInbox(to)
	from := capability.NewComponentID("ns", "a", "1")

	// Fill the single-slot inbox, then an AtMostOnce send drops silently.
	require.NoError(t, broker.Send(NewEnvelope(from, to, CodecRaw, []byte("first"))))
	require.NoError(t, broker.SendWithGuarantee(NewEnvelope(from, to, CodecRaw, []byte("dropped")), AtMostOnce))

	err := broker.SendWithGuarantee(NewEnvelope(from, to, CodecRaw, nil), ExactlyOnce)
	assert.ErrorIs(t, err, apierrors.ErrNotImplemented)
}

func TestBrokerSubscribeRequiresInbox(t *testing.T) {
	broker := NewBroker(0)
	ghost := capability.NewComponentID("ns", "ghost", "1")
	assert.Error(t, broker.Subscribe(ghost, "topic/**"))
}

func TestBrokerUnregisterClosesInbox(t *testing.T) {
	broker := NewBroker(0)
	id := capability.NewComponentID("ns", "a", "1")
	inbox := broker.RegisterInbox(id)
	broker.UnregisterInbox(id)
	assert.False(t, broker.IsRegistered(id))

	_, ok := <-inbox
	assert.False(t, ok)
}
