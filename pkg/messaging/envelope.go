// Package messaging implements the wire envelope, multicodec framing,
// correlation tracking, and in-process broker that route messages between
// components (spec §4.2/§6).
package messaging

import (
	"time"

	"github.com/google/uuid"

	"github.com/nmxmxh/wasmrt/pkg/capability"
)

// MessageType discriminates the four envelope shapes spec §4.2 defines.
type MessageType int

const (
	FireAndForget MessageType = iota
	Request
	Response
	Publish
)

func (t MessageType) String() string {
	switch t {
	case FireAndForget:
		return "fire_and_forget"
	case Request:
		return "request"
	case Response:
		return "response"
	case Publish:
		return "publish"
	default:
		return "unknown"
	}
}

// Envelope is the unit of delivery between components. Payload carries the
// body without its multicodec prefix, and Codec records which codec that
// prefix named; From/To identify the routing endpoints;
// MessageID uniquely identifies this envelope; CorrelationID links a
// Response back to its originating Request's MessageID.
type Envelope struct {
	Type          MessageType
	From          capability.ComponentID
	To            capability.ComponentID
	Topic         string
	MessageID     string
	CorrelationID string
	Payload       []byte
	Codec         Codec
	SentAt        time.Time
}

// NewEnvelope constructs a FireAndForget envelope carrying payload encoded
// with codec, stamped with a fresh MessageID. Use the With* methods to
// turn it into a Request, Response, or Publish.
func NewEnvelope(from, to capability.ComponentID, codec Codec, payload []byte) Envelope {
	return Envelope{
		Type:      FireAndForget,
		From:      from,
		To:        to,
		MessageID: uuid.NewString(),
		Codec:     codec,
		Payload:   payload,
		SentAt:    time.Now(),
	}
}

// WithTopic marks the envelope as a Publish to the given topic.
func (e Envelope) WithTopic(topic string) Envelope {
	e.Type = Publish
	e.Topic = topic
	return e
}

// WithCorrelationID marks the envelope as a Request. The Response will
// carry the request's MessageID in its CorrelationID; id lets callers
// chain a prior correlation through this request, and defaults to the
// envelope's own MessageID when empty.
func (e Envelope) WithCorrelationID(id string) Envelope {
	if id == "" {
		id = e.MessageID
	}
	e.Type = Request
	e.CorrelationID = id
	return e
}

// ReplyTo builds a Response envelope addressed back to req's sender,
// swapping from/to and copying req's MessageID into CorrelationID.
func (e Envelope) ReplyTo(req Envelope) Envelope {
	e.Type = Response
	e.From, e.To = req.To, req.From
	e.CorrelationID = req.MessageID
	e.SentAt = time.Now()
	return e
}

// IsRequest reports whether this envelope expects a correlated Response.
func (e Envelope) IsRequest() bool {
	return e.Type == Request && e.CorrelationID != ""
}
