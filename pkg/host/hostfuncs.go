package host

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/nmxmxh/wasmrt/pkg/apierrors"
	"github.com/nmxmxh/wasmrt/pkg/capability"
	"github.com/nmxmxh/wasmrt/pkg/messaging"
	"github.com/nmxmxh/wasmrt/pkg/security"
)

// DefaultRequestTimeout bounds how long a request-response host call
// waits for its reply before the caller gets a timeout error.
const DefaultRequestTimeout = 30 * time.Second

// Host function import names, as guests declare them.
const (
	FnSendMessage     = "send_message"
	FnRequestResponse = "request_response"
	FnSendResponse    = "send_response"
)

// HostFunctions is the async host-function registry spec §4.5/§6
// describes: the messaging functions every component's imports link
// against, each capability-gated against the calling component's
// CapabilitySet before the broker ever sees the call. It is shared across
// components; Bind attaches a caller identity to produce the per-instance
// registry an engine links.
type HostFunctions struct {
	broker  *messaging.Broker
	checker *security.PermissionChecker
	tracker *messaging.CorrelationTracker
}

// NewHostFunctions wires the registry to the shared broker, permission
// checker, and correlation tracker a Manager owns.
func NewHostFunctions(broker *messaging.Broker, checker *security.PermissionChecker, tracker *messaging.CorrelationTracker) *HostFunctions {
	return &HostFunctions{broker: broker, checker: checker, tracker: tracker}
}

// decodeTarget parses the wire layout spec §6 defines:
// [target_len: u32 LE][target_bytes: utf-8][message_bytes].
func decodeTarget(raw []byte) (target string, message []byte, err error) {
	if len(raw) < 4 {
		return "", nil, apierrors.Wrap(apierrors.ErrMessagingError, "host call payload too short", nil)
	}
	targetLen := binary.LittleEndian.Uint32(raw[:4])
	if uint32(len(raw)-4) < targetLen {
		return "", nil, apierrors.Wrap(apierrors.ErrMessagingError, "host call target length exceeds payload", nil)
	}
	target = string(raw[4 : 4+targetLen])
	message = raw[4+targetLen:]
	return target, message, nil
}

// decodeMessage extracts the multicodec prefix from message bytes,
// rejecting unrecognized codecs (spec §6: "Unknown codecs fail closed").
func decodeMessage(message []byte) (messaging.Codec, []byte, error) {
	codec, payload, err := messaging.DecodeWithPrefix(message)
	if err != nil {
		return 0, nil, apierrors.Wrap(apierrors.ErrMessagingError, "decode message codec", err)
	}
	if !codec.Recognized() {
		return 0, nil, apierrors.Wrap(apierrors.ErrMessagingError, "unrecognized payload codec", nil)
	}
	return codec, payload, nil
}

// resolveTarget turns the guest-supplied target string into a routing
// identity: a full "namespace/name#instance" id when it parses as one,
// otherwise a name in the caller's own namespace.
func resolveTarget(caller capability.ComponentID, target string) capability.ComponentID {
	if id, err := capability.ParseComponentID(target); err == nil {
		return id
	}
	return capability.NewComponentID(caller.Namespace, target, "")
}

// SendMessage implements the send-message host function (sender -> host):
// parse the target, extract the codec prefix from message_bytes, check
// the Messaging capability for target+codec, and publish to the broker.
// Returns empty bytes on success, per spec §6.
func (h *HostFunctions) SendMessage(ctx context.Context, caller capability.ComponentID, callerCaps capability.CapabilitySet, raw []byte) ([]byte, error) {
	target, message, err := decodeTarget(raw)
	if err != nil {
		return nil, err
	}
	codec, payload, err := decodeMessage(message)
	if err != nil {
		return nil, err
	}

	if !h.checker.Check(caller, callerCaps, capability.KindMessaging, target, codec.String()) {
		return nil, apierrors.Wrap(apierrors.ErrCapabilityDenied, "send_message to "+target, nil)
	}

	env := messaging.NewEnvelope(caller, resolveTarget(caller, target), codec, payload)
	if err := h.broker.Send(env); err != nil {
		return nil, apierrors.Wrap(apierrors.ErrMessagingError, "publish to broker", err)
	}
	return []byte{}, nil
}

// RequestResponse implements the request-response host function,
// analogous to SendMessage but registering a pending correlation and
// returning its id for the caller to await a response on.
func (h *HostFunctions) RequestResponse(ctx context.Context, caller capability.ComponentID, callerCaps capability.CapabilitySet, raw []byte, timeout time.Duration) (string, <-chan messaging.PendingReply, error) {
	target, message, err := decodeTarget(raw)
	if err != nil {
		return "", nil, err
	}
	codec, payload, err := decodeMessage(message)
	if err != nil {
		return "", nil, err
	}

	if !h.checker.Check(caller, callerCaps, capability.KindMessaging, target, codec.String()) {
		return "", nil, apierrors.Wrap(apierrors.ErrCapabilityDenied, "request to "+target, nil)
	}

	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	req := messaging.NewEnvelope(caller, resolveTarget(caller, target), codec, payload).WithCorrelationID("")
	replyCh, err := h.tracker.RegisterPending(req, timeout)
	if err != nil {
		return "", nil, err
	}

	if err := h.broker.Send(req); err != nil {
		// The pending entry stays registered; its timer expires it.
		return "", nil, apierrors.Wrap(apierrors.ErrMessagingError, "publish request to broker", err)
	}
	return req.MessageID, replyCh, nil
}

// SendResponse lets a guest answer a Request it received: the wire layout
// is [request_id_len: u32 LE][request_id][message_bytes], and the host
// resolves the pending correlation so the original requester's reply
// channel fires.
func (h *HostFunctions) SendResponse(ctx context.Context, caller capability.ComponentID, raw []byte) ([]byte, error) {
	requestID, message, err := decodeTarget(raw)
	if err != nil {
		return nil, err
	}
	codec, payload, err := decodeMessage(message)
	if err != nil {
		return nil, err
	}

	resp := messaging.NewEnvelope(caller, capability.ComponentID{}, codec, payload)
	resp.Type = messaging.Response
	resp.CorrelationID = requestID
	if err := h.tracker.Resolve(resp); err != nil {
		return nil, err
	}
	return []byte{}, nil
}

// Bind attaches a caller identity and capability set, producing the
// engine.HostFunctionRegistry one component instance links against.
func (h *HostFunctions) Bind(caller capability.ComponentID, caps capability.CapabilitySet) *BoundHostFunctions {
	return &BoundHostFunctions{fns: h, caller: caller, caps: caps}
}

// BoundHostFunctions is HostFunctions fixed to one calling component. The
// engine routes every guest import call through Invoke; the caller
// identity can't be forged from inside the sandbox because the guest never
// supplies it.
type BoundHostFunctions struct {
	fns    *HostFunctions
	caller capability.ComponentID
	caps   capability.CapabilitySet
}

// Names reports the import names this registry satisfies.
func (b *BoundHostFunctions) Names() []string {
	return []string{FnSendMessage, FnRequestResponse, FnSendResponse}
}

// Invoke dispatches a guest call to the named host function. For
// request_response the returned bytes are the correlation id; the eventual
// Response is forwarded to the caller's inbox, where the actor's message
// loop delivers it as a callback.
func (b *BoundHostFunctions) Invoke(ctx context.Context, name string, payload []byte) ([]byte, error) {
	switch name {
	case FnSendMessage:
		return b.fns.SendMessage(ctx, b.caller, b.caps, payload)
	case FnRequestResponse:
		id, replyCh, err := b.fns.RequestResponse(ctx, b.caller, b.caps, payload, 0)
		if err != nil {
			return nil, err
		}
		go b.forwardReply(replyCh)
		return []byte(id), nil
	case FnSendResponse:
		return b.fns.SendResponse(ctx, b.caller, payload)
	default:
		return nil, apierrors.Wrap(apierrors.ErrMessagingError, "unknown host function "+name, nil)
	}
}

// forwardReply pushes a resolved Response into the requester's inbox so
// the actor's message loop hands it to the guest's callback export. A
// timeout or drained channel forwards nothing; the tracker has already
// accounted for it.
func (b *BoundHostFunctions) forwardReply(replyCh <-chan messaging.PendingReply) {
	reply, ok := <-replyCh
	if !ok || reply.Err != nil {
		return
	}
	resp := reply.Response
	resp.To = b.caller
	_ = b.fns.broker.Send(resp)
}
