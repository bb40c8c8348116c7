package messaging

import "github.com/nmxmxh/wasmrt/pkg/apierrors"

// DeliveryGuarantee selects how Broker.SendWithGuarantee hands a message
// to a full inbox: drop it, or block until there is room (spec §4.2). The
// broker itself never retries a delivery.
type DeliveryGuarantee int

const (
	AtMostOnce DeliveryGuarantee = iota
	AtLeastOnce
	ExactlyOnce
)

func (g DeliveryGuarantee) String() string {
	switch g {
	case AtMostOnce:
		return "at_most_once"
	case AtLeastOnce:
		return "at_least_once"
	case ExactlyOnce:
		return "exactly_once"
	default:
		return "unknown"
	}
}

// Supported reports whether this guarantee has a real implementation.
// ExactlyOnce is a defined value with no backing implementation: callers
// asking for it get ErrNotImplemented rather than a silent downgrade to
// AtLeastOnce, so a caller can never mistake a no-op for real
// exactly-once delivery (spec §4.2).
func (g DeliveryGuarantee) Supported() error {
	if g == ExactlyOnce {
		return apierrors.ErrNotImplemented
	}
	return nil
}
