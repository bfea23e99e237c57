package events

import "context"

// Event types
const (
	EventCertificateCreated  = "certificate_created"
	EventCertificateAnchored = "certificate_anchored"
	EventCertificateRevoked  = "certificate_revoked"
	EventWalletLinked        = "wallet_linked"
)

// StreamCertificates is the pub/sub channel WS clients are fed from.
const StreamCertificates = "certificates"

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
