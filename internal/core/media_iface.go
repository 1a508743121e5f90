package core

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Huddle/internal/domain"
)

// Params is an opaque engine parameter blob (connect params, handshake
// params, track params, capabilities). The core never looks inside.
type Params = json.RawMessage

// RoutingContextFactory is the entry point into the media engine.
// One routing context is created per room.
type RoutingContextFactory interface {
	CreateRoutingContext(ctx context.Context, room domain.RoomID) (RoutingContext, error)
}

// RoutingContext is the per-room engine handle shared by all peers of a room.
type RoutingContext interface {
	// Capabilities describes codecs a peer must load before creating transports.
	Capabilities() Params
	CreateTransport(ctx context.Context, kind domain.TransportKind) (MediaTransport, error)
	Close() error
}

// MediaTransport is one negotiated network path of a peer.
type MediaTransport interface {
	ID() domain.TransportID
	// ConnectParams are returned to the peer after creation.
	ConnectParams() Params
	// Connect applies the peer's half of the handshake.
	Connect(ctx context.Context, handshake Params) error
	Produce(ctx context.Context, kind domain.MediaKind, trackParams Params) (MediaProducer, error)
	Consume(ctx context.Context, producer domain.ProducerID, receiverCaps Params) (MediaConsumer, error)
	Close() error
}

// Renegotiator is implemented by receive transports that need another
// handshake round trip after their track set changes.
type Renegotiator interface {
	Renegotiate(ctx context.Context, handshake Params) error
}

type MediaProducer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	// OnTrackEnded sets a callback invoked once when the source track ends.
	OnTrackEnded(func())
	Close() error
}

type MediaConsumer interface {
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Kind() domain.MediaKind
	TrackParams() Params
	Resume(ctx context.Context) error
	Close() error
}
