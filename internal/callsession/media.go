package callsession

import (
	"context"
	"encoding/json"

	"chatroom-backend/internal/domain"
	"chatroom-backend/internal/signal"
)

// MediaStream is a handle to acquired capture devices. Exactly one
// stream is owned per participant process at a time; Close releases
// the devices.
type MediaStream interface {
	Close() error
}

// MediaProvider acquires local capture media. Acquire honors ctx so an
// in-flight acquisition can be abandoned when the user cancels.
type MediaProvider interface {
	Acquire(ctx context.Context, kind domain.MediaKind) (MediaStream, error)
}

// PeerConnection is the negotiation half of a media session. Session
// descriptions and candidates are opaque payloads relayed verbatim.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	CreateAnswer(ctx context.Context) (json.RawMessage, error)
	SetRemoteDescription(desc json.RawMessage) error
	AddICECandidate(candidate json.RawMessage) error
	Close() error
}

// PeerFactory builds a peer connection around an acquired stream.
type PeerFactory interface {
	New(ctx context.Context, stream MediaStream) (PeerConnection, error)
}

// Signaler sends signaling messages toward the relay.
type Signaler interface {
	Send(msg *signal.Message) error
}
