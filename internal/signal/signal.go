// Package signal defines the wire format shared by the signaling relay
// and the call session state machine. Offer/answer SDP and ICE candidates
// are opaque payloads; the relay never inspects them.
package signal

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"chatroom-backend/internal/domain"
)

// Kind identifies a signaling message.
type Kind string

const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice_candidate"
	KindReject       Kind = "reject"
	KindEnd          Kind = "end"
)

// Valid reports whether k is one of the five relayed kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindICECandidate, KindReject, KindEnd:
		return true
	}
	return false
}

// Message is one signaling message. Every message carries the call it
// belongs to; receivers drop messages whose CallID does not match their
// current session, which keeps a stale offer from a cancelled attempt
// from being answered as a new one.
type Message struct {
	Kind      Kind             `json:"kind"`
	CallID    uuid.UUID        `json:"call_id"`
	From      uuid.UUID        `json:"from,omitempty"`
	To        uuid.UUID        `json:"to,omitempty"`
	MediaKind domain.MediaKind `json:"media_kind,omitempty"` // set on offers
	Payload   json.RawMessage  `json:"payload,omitempty"`    // SDP or ICE candidate, verbatim
	Timestamp time.Time        `json:"timestamp"`
}

// NewReject builds a reject addressed to the sender of msg, e.g. the
// busy response to an offer received while another session is active.
func NewReject(from uuid.UUID, msg *Message) *Message {
	return &Message{
		Kind:      KindReject,
		CallID:    msg.CallID,
		From:      from,
		To:        msg.From,
		Timestamp: time.Now(),
	}
}
