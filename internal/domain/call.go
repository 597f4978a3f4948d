package domain

import (
	"time"

	"github.com/google/uuid"
)

// MediaKind is the media type of a call.
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// Valid reports whether k is a known media kind.
func (k MediaKind) Valid() bool {
	return k == MediaKindAudio || k == MediaKindVideo
}

// CallStatus is the lifecycle state of a durable call record.
type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusOngoing   CallStatus = "ongoing"
	CallStatusCompleted CallStatus = "completed"
	CallStatusMissed    CallStatus = "missed"
	CallStatusRejected  CallStatus = "rejected"
)

// Terminal reports whether the status is final. Only terminal calls
// appear in history queries.
func (s CallStatus) Terminal() bool {
	return s == CallStatusCompleted || s == CallStatusMissed || s == CallStatusRejected
}

// Call is the durable record of a call, independent of any connection
// lifetime. DurationSeconds is set exactly once, at the transition
// into completed.
type Call struct {
	CallID          uuid.UUID          `json:"call_id"`
	InitiatorID     uuid.UUID          `json:"initiator_id"`
	MediaKind       MediaKind          `json:"media_kind"`
	Status          CallStatus         `json:"status"`
	StartedAt       time.Time          `json:"started_at"`
	EndedAt         *time.Time         `json:"ended_at,omitempty"`
	DurationSeconds *int               `json:"duration_seconds,omitempty"`
	Participants    []*CallParticipant `json:"participants,omitempty"`
}

// CallParticipant tracks one user's join/leave timestamps within a call.
type CallParticipant struct {
	CallID   uuid.UUID  `json:"call_id"`
	UserID   uuid.UUID  `json:"user_id"`
	JoinedAt *time.Time `json:"joined_at,omitempty"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// Participant returns the participant entry for userID, or nil.
func (c *Call) Participant(userID uuid.UUID) *CallParticipant {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// IsParticipant reports whether userID takes part in the call.
func (c *Call) IsParticipant(userID uuid.UUID) bool {
	return c.Participant(userID) != nil
}

// AllCalleesJoined reports whether every non-initiator participant has
// a join timestamp. For a two-party call this means the callee accepted.
func (c *Call) AllCalleesJoined() bool {
	for _, p := range c.Participants {
		if p.UserID == c.InitiatorID {
			continue
		}
		if p.JoinedAt == nil {
			return false
		}
	}
	return true
}

// AllLeft reports whether every participant has a leave timestamp.
func (c *Call) AllLeft() bool {
	for _, p := range c.Participants {
		if p.LeftAt == nil {
			return false
		}
	}
	return true
}

// Complete marks the call completed at endedAt and computes the duration
// in whole seconds. A second call is a no-op so the duration can never
// be overwritten.
func (c *Call) Complete(endedAt time.Time) {
	if c.Status == CallStatusCompleted {
		return
	}
	c.Status = CallStatusCompleted
	c.EndedAt = &endedAt
	secs := int(endedAt.Sub(c.StartedAt) / time.Second)
	c.DurationSeconds = &secs
}
