package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCallStatus_Terminal(t *testing.T) {
	assert.True(t, CallStatusCompleted.Terminal())
	assert.True(t, CallStatusMissed.Terminal())
	assert.True(t, CallStatusRejected.Terminal())
	assert.False(t, CallStatusInitiated.Terminal())
	assert.False(t, CallStatusRinging.Terminal())
	assert.False(t, CallStatusOngoing.Terminal())
}

func TestMediaKind_Valid(t *testing.T) {
	assert.True(t, MediaKindAudio.Valid())
	assert.True(t, MediaKindVideo.Valid())
	assert.False(t, MediaKind("screenshare").Valid())
	assert.False(t, MediaKind("").Valid())
}

func TestCall_CompleteFloorsDuration(t *testing.T) {
	start := time.Now()
	call := &Call{Status: CallStatusOngoing, StartedAt: start}

	call.Complete(start.Add(90*time.Second + 900*time.Millisecond))

	assert.Equal(t, CallStatusCompleted, call.Status)
	assert.NotNil(t, call.DurationSeconds)
	assert.Equal(t, 90, *call.DurationSeconds)
}

func TestCall_CompleteIsSetOnce(t *testing.T) {
	start := time.Now()
	call := &Call{Status: CallStatusOngoing, StartedAt: start}
	call.Complete(start.Add(10 * time.Second))

	call.Complete(start.Add(500 * time.Second))

	assert.Equal(t, 10, *call.DurationSeconds)
}

func TestCall_AllCalleesJoined(t *testing.T) {
	initiatorID := uuid.New()
	calleeID := uuid.New()
	now := time.Now()
	call := &Call{
		InitiatorID: initiatorID,
		Participants: []*CallParticipant{
			{UserID: initiatorID, JoinedAt: &now},
			{UserID: calleeID},
		},
	}

	assert.False(t, call.AllCalleesJoined())

	call.Participant(calleeID).JoinedAt = &now
	assert.True(t, call.AllCalleesJoined())
}

func TestCall_AllLeft(t *testing.T) {
	now := time.Now()
	call := &Call{
		Participants: []*CallParticipant{
			{UserID: uuid.New(), LeftAt: &now},
			{UserID: uuid.New()},
		},
	}

	assert.False(t, call.AllLeft())

	call.Participants[1].LeftAt = &now
	assert.True(t, call.AllLeft())
}
