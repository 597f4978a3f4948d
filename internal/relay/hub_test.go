package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatroom-backend/internal/signal"
	"chatroom-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	m.Run()
}

type recordingMirror struct {
	mu      sync.Mutex
	online  []uuid.UUID
	offline []uuid.UUID
}

func (m *recordingMirror) SetOnline(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = append(m.online, userID)
	return nil
}

func (m *recordingMirror) SetOffline(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = append(m.offline, userID)
	return nil
}

func (m *recordingMirror) onlineCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.online)
}

func (m *recordingMirror) offlineCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.offline)
}

func receiveMessage(t *testing.T, c *Client) *signal.Message {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var msg signal.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return &msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHub_DeliversToTarget(t *testing.T) {
	d := NewDirectory()
	h := NewHub(d, nil)

	fromID := uuid.New()
	toID := uuid.New()
	target := newTestClient(toID)
	h.register <- target

	h.Relay(&signal.Message{
		Kind: signal.KindOffer,
		From: fromID,
		To:   toID,
	})

	msg := receiveMessage(t, target)
	assert.Equal(t, signal.KindOffer, msg.Kind)
	assert.Equal(t, fromID, msg.From)
	assert.Equal(t, toID, msg.To)
}

func TestHub_OfflineTargetIsSilentlyDropped(t *testing.T) {
	d := NewDirectory()
	h := NewHub(d, nil)

	// Nothing registered for the destination. The relay just drops the
	// message and keeps serving.
	h.Relay(&signal.Message{
		Kind: signal.KindOffer,
		From: uuid.New(),
		To:   uuid.New(),
	})

	toID := uuid.New()
	target := newTestClient(toID)
	h.register <- target
	h.Relay(&signal.Message{
		Kind: signal.KindEnd,
		From: uuid.New(),
		To:   toID,
	})

	msg := receiveMessage(t, target)
	assert.Equal(t, signal.KindEnd, msg.Kind)
}

func TestHub_NoDeliveryToOtherUsers(t *testing.T) {
	d := NewDirectory()
	h := NewHub(d, nil)

	toID := uuid.New()
	target := newTestClient(toID)
	bystanderID := uuid.New()
	bystander := newTestClient(bystanderID)
	h.register <- target
	h.register <- bystander

	h.Relay(&signal.Message{
		Kind: signal.KindOffer,
		From: uuid.New(),
		To:   toID,
	})

	receiveMessage(t, target)
	select {
	case <-bystander.send:
		t.Fatal("message delivered to unrelated user")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_SupersedeEvictsOldConnection(t *testing.T) {
	d := NewDirectory()
	h := NewHub(d, nil)

	userID := uuid.New()
	first := newTestClient(userID)
	second := newTestClient(userID)

	h.register <- first
	h.register <- second

	// The superseded connection's send channel is closed by the hub.
	select {
	case _, ok := <-first.send:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded connection was not evicted")
	}

	got, ok := d.Lookup(userID)
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestHub_SlowConsumerIsDropped(t *testing.T) {
	d := NewDirectory()
	h := NewHub(d, nil)

	toID := uuid.New()
	target := &Client{
		send:   make(chan []byte, 1),
		userID: toID,
		connID: uuid.New(),
	}
	h.register <- target

	// First message fills the queue; the second finds it full and the
	// hub drops the connection rather than stall.
	h.Relay(&signal.Message{Kind: signal.KindICECandidate, From: uuid.New(), To: toID})
	h.Relay(&signal.Message{Kind: signal.KindICECandidate, From: uuid.New(), To: toID})

	assert.Eventually(t, func() bool {
		_, ok := d.Lookup(toID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_MirrorsPresence(t *testing.T) {
	d := NewDirectory()
	mirror := &recordingMirror{}
	h := NewHub(d, mirror)

	userID := uuid.New()
	client := newTestClient(userID)
	h.register <- client

	assert.Eventually(t, func() bool {
		return mirror.onlineCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.unregister <- client

	assert.Eventually(t, func() bool {
		return mirror.offlineCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
