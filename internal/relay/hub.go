// Package relay routes signaling messages between authenticated peers.
// The hub owns a presence directory mapping each user to their single
// active connection and forwards offer/answer/ICE/reject/end messages
// by destination identity. It performs no authorization beyond the
// identity bound at connection time; friend and reachability checks
// belong to the call service.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatroom-backend/internal/signal"
	"chatroom-backend/pkg/constants"
	"chatroom-backend/pkg/logger"
	"chatroom-backend/pkg/metrics"
)

// PresenceMirror reflects connection state into a shared store so other
// services can answer "is this user reachable". Updates are best-effort
// and never block the relay.
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID uuid.UUID) error
	SetOffline(ctx context.Context, userID uuid.UUID) error
}

// Hub routes signaling messages to the connection registered for the
// destination user. A single goroutine consumes the relay channel, so
// messages between one ordered pair of users are delivered in emission
// order; per-connection send queues preserve that order on the way out.
type Hub struct {
	directory *Directory
	mirror    PresenceMirror

	register   chan *Client
	unregister chan *Client
	relay      chan *signal.Message
}

// NewHub creates a hub around the given presence directory and starts
// its routing loop. mirror may be nil.
func NewHub(directory *Directory, mirror PresenceMirror) *Hub {
	h := &Hub{
		directory:  directory,
		mirror:     mirror,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		relay:      make(chan *signal.Message, constants.RelayBuffer),
	}

	go h.run()

	return h
}

// HandleConnection registers an upgraded, authenticated connection and
// starts its read/write pumps. onClose, if non-nil, runs when the
// connection terminates.
func (h *Hub) HandleConnection(conn *websocket.Conn, userID uuid.UUID, onClose func()) {
	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, constants.ClientSendBuffer),
		userID:  userID,
		connID:  uuid.New(),
		onClose: onClose,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// Relay queues one message for delivery. Used by server-side callers;
// messages read from client connections take the same path.
func (h *Hub) Relay(msg *signal.Message) {
	h.relay <- msg
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			if prev := h.directory.Register(client.userID, client); prev != nil {
				// Last-connection-wins: evict the superseded connection.
				close(prev.send)
				metrics.SignalingConnectionsSuperseded.Inc()
				logger.Info("connection superseded",
					zap.String("user_id", client.userID.String()),
					zap.String("old_conn", prev.connID.String()),
					zap.String("new_conn", client.connID.String()))
			}
			metrics.SignalingConnectionsTotal.Inc()
			metrics.SignalingConnectionsActive.Set(float64(h.directory.Len()))
			h.mirrorOnline(client.userID)

		case client := <-h.unregister:
			// Compare-and-delete: a slow-closing superseded connection
			// must not evict the newer registration.
			if h.directory.Unregister(client.userID, client) {
				close(client.send)
				metrics.SignalingConnectionsActive.Set(float64(h.directory.Len()))
				h.mirrorOffline(client.userID)
			}

		case msg := <-h.relay:
			h.deliver(msg)
		}
	}
}

// deliver forwards msg to the destination's connection. An offline
// target is a normal outcome: the message is dropped and the sending
// state machine detects the absence of a response on its own.
func (h *Hub) deliver(msg *signal.Message) {
	target, ok := h.directory.Lookup(msg.To)
	if !ok {
		metrics.SignalingMessagesDroppedTotal.WithLabelValues("offline").Inc()
		logger.Debug("relay target offline",
			zap.String("kind", string(msg.Kind)),
			zap.String("to", msg.To.String()))
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		metrics.SignalingMessagesDroppedTotal.WithLabelValues("invalid").Inc()
		return
	}

	select {
	case target.send <- data:
		metrics.SignalingMessagesRelayedTotal.WithLabelValues(string(msg.Kind)).Inc()
	default:
		// A consumer that filled its queue must not stall delivery to
		// unrelated users; drop the connection instead.
		if h.directory.Unregister(target.userID, target) {
			close(target.send)
			metrics.SignalingConnectionsActive.Set(float64(h.directory.Len()))
			h.mirrorOffline(target.userID)
		}
		metrics.SignalingMessagesDroppedTotal.WithLabelValues("slow_consumer").Inc()
		logger.Warn("dropping slow signaling consumer",
			zap.String("user_id", target.userID.String()))
	}
}

func (h *Hub) mirrorOnline(userID uuid.UUID) {
	if h.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.mirror.SetOnline(ctx, userID); err != nil {
			logger.Warn("presence mirror update failed",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}()
}

func (h *Hub) mirrorOffline(userID uuid.UUID) {
	if h.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.mirror.SetOffline(ctx, userID); err != nil {
			logger.Warn("presence mirror update failed",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}()
}
