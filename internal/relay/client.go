package relay

import (
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

// Client represents one authenticated signaling connection
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
	connID uuid.UUID

	// onClose, if set, runs once when the connection's read pump exits.
	onClose func()
}

// UserID returns the identity bound to the connection
func (c *Client) UserID() uuid.UUID {
	return c.userID
}

// ConnectionID returns the unique id of this connection
func (c *Client) ConnectionID() uuid.UUID {
	return c.connID
}

// readPump reads signaling messages from the WebSocket and hands them
// to the hub. The From field is always overwritten with the verified
// identity; a client cannot spoof its sender.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("signaling connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var msg signal.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("invalid signaling message",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			metrics.SignalingMessagesDroppedTotal.WithLabelValues("invalid").Inc()
			continue
		}

		if !msg.Kind.Valid() {
			logger.Warn("unknown signaling kind",
				zap.String("user_id", c.userID.String()),
				zap.String("kind", string(msg.Kind)))
			metrics.SignalingMessagesDroppedTotal.WithLabelValues("invalid").Inc()
			continue
		}

		msg.From = c.userID
		msg.Timestamp = time.Now()

		c.hub.relay <- &msg
	}
}

// writePump writes queued messages to the WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
