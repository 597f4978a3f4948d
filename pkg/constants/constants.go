// Package constants defines application-wide constants for timeouts and limits.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout bounds a single write to a peer
	WebSocketWriteTimeout = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Call lifecycle constants
const (
	// DefaultRingTimeout is how long a call may sit in ringing before the
	// server records it as missed. Override with CALL_RING_TIMEOUT.
	DefaultRingTimeout = 60 * time.Second

	// PresenceTTL is how long a presence mirror entry survives in Redis
	// without a heartbeat refresh.
	PresenceTTL = 5 * time.Minute
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute

	// RefreshTokenExpiry is the default refresh token lifetime
	RefreshTokenExpiry = 30 * 24 * time.Hour
)

// Signaling channel sizes
const (
	// ClientSendBuffer is the per-connection outbound queue length. A
	// destination that falls this far behind is dropped rather than
	// allowed to stall delivery to unrelated users.
	ClientSendBuffer = 256

	// RelayBuffer is the hub's inbound relay channel length
	RelayBuffer = 256
)
