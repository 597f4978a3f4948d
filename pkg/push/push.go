// Package push delivers push notifications for calls that arrive while
// the callee's app is backgrounded. Delivery is best-effort: a failed
// push never fails the call path.
package push

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Provider defines the interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"  // Firebase Cloud Messaging
	TokenTypeAPNs TokenType = "apns" // Apple Push Notification Service
)

// Token binds a device push token to a user
type Token struct {
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// NewIncomingCallNotification builds the notification shown to a callee
// for a ringing call.
func NewIncomingCallNotification(callID uuid.UUID, callerName, mediaKind string) *Notification {
	body := fmt.Sprintf("%s is calling you", callerName)
	if callerName == "" {
		body = "Incoming call"
	}
	return &Notification{
		Title:    "Incoming Call",
		Body:     body,
		Priority: "high",
		Sound:    "ringtone",
		Category: "incoming_call",
		Data: map[string]string{
			"call_id":    callID.String(),
			"media_kind": mediaKind,
			"timestamp":  strconv.FormatInt(time.Now().Unix(), 10),
		},
	}
}
