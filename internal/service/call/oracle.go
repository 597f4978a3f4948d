package call

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	apperrors "chatroom-backend/pkg/errors"
)

// FriendChecker answers relationship questions about two users
type FriendChecker interface {
	AreFriends(ctx context.Context, userID, otherID uuid.UUID) (bool, error)
	IsBlocked(ctx context.Context, userID, otherID uuid.UUID) (bool, error)
}

// PresenceChecker reports whether a user currently holds a signaling
// connection.
type PresenceChecker interface {
	IsOnline(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Oracle is the default RelationshipOracle: callers may only ring
// friends who are not blocked and are currently reachable.
type Oracle struct {
	friends  FriendChecker
	presence PresenceChecker
}

// NewOracle creates a new Oracle
func NewOracle(friends FriendChecker, presence PresenceChecker) *Oracle {
	return &Oracle{
		friends:  friends,
		presence: presence,
	}
}

// CanSignal returns nil when fromID is allowed to initiate a call to toID
func (o *Oracle) CanSignal(ctx context.Context, fromID, toID uuid.UUID) error {
	blocked, err := o.friends.IsBlocked(ctx, fromID, toID)
	if err != nil {
		return fmt.Errorf("failed to check block status: %w", err)
	}
	if blocked {
		return apperrors.NewWithStatus(apperrors.ErrCodeForbidden, "cannot call this user", http.StatusForbidden)
	}

	friends, err := o.friends.AreFriends(ctx, fromID, toID)
	if err != nil {
		return fmt.Errorf("failed to check friendship: %w", err)
	}
	if !friends {
		return apperrors.NewWithStatus(apperrors.ErrCodeNotFriends, "users are not friends", http.StatusForbidden)
	}

	online, err := o.presence.IsOnline(ctx, toID)
	if err != nil {
		return fmt.Errorf("failed to check presence: %w", err)
	}
	if !online {
		return apperrors.NewWithStatus(apperrors.ErrCodeUserOffline, "user is not available", http.StatusConflict)
	}

	return nil
}
