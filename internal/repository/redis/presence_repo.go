package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"chatroom-backend/pkg/constants"
)

// PresenceRepository mirrors signaling connection state into Redis so
// other services can check reachability before attempting a call. The
// relay's in-memory directory stays authoritative for routing; this is
// only the shared read model.
type PresenceRepository struct {
	client *redis.Client
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *redis.Client) *PresenceRepository {
	return &PresenceRepository{client: client}
}

// SetOnline marks the user reachable
func (r *PresenceRepository) SetOnline(ctx context.Context, userID uuid.UUID) error {
	key := fmt.Sprintf("presence:%s", userID)

	// TTL guards against a crashed relay leaving users online forever.
	if err := r.client.Set(ctx, key, "online", constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}

	if err := r.client.SAdd(ctx, "presence:online", userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}

	return nil
}

// SetOffline marks the user unreachable
func (r *PresenceRepository) SetOffline(ctx context.Context, userID uuid.UUID) error {
	key := fmt.Sprintf("presence:%s", userID)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}

	if err := r.client.SRem(ctx, "presence:online", userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}

	return nil
}

// IsOnline checks whether the user currently has a signaling connection
func (r *PresenceRepository) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	key := fmt.Sprintf("presence:%s", userID)

	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}

	return exists > 0, nil
}

// Refresh extends the user's presence TTL (heartbeat)
func (r *PresenceRepository) Refresh(ctx context.Context, userID uuid.UUID) error {
	key := fmt.Sprintf("presence:%s", userID)

	if err := r.client.Expire(ctx, key, constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}

	return nil
}

// OnlineUsers retrieves the ids of currently online users
func (r *PresenceRepository) OnlineUsers(ctx context.Context) ([]uuid.UUID, error) {
	raw, err := r.client.SMembers(ctx, "presence:online").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}

	userIDs := make([]uuid.UUID, 0, len(raw))
	for _, idStr := range raw {
		userID, err := uuid.Parse(idStr)
		if err != nil {
			continue // Skip invalid entries
		}
		userIDs = append(userIDs, userID)
	}

	return userIDs, nil
}
