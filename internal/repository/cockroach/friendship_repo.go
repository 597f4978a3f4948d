package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FriendshipRepository handles friendship data operations in CockroachDB
type FriendshipRepository struct {
	pool *pgxpool.Pool
}

// NewFriendshipRepository creates a new FriendshipRepository
func NewFriendshipRepository(pool *pgxpool.Pool) *FriendshipRepository {
	return &FriendshipRepository{pool: pool}
}

// AreFriends reports whether an accepted friendship exists between the
// two users, in either direction.
func (r *FriendshipRepository) AreFriends(ctx context.Context, userID, otherID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM friendships
			WHERE status = 'accepted'
			  AND ((user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1))
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, otherID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check friendship: %w", err)
	}

	return exists, nil
}

// IsBlocked reports whether either user has blocked the other
func (r *FriendshipRepository) IsBlocked(ctx context.Context, userID, otherID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM blocked_users
			WHERE (blocker_id = $1 AND blocked_id = $2) OR (blocker_id = $2 AND blocked_id = $1)
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, otherID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check block status: %w", err)
	}

	return exists, nil
}
