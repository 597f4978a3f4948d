package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"chatroom-backend/pkg/push"
)

// PushTokenRepository stores device push tokens in Redis
type PushTokenRepository struct {
	client *redis.Client
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(client *redis.Client) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

// Store stores a push notification token.
// Keys: push:token:{token} holds the record, push:user:{userID}:tokens
// indexes a user's tokens.
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	now := time.Now().Unix()
	if token.CreatedAt == 0 {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	tokenKey := fmt.Sprintf("push:token:%s", token.Token)
	if err := r.client.Set(ctx, tokenKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	userTokensKey := fmt.Sprintf("push:user:%s:tokens", token.UserID)
	if err := r.client.SAdd(ctx, userTokensKey, token.Token).Err(); err != nil {
		return fmt.Errorf("failed to index token: %w", err)
	}

	return nil
}

// TokensForUser returns the raw device tokens registered for a user
func (r *PushTokenRepository) TokensForUser(ctx context.Context, userID uuid.UUID) ([]string, error) {
	userTokensKey := fmt.Sprintf("push:user:%s:tokens", userID)

	tokens, err := r.client.SMembers(ctx, userTokensKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user tokens: %w", err)
	}

	return tokens, nil
}

// Remove deletes a token, e.g. after the provider reports it invalid
func (r *PushTokenRepository) Remove(ctx context.Context, userID uuid.UUID, deviceToken string) error {
	tokenKey := fmt.Sprintf("push:token:%s", deviceToken)
	if err := r.client.Del(ctx, tokenKey).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	userTokensKey := fmt.Sprintf("push:user:%s:tokens", userID)
	if err := r.client.SRem(ctx, userTokensKey, deviceToken).Err(); err != nil {
		return fmt.Errorf("failed to unindex token: %w", err)
	}

	return nil
}
