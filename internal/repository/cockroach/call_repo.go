package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatroom-backend/internal/domain"
)

// CallRepository handles durable call record operations
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// Create persists a new call record with its participants
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO calls (
			call_id, initiator_id, media_kind, status, started_at
		) VALUES ($1, $2, $3, $4, $5)
	`

	_, err = tx.Exec(ctx, query,
		call.CallID,
		call.InitiatorID,
		call.MediaKind,
		call.Status,
		call.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	for _, p := range call.Participants {
		_, err = tx.Exec(ctx, `
			INSERT INTO call_participants (call_id, user_id, joined_at, left_at)
			VALUES ($1, $2, $3, $4)
		`, call.CallID, p.UserID, p.JoinedAt, p.LeftAt)
		if err != nil {
			return fmt.Errorf("failed to add participant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit call: %w", err)
	}

	return nil
}

// GetByID retrieves a call with its participants
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT call_id, initiator_id, media_kind, status,
		       started_at, ended_at, duration_seconds
		FROM calls
		WHERE call_id = $1
	`

	call := &domain.Call{}
	err := r.pool.QueryRow(ctx, query, callID).Scan(
		&call.CallID,
		&call.InitiatorID,
		&call.MediaKind,
		&call.Status,
		&call.StartedAt,
		&call.EndedAt,
		&call.DurationSeconds,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("call not found")
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	participants, err := r.getParticipants(ctx, callID)
	if err != nil {
		return nil, err
	}
	call.Participants = participants

	return call, nil
}

// UpdateStatus updates the call status
func (r *CallRepository) UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error {
	query := `
		UPDATE calls
		SET status = $2
		WHERE call_id = $1
	`

	_, err := r.pool.Exec(ctx, query, callID, status)
	if err != nil {
		return fmt.Errorf("failed to update call status: %w", err)
	}

	return nil
}

// SetParticipantJoined stamps a participant's join time
func (r *CallRepository) SetParticipantJoined(ctx context.Context, callID, userID uuid.UUID, joinedAt time.Time) error {
	query := `
		UPDATE call_participants
		SET joined_at = $3
		WHERE call_id = $1 AND user_id = $2 AND joined_at IS NULL
	`

	_, err := r.pool.Exec(ctx, query, callID, userID, joinedAt)
	if err != nil {
		return fmt.Errorf("failed to set participant joined: %w", err)
	}

	return nil
}

// SetParticipantLeft stamps a participant's leave time
func (r *CallRepository) SetParticipantLeft(ctx context.Context, callID, userID uuid.UUID, leftAt time.Time) error {
	query := `
		UPDATE call_participants
		SET left_at = $3
		WHERE call_id = $1 AND user_id = $2 AND left_at IS NULL
	`

	_, err := r.pool.Exec(ctx, query, callID, userID, leftAt)
	if err != nil {
		return fmt.Errorf("failed to set participant left: %w", err)
	}

	return nil
}

// Complete marks the call completed at endedAt and computes the duration
// in whole seconds. The guard on status makes the duration immutable
// once written.
func (r *CallRepository) Complete(ctx context.Context, callID uuid.UUID, endedAt time.Time) error {
	query := `
		UPDATE calls
		SET status = 'completed',
		    ended_at = $2,
		    duration_seconds = FLOOR(EXTRACT(EPOCH FROM ($2 - started_at)))::INT
		WHERE call_id = $1 AND status != 'completed'
	`

	_, err := r.pool.Exec(ctx, query, callID, endedAt)
	if err != nil {
		return fmt.Errorf("failed to complete call: %w", err)
	}

	return nil
}

// MarkRejected transitions a ringing call to rejected. Any other status
// is left untouched.
func (r *CallRepository) MarkRejected(ctx context.Context, callID uuid.UUID) error {
	query := `
		UPDATE calls
		SET status = 'rejected', ended_at = NOW()
		WHERE call_id = $1 AND status = 'ringing'
	`

	_, err := r.pool.Exec(ctx, query, callID)
	if err != nil {
		return fmt.Errorf("failed to mark call rejected: %w", err)
	}

	return nil
}

// MarkMissed records a call that was never joined
func (r *CallRepository) MarkMissed(ctx context.Context, callID uuid.UUID) error {
	query := `
		UPDATE calls
		SET status = 'missed', ended_at = NOW()
		WHERE call_id = $1 AND status IN ('initiated', 'ringing')
	`

	_, err := r.pool.Exec(ctx, query, callID)
	if err != nil {
		return fmt.Errorf("failed to mark call missed: %w", err)
	}

	return nil
}

// ListHistory retrieves terminal calls the user took part in, newest first
func (r *CallRepository) ListHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	query := `
		SELECT DISTINCT c.call_id, c.initiator_id, c.media_kind, c.status,
		       c.started_at, c.ended_at, c.duration_seconds
		FROM calls c
		JOIN call_participants cp ON c.call_id = cp.call_id
		WHERE cp.user_id = $1
		  AND c.status IN ('completed', 'missed', 'rejected')
		ORDER BY c.started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list call history: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call := &domain.Call{}
		err := rows.Scan(
			&call.CallID,
			&call.InitiatorID,
			&call.MediaKind,
			&call.Status,
			&call.StartedAt,
			&call.EndedAt,
			&call.DurationSeconds,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}

	for _, call := range calls {
		participants, err := r.getParticipants(ctx, call.CallID)
		if err != nil {
			return nil, err
		}
		call.Participants = participants
	}

	return calls, nil
}

// CountHistory counts terminal calls the user took part in
func (r *CallRepository) CountHistory(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `
		SELECT COUNT(DISTINCT c.call_id)
		FROM calls c
		JOIN call_participants cp ON c.call_id = cp.call_id
		WHERE cp.user_id = $1
		  AND c.status IN ('completed', 'missed', 'rejected')
	`

	var total int64
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count call history: %w", err)
	}

	return total, nil
}

func (r *CallRepository) getParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	query := `
		SELECT call_id, user_id, joined_at, left_at
		FROM call_participants
		WHERE call_id = $1
		ORDER BY joined_at ASC
	`

	rows, err := r.pool.Query(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []*domain.CallParticipant
	for rows.Next() {
		p := &domain.CallParticipant{}
		err := rows.Scan(
			&p.CallID,
			&p.UserID,
			&p.JoinedAt,
			&p.LeftAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, nil
}
