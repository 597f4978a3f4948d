// Package call owns the durable call lifecycle: record creation on
// initiate, status transitions as participants accept, reject, or
// leave, and the terminal history kept after a call ends.
package call

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatroom-backend/internal/domain"
	apperrors "chatroom-backend/pkg/errors"
	"chatroom-backend/pkg/logger"
	"chatroom-backend/pkg/metrics"
	"chatroom-backend/pkg/pagination"
	"chatroom-backend/pkg/push"
)

// CallRecordRepository is the durable store behind the service
type CallRecordRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error
	SetParticipantJoined(ctx context.Context, callID, userID uuid.UUID, joinedAt time.Time) error
	SetParticipantLeft(ctx context.Context, callID, userID uuid.UUID, leftAt time.Time) error
	Complete(ctx context.Context, callID uuid.UUID, endedAt time.Time) error
	MarkRejected(ctx context.Context, callID uuid.UUID) error
	MarkMissed(ctx context.Context, callID uuid.UUID) error
	ListHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
	CountHistory(ctx context.Context, userID uuid.UUID) (int64, error)
}

// RelationshipOracle decides whether signaling between two users is
// permitted at all ("are they friends, is the target reachable"). The
// relay itself never checks this; the service gates initiation.
type RelationshipOracle interface {
	CanSignal(ctx context.Context, fromID, toID uuid.UUID) error
}

// PushTokenStore resolves a user's registered device tokens
type PushTokenStore interface {
	TokensForUser(ctx context.Context, userID uuid.UUID) ([]string, error)
	Remove(ctx context.Context, userID uuid.UUID, deviceToken string) error
}

// Service handles call lifecycle business logic
type Service struct {
	repo   CallRecordRepository
	oracle RelationshipOracle

	// Push delivery is optional and best-effort
	pushProvider push.Provider
	pushTokens   PushTokenStore

	// ringTimeout bounds how long a record may sit in ringing before the
	// server records it as missed. Zero disables the sweep.
	ringTimeout time.Duration
}

// Option configures optional service collaborators
type Option func(*Service)

// WithPush enables incoming-call push notifications
func WithPush(provider push.Provider, tokens PushTokenStore) Option {
	return func(s *Service) {
		s.pushProvider = provider
		s.pushTokens = tokens
	}
}

// WithRingTimeout enables the server-side missed-call sweep
func WithRingTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.ringTimeout = d
	}
}

// NewService creates a new call service
func NewService(repo CallRecordRepository, oracle RelationshipOracle, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		oracle: oracle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitiateInput contains call initiation data
type InitiateInput struct {
	InitiatorID uuid.UUID
	CalleeID    uuid.UUID
	MediaKind   domain.MediaKind
}

// Initiate creates the durable record for a new call in ringing state.
// The offer itself travels over the signaling relay; this record is the
// server-side source of truth for the call's outcome.
func (s *Service) Initiate(ctx context.Context, input *InitiateInput) (*domain.Call, error) {
	if !input.MediaKind.Valid() {
		return nil, apperrors.NewWithStatus(apperrors.ErrCodeValidation, "invalid media kind", http.StatusBadRequest)
	}
	if input.InitiatorID == input.CalleeID {
		return nil, apperrors.NewWithStatus(apperrors.ErrCodeValidation, "cannot call yourself", http.StatusBadRequest)
	}

	if err := s.oracle.CanSignal(ctx, input.InitiatorID, input.CalleeID); err != nil {
		return nil, err
	}

	now := time.Now()
	call := &domain.Call{
		CallID:      uuid.New(),
		InitiatorID: input.InitiatorID,
		MediaKind:   input.MediaKind,
		Status:      domain.CallStatusRinging,
		StartedAt:   now,
		Participants: []*domain.CallParticipant{
			{UserID: input.InitiatorID, JoinedAt: &now},
			{UserID: input.CalleeID},
		},
	}
	for _, p := range call.Participants {
		p.CallID = call.CallID
	}

	if err := s.repo.Create(ctx, call); err != nil {
		return nil, fmt.Errorf("failed to create call record: %w", err)
	}

	metrics.CallsTotal.WithLabelValues(string(input.MediaKind)).Inc()

	s.notifyIncomingCall(call, input.CalleeID)
	s.scheduleMissedSweep(call.CallID)

	return call, nil
}

// Accept stamps the callee's join time; once every non-initiator has
// joined, the call advances to ongoing.
func (s *Service) Accept(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.participantCall(ctx, callID, userID)
	if err != nil {
		return nil, err
	}

	if call.Status != domain.CallStatusRinging {
		return nil, apperrors.NewWithStatus(apperrors.ErrCodeCallNotRinging, "call is not ringing", http.StatusConflict)
	}

	now := time.Now()
	if err := s.repo.SetParticipantJoined(ctx, callID, userID, now); err != nil {
		return nil, fmt.Errorf("failed to mark joined: %w", err)
	}
	if p := call.Participant(userID); p != nil && p.JoinedAt == nil {
		p.JoinedAt = &now
	}

	if call.AllCalleesJoined() {
		if err := s.repo.UpdateStatus(ctx, callID, domain.CallStatusOngoing); err != nil {
			return nil, fmt.Errorf("failed to update status: %w", err)
		}
		call.Status = domain.CallStatusOngoing
	}

	return call, nil
}

// Reject declines a ringing call. Only valid from ringing; anything
// else is a conflict.
func (s *Service) Reject(ctx context.Context, callID, userID uuid.UUID) error {
	call, err := s.participantCall(ctx, callID, userID)
	if err != nil {
		return err
	}

	if call.Status != domain.CallStatusRinging {
		return apperrors.NewWithStatus(apperrors.ErrCodeCallNotRinging, "call is not ringing", http.StatusConflict)
	}

	if err := s.repo.MarkRejected(ctx, callID); err != nil {
		return fmt.Errorf("failed to mark rejected: %w", err)
	}

	metrics.CallsFinishedTotal.WithLabelValues(string(domain.CallStatusRejected)).Inc()
	return nil
}

// Leave stamps the user's leave time. An initiator leaving a call that
// was never joined records it as missed (the caller hung up while it
// was still ringing); otherwise, once every participant has left, the
// call completes and its duration is fixed.
func (s *Service) Leave(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.participantCall(ctx, callID, userID)
	if err != nil {
		return nil, err
	}

	if call.Status.Terminal() {
		return call, nil
	}

	now := time.Now()
	if err := s.repo.SetParticipantLeft(ctx, callID, userID, now); err != nil {
		return nil, fmt.Errorf("failed to mark left: %w", err)
	}
	if p := call.Participant(userID); p != nil && p.LeftAt == nil {
		p.LeftAt = &now
	}

	if call.Status == domain.CallStatusRinging && userID == call.InitiatorID {
		if err := s.repo.MarkMissed(ctx, callID); err != nil {
			return nil, fmt.Errorf("failed to mark missed: %w", err)
		}
		call.Status = domain.CallStatusMissed
		call.EndedAt = &now
		metrics.CallsFinishedTotal.WithLabelValues(string(domain.CallStatusMissed)).Inc()
		return call, nil
	}

	if call.AllLeft() {
		if err := s.repo.Complete(ctx, callID, now); err != nil {
			return nil, fmt.Errorf("failed to complete call: %w", err)
		}
		call.Complete(now)
		metrics.CallsFinishedTotal.WithLabelValues(string(domain.CallStatusCompleted)).Inc()
		if call.DurationSeconds != nil {
			metrics.CallDurationSeconds.Observe(float64(*call.DurationSeconds))
		}
	}

	return call, nil
}

// Get retrieves a call visible to the requesting participant
func (s *Service) Get(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	return s.participantCall(ctx, callID, userID)
}

// History returns the user's terminal calls, newest first
func (s *Service) History(ctx context.Context, userID uuid.UUID, params *pagination.Params) (*pagination.Page, error) {
	calls, err := s.repo.ListHistory(ctx, userID, params.Limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	total, err := s.repo.CountHistory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count history: %w", err)
	}

	return pagination.NewPage(params, total, calls), nil
}

func (s *Service) participantCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return nil, apperrors.WrapWithStatus(apperrors.ErrCodeCallNotFound, "call not found", http.StatusNotFound, err)
	}

	if !call.IsParticipant(userID) {
		return nil, apperrors.NewWithStatus(apperrors.ErrCodeNotInCall, "you are not part of this call", http.StatusForbidden)
	}

	return call, nil
}

// notifyIncomingCall pushes an incoming-call notification to the
// callee's devices. Failures are logged and otherwise ignored.
func (s *Service) notifyIncomingCall(call *domain.Call, calleeID uuid.UUID) {
	if s.pushProvider == nil || s.pushTokens == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tokens, err := s.pushTokens.TokensForUser(ctx, calleeID)
		if err != nil || len(tokens) == 0 {
			if err != nil {
				logger.Warn("failed to resolve push tokens",
					zap.String("user_id", calleeID.String()),
					zap.Error(err))
			}
			return
		}

		notification := push.NewIncomingCallNotification(call.CallID, "", string(call.MediaKind))
		result, err := s.pushProvider.Send(ctx, notification, tokens)
		if err != nil {
			logger.Warn("incoming call push failed",
				zap.String("call_id", call.CallID.String()),
				zap.Error(err))
			return
		}

		for _, invalid := range result.InvalidTokens {
			if err := s.pushTokens.Remove(ctx, calleeID, invalid); err != nil {
				logger.Warn("failed to remove invalid push token", zap.Error(err))
			}
		}
	}()
}

// scheduleMissedSweep records the call as missed if it is still ringing
// when the timeout lapses. The repository guards the transition, so a
// call accepted or rejected in the meantime is untouched.
func (s *Service) scheduleMissedSweep(callID uuid.UUID) {
	if s.ringTimeout <= 0 {
		return
	}

	time.AfterFunc(s.ringTimeout, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		call, err := s.repo.GetByID(ctx, callID)
		if err != nil {
			logger.Warn("missed-call sweep lookup failed",
				zap.String("call_id", callID.String()),
				zap.Error(err))
			return
		}
		if call.Status != domain.CallStatusRinging && call.Status != domain.CallStatusInitiated {
			return
		}

		if err := s.repo.MarkMissed(ctx, callID); err != nil {
			logger.Warn("missed-call sweep failed",
				zap.String("call_id", callID.String()),
				zap.Error(err))
			return
		}
		metrics.CallsFinishedTotal.WithLabelValues(string(domain.CallStatusMissed)).Inc()
	})
}
