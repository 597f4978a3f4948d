// Package callsession implements one participant's local call state
// machine: idle through calling/ringing to connected and back. Both the
// caller and the callee run an instance; the relay only forwards the
// messages the machines exchange.
package callsession

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatroom-backend/internal/domain"
	"chatroom-backend/internal/signal"
)

// State is a session's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateCalling   State = "calling"
	StateRinging   State = "ringing"
	StateConnected State = "connected"
)

var (
	// ErrBusy is returned when starting a call while another attempt is active.
	ErrBusy = errors.New("callsession: another call is active")
	// ErrInvalidState is returned when an operation is not valid in the current state.
	ErrInvalidState = errors.New("callsession: operation not valid in current state")
	// ErrAborted is returned when setup is cancelled before it completes.
	ErrAborted = errors.New("callsession: attempt aborted")
)

// Config wires a session to its collaborators.
type Config struct {
	UserID   uuid.UUID
	Signaler Signaler
	Media    MediaProvider
	Peers    PeerFactory

	// RingTimeout bounds how long the session may sit in calling or
	// ringing before giving up. Zero disables the timeout.
	RingTimeout time.Duration

	// OnStateChange, if set, is invoked synchronously on every state
	// transition. It must not call back into the session.
	OnStateChange func(State)

	Logger *zap.Logger
}

// Session is one participant's state machine for a single call attempt.
// StartCall and Accept block while media and descriptions are prepared;
// Cancel, Reject, End, TransportFailed, and HandleSignal are safe to
// call from other goroutines and abandon any in-flight setup.
type Session struct {
	cfg Config
	log *zap.Logger

	mu    sync.Mutex
	state State

	callID    uuid.UUID
	peerID    uuid.UUID
	mediaKind domain.MediaKind

	pendingOffer      json.RawMessage
	pendingCandidates []json.RawMessage
	remoteDescApplied bool

	stream MediaStream
	peer   PeerConnection

	cancelSetup context.CancelFunc
	ringTimer   *time.Timer
	connectedAt time.Time

	// gen counts attempts; async completions and timers compare it so a
	// cancelled attempt can never resurrect a session that already
	// returned to idle.
	gen uint64
}

// New creates an idle session.
func New(cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		cfg:   cfg,
		log:   log,
		state: StateIdle,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CallID returns the id of the current attempt, or uuid.Nil when idle.
func (s *Session) CallID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

// Peer returns the remote participant of the current attempt.
func (s *Session) Peer() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// Duration returns how long the session has been connected, floored to
// whole seconds, or zero when not connected.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return 0
	}
	return time.Since(s.connectedAt).Truncate(time.Second)
}

// StartCall begins an outgoing call: acquire media, create an offer,
// relay it to the peer, and wait in calling for the answer. It blocks
// until the offer is sent or setup fails; cancel via Cancel or ctx.
func (s *Session) StartCall(ctx context.Context, peerID uuid.UUID, kind domain.MediaKind) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrBusy
	}

	s.gen++
	gen := s.gen
	s.callID = uuid.New()
	s.peerID = peerID
	s.mediaKind = kind
	setupCtx, cancel := context.WithCancel(ctx)
	s.cancelSetup = cancel
	s.setStateLocked(StateCalling)
	s.armRingTimerLocked(gen)
	callID := s.callID
	s.mu.Unlock()

	stream, peer, err := s.setupMedia(setupCtx, kind)
	if err != nil {
		s.abandonAttempt(gen, nil)
		if setupCtx.Err() != nil {
			return ErrAborted
		}
		return err
	}

	offer, err := peer.CreateOffer(setupCtx)
	if err != nil {
		stream.Close()
		peer.Close()
		s.abandonAttempt(gen, nil)
		if setupCtx.Err() != nil {
			return ErrAborted
		}
		return err
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateCalling {
		s.mu.Unlock()
		stream.Close()
		peer.Close()
		return ErrAborted
	}
	s.stream = stream
	s.peer = peer
	s.mu.Unlock()

	msg := &signal.Message{
		Kind:      signal.KindOffer,
		CallID:    callID,
		From:      s.cfg.UserID,
		To:        peerID,
		MediaKind: kind,
		Payload:   offer,
		Timestamp: time.Now(),
	}
	if err := s.cfg.Signaler.Send(msg); err != nil {
		s.abandonAttempt(gen, nil)
		return err
	}

	// The send races Cancel: if the attempt was torn down while the
	// offer was in flight, the peer has already seen end and must not
	// keep ringing on the escaped offer. Retract it.
	s.mu.Lock()
	stale := s.gen != gen
	s.mu.Unlock()
	if stale {
		if err := s.cfg.Signaler.Send(s.endMessage(callID, peerID)); err != nil {
			s.log.Warn("failed to retract cancelled offer", zap.Error(err))
		}
		return ErrAborted
	}

	return nil
}

// Accept answers the pending incoming call: acquire media, apply the
// stashed offer, relay the answer, and transition to connected.
func (s *Session) Accept(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRinging {
		s.mu.Unlock()
		return ErrInvalidState
	}
	gen := s.gen
	offer := s.pendingOffer
	kind := s.mediaKind
	callID := s.callID
	peerID := s.peerID
	setupCtx, cancel := context.WithCancel(ctx)
	s.cancelSetup = cancel
	s.mu.Unlock()

	stream, peer, err := s.setupMedia(setupCtx, kind)
	if err != nil {
		// The caller is waiting on an offered session; tell them.
		s.abandonAttempt(gen, s.rejectMessage(callID, peerID))
		if setupCtx.Err() != nil {
			return ErrAborted
		}
		return err
	}

	answer, err := s.negotiateAnswer(setupCtx, peer, offer)
	if err != nil {
		stream.Close()
		peer.Close()
		s.abandonAttempt(gen, s.rejectMessage(callID, peerID))
		if setupCtx.Err() != nil {
			return ErrAborted
		}
		return err
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateRinging {
		s.mu.Unlock()
		stream.Close()
		peer.Close()
		return ErrAborted
	}
	s.stream = stream
	s.peer = peer
	s.remoteDescApplied = true
	s.flushCandidatesLocked()
	s.pendingOffer = nil
	s.stopRingTimerLocked()
	s.connectedAt = time.Now()
	s.setStateLocked(StateConnected)
	s.mu.Unlock()

	msg := &signal.Message{
		Kind:      signal.KindAnswer,
		CallID:    callID,
		From:      s.cfg.UserID,
		To:        peerID,
		Payload:   answer,
		Timestamp: time.Now(),
	}
	if err := s.cfg.Signaler.Send(msg); err != nil {
		s.teardown(false, signal.KindEnd)
		return err
	}

	// Same race as the offer path: a hangup that landed while the answer
	// was in flight already tore the attempt down, so the escaped answer
	// must be retracted.
	s.mu.Lock()
	stale := s.gen != gen
	s.mu.Unlock()
	if stale {
		if err := s.cfg.Signaler.Send(s.endMessage(callID, peerID)); err != nil {
			s.log.Warn("failed to retract abandoned answer", zap.Error(err))
		}
		return ErrAborted
	}

	return nil
}

// Reject declines the pending incoming call and returns to idle.
func (s *Session) Reject() error {
	s.mu.Lock()
	if s.state != StateRinging {
		s.mu.Unlock()
		return ErrInvalidState
	}
	msg := s.rejectMessage(s.callID, s.peerID)
	s.teardownLocked()
	s.mu.Unlock()

	return s.cfg.Signaler.Send(msg)
}

// Cancel abandons an outgoing attempt before it is answered. Any
// in-flight media acquisition is aborted and the peer is told the
// attempt ended.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.state != StateCalling {
		s.mu.Unlock()
		return ErrInvalidState
	}
	msg := s.endMessage(s.callID, s.peerID)
	s.teardownLocked()
	s.mu.Unlock()

	return s.cfg.Signaler.Send(msg)
}

// End hangs up a connected call and returns to idle.
func (s *Session) End() error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrInvalidState
	}
	msg := s.endMessage(s.callID, s.peerID)
	s.teardownLocked()
	s.mu.Unlock()

	return s.cfg.Signaler.Send(msg)
}

// TransportFailed reports that the underlying transport is gone. The
// session converges to idle exactly as if it had received an end; no
// signal is sent because the peer is unreachable.
func (s *Session) TransportFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		return
	}
	s.teardownLocked()
}

// HandleSignal feeds one relayed message into the state machine.
// Messages for a different call than the current attempt are dropped;
// kinds that are unexpected in the current state are discarded, logged,
// and never escalate.
func (s *Session) HandleSignal(msg *signal.Message) {
	switch msg.Kind {
	case signal.KindOffer:
		s.handleOffer(msg)
	case signal.KindAnswer:
		s.handleAnswer(msg)
	case signal.KindICECandidate:
		s.handleCandidate(msg)
	case signal.KindReject:
		s.handleReject(msg)
	case signal.KindEnd:
		s.handleEnd(msg)
	default:
		s.log.Warn("dropping signaling message of unknown kind",
			zap.String("kind", string(msg.Kind)))
	}
}

func (s *Session) handleOffer(msg *signal.Message) {
	s.mu.Lock()
	if s.state != StateIdle {
		busy := signal.NewReject(s.cfg.UserID, msg)
		s.mu.Unlock()
		// Busy: an active session auto-rejects any new offer without
		// disturbing its own state.
		if err := s.cfg.Signaler.Send(busy); err != nil {
			s.log.Warn("failed to send busy reject", zap.Error(err))
		}
		return
	}

	s.gen++
	s.callID = msg.CallID
	s.peerID = msg.From
	s.mediaKind = msg.MediaKind
	s.pendingOffer = msg.Payload
	s.setStateLocked(StateRinging)
	s.armRingTimerLocked(s.gen)
	s.mu.Unlock()
}

func (s *Session) handleAnswer(msg *signal.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCalling || msg.CallID != s.callID || s.peer == nil {
		s.log.Debug("discarding unexpected answer",
			zap.String("state", string(s.state)),
			zap.String("call_id", msg.CallID.String()))
		return
	}

	if err := s.peer.SetRemoteDescription(msg.Payload); err != nil {
		s.log.Warn("failed to apply remote description", zap.Error(err))
		return
	}
	s.remoteDescApplied = true
	s.flushCandidatesLocked()
	s.stopRingTimerLocked()
	s.connectedAt = time.Now()
	s.setStateLocked(StateConnected)
}

func (s *Session) handleCandidate(msg *signal.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle || msg.CallID != s.callID {
		return
	}

	// Candidate delivery may race the description it belongs to; buffer
	// until the description has been applied, then flush in order.
	if s.peer == nil || !s.remoteDescApplied {
		s.pendingCandidates = append(s.pendingCandidates, msg.Payload)
		return
	}

	if err := s.peer.AddICECandidate(msg.Payload); err != nil {
		s.log.Warn("failed to apply ICE candidate", zap.Error(err))
	}
}

func (s *Session) handleReject(msg *signal.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Duplicate or late rejects while idle are tolerated, not errors.
	if s.state == StateIdle || msg.CallID != s.callID {
		return
	}
	if s.state != StateCalling {
		s.log.Debug("discarding unexpected reject",
			zap.String("state", string(s.state)))
		return
	}
	s.teardownLocked()
}

func (s *Session) handleEnd(msg *signal.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle || msg.CallID != s.callID {
		return
	}
	s.teardownLocked()
}

// setupMedia acquires local media and builds the peer connection.
func (s *Session) setupMedia(ctx context.Context, kind domain.MediaKind) (MediaStream, PeerConnection, error) {
	stream, err := s.cfg.Media.Acquire(ctx, kind)
	if err != nil {
		return nil, nil, err
	}

	peer, err := s.cfg.Peers.New(ctx, stream)
	if err != nil {
		stream.Close()
		return nil, nil, err
	}

	return stream, peer, nil
}

func (s *Session) negotiateAnswer(ctx context.Context, peer PeerConnection, offer json.RawMessage) (json.RawMessage, error) {
	if err := peer.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	return peer.CreateAnswer(ctx)
}

// abandonAttempt tears the session down if the given attempt is still
// current, optionally notifying the peer. Stale attempts are ignored.
func (s *Session) abandonAttempt(gen uint64, notify *signal.Message) {
	s.mu.Lock()
	if s.gen != gen || s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.mu.Unlock()

	if notify != nil {
		if err := s.cfg.Signaler.Send(notify); err != nil {
			s.log.Warn("failed to notify peer of abandoned attempt", zap.Error(err))
		}
	}
}

// teardown is the out-of-lock variant used after a failed send.
func (s *Session) teardown(notifyPeer bool, kind signal.Kind) {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	var msg *signal.Message
	if notifyPeer {
		if kind == signal.KindReject {
			msg = s.rejectMessage(s.callID, s.peerID)
		} else {
			msg = s.endMessage(s.callID, s.peerID)
		}
	}
	s.teardownLocked()
	s.mu.Unlock()

	if msg != nil {
		if err := s.cfg.Signaler.Send(msg); err != nil {
			s.log.Warn("failed to send teardown signal", zap.Error(err))
		}
	}
}

// teardownLocked releases every resource of the current attempt and
// returns to idle. Callers hold s.mu.
func (s *Session) teardownLocked() {
	s.gen++
	if s.cancelSetup != nil {
		s.cancelSetup()
		s.cancelSetup = nil
	}
	s.stopRingTimerLocked()
	if s.peer != nil {
		s.peer.Close()
		s.peer = nil
	}
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}
	s.pendingOffer = nil
	s.pendingCandidates = nil
	s.remoteDescApplied = false
	s.callID = uuid.Nil
	s.peerID = uuid.Nil
	s.connectedAt = time.Time{}
	s.setStateLocked(StateIdle)
}

func (s *Session) flushCandidatesLocked() {
	for _, candidate := range s.pendingCandidates {
		if err := s.peer.AddICECandidate(candidate); err != nil {
			s.log.Warn("failed to apply buffered ICE candidate", zap.Error(err))
		}
	}
	s.pendingCandidates = nil
}

func (s *Session) armRingTimerLocked(gen uint64) {
	if s.cfg.RingTimeout <= 0 {
		return
	}
	s.ringTimer = time.AfterFunc(s.cfg.RingTimeout, func() {
		s.onRingTimeout(gen)
	})
}

func (s *Session) stopRingTimerLocked() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

// onRingTimeout gives up an attempt that sat unanswered too long.
func (s *Session) onRingTimeout(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}

	var msg *signal.Message
	switch s.state {
	case StateCalling:
		msg = s.endMessage(s.callID, s.peerID)
	case StateRinging:
		msg = s.rejectMessage(s.callID, s.peerID)
	default:
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.mu.Unlock()

	if err := s.cfg.Signaler.Send(msg); err != nil {
		s.log.Warn("failed to send ring timeout signal", zap.Error(err))
	}
}

func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.state = next
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(next)
	}
}

func (s *Session) rejectMessage(callID, peerID uuid.UUID) *signal.Message {
	return &signal.Message{
		Kind:      signal.KindReject,
		CallID:    callID,
		From:      s.cfg.UserID,
		To:        peerID,
		Timestamp: time.Now(),
	}
}

func (s *Session) endMessage(callID, peerID uuid.UUID) *signal.Message {
	return &signal.Message{
		Kind:      signal.KindEnd,
		CallID:    callID,
		From:      s.cfg.UserID,
		To:        peerID,
		Timestamp: time.Now(),
	}
}
