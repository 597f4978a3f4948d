package callsession

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatroom-backend/internal/domain"
	"chatroom-backend/internal/signal"
)

type fakeSignaler struct {
	mu   sync.Mutex
	sent []*signal.Message
	err  error
}

func (f *fakeSignaler) Send(msg *signal.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSignaler) messages() []*signal.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*signal.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSignaler) lastKind() signal.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].Kind
}

type fakeStream struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeMedia struct {
	mu       sync.Mutex
	err      error
	delay    time.Duration
	streams  []*fakeStream
	acquired int
}

func (f *fakeMedia) Acquire(ctx context.Context, kind domain.MediaKind) (MediaStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired++
	stream := &fakeStream{}
	f.streams = append(f.streams, stream)
	return stream, nil
}

type fakePeer struct {
	mu         sync.Mutex
	remoteDesc json.RawMessage
	candidates []json.RawMessage
	closed     bool

	offerErr  error
	answerErr error
	setErr    error
}

func (f *fakePeer) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	if f.offerErr != nil {
		return nil, f.offerErr
	}
	return json.RawMessage(`{"type":"offer"}`), nil
}

func (f *fakePeer) CreateAnswer(ctx context.Context) (json.RawMessage, error) {
	if f.answerErr != nil {
		return nil, f.answerErr
	}
	return json.RawMessage(`{"type":"answer"}`), nil
}

func (f *fakePeer) SetRemoteDescription(desc json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.remoteDesc = desc
	return nil
}

func (f *fakePeer) AddICECandidate(candidate json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, candidate)
	return nil
}

func (f *fakePeer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePeer) candidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

func (f *fakePeer) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakePeers struct {
	peer *fakePeer
	err  error
}

func (f *fakePeers) New(ctx context.Context, stream MediaStream) (PeerConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.peer, nil
}

type harness struct {
	session  *Session
	signaler *fakeSignaler
	media    *fakeMedia
	peer     *fakePeer
	userID   uuid.UUID
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		signaler: &fakeSignaler{},
		media:    &fakeMedia{},
		peer:     &fakePeer{},
		userID:   uuid.New(),
	}
	cfg := Config{
		UserID:   h.userID,
		Signaler: h.signaler,
		Media:    h.media,
		Peers:    &fakePeers{peer: h.peer},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h.session = New(cfg)
	return h
}

func incomingOffer(from uuid.UUID) *signal.Message {
	return &signal.Message{
		Kind:      signal.KindOffer,
		CallID:    uuid.New(),
		From:      from,
		MediaKind: domain.MediaKindVideo,
		Payload:   json.RawMessage(`{"type":"offer","sdp":"remote"}`),
		Timestamp: time.Now(),
	}
}

func TestStartCall_SendsOfferAndEntersCalling(t *testing.T) {
	h := newHarness(t)
	peerID := uuid.New()

	err := h.session.StartCall(context.Background(), peerID, domain.MediaKindVideo)

	require.NoError(t, err)
	assert.Equal(t, StateCalling, h.session.State())
	assert.NotEqual(t, uuid.Nil, h.session.CallID())

	msgs := h.signaler.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, signal.KindOffer, msgs[0].Kind)
	assert.Equal(t, h.userID, msgs[0].From)
	assert.Equal(t, peerID, msgs[0].To)
	assert.Equal(t, domain.MediaKindVideo, msgs[0].MediaKind)
	assert.Equal(t, h.session.CallID(), msgs[0].CallID)
}

func TestStartCall_BusyWhileActive(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.StartCall(context.Background(), uuid.New(), domain.MediaKindAudio))

	err := h.session.StartCall(context.Background(), uuid.New(), domain.MediaKindAudio)

	assert.ErrorIs(t, err, ErrBusy)
}

func TestStartCall_MediaFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	h.media.err = errors.New("camera unavailable")

	err := h.session.StartCall(context.Background(), uuid.New(), domain.MediaKindVideo)

	assert.Error(t, err)
	assert.Equal(t, StateIdle, h.session.State())
	assert.Empty(t, h.signaler.messages())
}

func TestIncomingOffer_RingsWhileIdle(t *testing.T) {
	h := newHarness(t)
	callerID := uuid.New()
	offer := incomingOffer(callerID)

	h.session.HandleSignal(offer)

	assert.Equal(t, StateRinging, h.session.State())
	assert.Equal(t, offer.CallID, h.session.CallID())
	assert.Equal(t, callerID, h.session.Peer())
}

func TestIncomingOffer_BusyAutoRejects(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.StartCall(context.Background(), uuid.New(), domain.MediaKindAudio))
	activeCallID := h.session.CallID()

	intruderID := uuid.New()
	offer := incomingOffer(intruderID)
	h.session.HandleSignal(offer)

	// The active attempt is untouched; the intruder gets a reject tagged
	// with their own call id.
	assert.Equal(t, StateCalling, h.session.State())
	assert.Equal(t, activeCallID, h.session.CallID())

	msgs := h.signaler.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, signal.KindReject, msgs[1].Kind)
	assert.Equal(t, intruderID, msgs[1].To)
	assert.Equal(t, offer.CallID, msgs[1].CallID)
}

func TestAccept_Connects(t *testing.T) {
	h := newHarness(t)
	callerID := uuid.New()
	offer := incomingOffer(callerID)
	h.session.HandleSignal(offer)

	err := h.session.Accept(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StateConnected, h.session.State())
	assert.Equal(t, offer.Payload, h.peer.remoteDesc)

	msgs := h.signaler.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, signal.KindAnswer, msgs[0].Kind)
	assert.Equal(t, callerID, msgs[0].To)
	assert.Equal(t, offer.CallID, msgs[0].CallID)
}

func TestAccept_InvalidWhenIdle(t *testing.T) {
	h := newHarness(t)

	err := h.session.Accept(context.Background())

	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAccept_MediaFailureRejectsCaller(t *testing.T) {
	h := newHarness(t)
	callerID := uuid.New()
	h.session.HandleSignal(incomingOffer(callerID))
	h.media.err = errors.New("microphone unavailable")

	err := h.session.Accept(context.Background())

	assert.Error(t, err)
	assert.Equal(t, StateIdle, h.session.State())
	assert.Equal(t, signal.KindReject, h.signaler.lastKind())
}

func TestCandidates_BufferedUntilAccept(t *testing.T) {
	h := newHarness(t)
	callerID := uuid.New()
	offer := incomingOffer(callerID)
	h.session.HandleSignal(offer)

	// Candidates race ahead of the accept; they must be held, not fed to
	// a peer that has no remote description yet.
	for i := 0; i < 3; i++ {
		h.session.HandleSignal(&signal.Message{
			Kind:    signal.KindICECandidate,
			CallID:  offer.CallID,
			From:    callerID,
			Payload: json.RawMessage(`{"candidate":"a"}`),
		})
	}
	assert.Equal(t, 0, h.peer.candidateCount())

	require.NoError(t, h.session.Accept(context.Background()))

	assert.Equal(t, 3, h.peer.candidateCount())
}

func TestCandidates_BufferedUntilAnswer(t *testing.T) {
	h := newHarness(t)
	peerID := uuid.New()
	require.NoError(t, h.session.StartCall(context.Background(), peerID, domain.MediaKindVideo))
	callID := h.session.CallID()

	h.session.HandleSignal(&signal.Message{
		Kind:    signal.KindICECandidate,
		CallID:  callID,
		From:    peerID,
		Payload: json.RawMessage(`{"candidate":"early"}`),
	})
	assert.Equal(t, 0, h.peer.candidateCount())

	h.session.HandleSignal(&signal.Message{
		Kind:    signal.KindAnswer,
		CallID:  callID,
		From:    peerID,
		Payload: json.RawMessage(`{"type":"answer"}`),
	})

	assert.Equal(t, StateConnected, h.session.State())
	assert.Equal(t, 1, h.peer.candidateCount())

	// Late candidates now apply directly.
	h.session.HandleSignal(&signal.Message{
		Kind:    signal.KindICECandidate,
		CallID:  callID,
		From:    peerID,
		Payload: json.RawMessage(`{"candidate":"late"}`),
	})
	assert.Equal(t, 2, h.peer.candidateCount())
}

func TestCandidates_StaleCallIDDropped(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.StartCall(context.Background(), uuid.New(), domain.MediaKindAudio))

	h.session.HandleSignal(&signal.Message{
		Kind:    signal.KindICECandidate,
		CallID:  uuid.New(),
		Payload: json.RawMessage(`{"candidate":"stale"}`),
	})

	h.session.HandleSignal(&signal.Message{
		Kind:    signal.KindAnswer,
		CallID:  h.session.CallID(),
		Payload: json.RawMessage(`{"type":"answer"}`),
	})
	assert.Equal(t, 0, h.peer.candidateCount())
}

func TestAnswer_StaleCallIDIgnored(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.StartCall(context.Background(), uuid.New(), domain.MediaKindVideo))

	h.session.HandleSignal(&signal.Message{
		Kind:    signal.KindAnswer,
		CallID:  uuid.New(),
		Payload: json.RawMessage(`{"type":"answer"}`),
	})

	assert.Equal(t, StateCalling, h.session.State())
}

func TestReject_TearsDownCaller(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.StartCall(context.Background(), uuid.New(), domain.MediaKindVideo))

	h.session.HandleSignal(&signal.Message{
		Kind:   signal.KindReject,
		CallID: h.session.CallID(),
	})

	assert.Equal(t, StateIdle, h.session.State())
	assert.True(t, h.peer.isClosed())
	assert.True(t, h.media.streams[0].isClosed())
}

func TestReject_IgnoredWhenConnected(t *testing.T) {
	h := newHarness(t)
	peerID := uuid.New()
	require.NoError(t, h.session.StartCall(context.Background(), peerID, domain.MediaKindVideo))
	callID := h.session.CallID()
	h.session.HandleSignal(&signal.Message{
		Kind:    signal.KindAnswer,
		CallID:  callID,
		From:    peerID,
		Payload: json.RawMessage(`{"type":"answer"}`),
	})
	require.Equal(t, StateConnected, h.session.State())

	h.session.HandleSignal(&signal.Message{
		Kind:   signal.KindReject,
		CallID: callID,
	})

	assert.Equal(t, StateConnected, h.session.State())
}

func TestEnd_TearsDownConnectedCall(t *testing.T) {
	h := newHarness(t)
	h.session.HandleSignal(incomingOffer(uuid.New()))
	callID := h.session.CallID()
	require.NoError(t, h.session.Accept(context.Background()))

	h.session.HandleSignal(&signal.Message{
		Kind:   signal.KindEnd,
		CallID: callID,
	})

	assert.Equal(t, StateIdle, h.session.State())
	assert.True(t, h.peer.isClosed())
}

func TestEnd_DuplicateAndStaleIgnored(t *testing.T) {
	h := newHarness(t)
	h.session.HandleSignal(incomingOffer(uuid.New()))
	callID := h.session.CallID()
	require.NoError(t, h.session.Accept(context.Background()))

	h.session.HandleSignal(&signal.Message{Kind: signal.KindEnd, CallID: callID})
	h.session.HandleSignal(&signal.Message{Kind: signal.KindEnd, CallID: callID})
	h.session.HandleSignal(&signal.Message{Kind: signal.KindEnd, CallID: uuid.New()})

	assert.Equal(t, StateIdle, h.session.State())
}

func TestRejectCall_SendsRejectAndReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	callerID := uuid.New()
	offer := incomingOffer(callerID)
	h.session.HandleSignal(offer)

	err := h.session.Reject()

	require.NoError(t, err)
	assert.Equal(t, StateIdle, h.session.State())

	msgs := h.signaler.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, signal.KindReject, msgs[0].Kind)
	assert.Equal(t, callerID, msgs[0].To)
	assert.Equal(t, offer.CallID, msgs[0].CallID)
}

func TestCancel_AbortsOutgoingCall(t *testing.T) {
	h := newHarness(t)
	peerID := uuid.New()
	require.NoError(t, h.session.StartCall(context.Background(), peerID, domain.MediaKindAudio))

	err := h.session.Cancel()

	require.NoError(t, err)
	assert.Equal(t, StateIdle, h.session.State())
	assert.Equal(t, signal.KindEnd, h.signaler.lastKind())
}

func TestCancel_DuringMediaAcquisition(t *testing.T) {
	h := newHarness(t)
	h.media.delay = 5 * time.Second

	done := make(chan error, 1)
	go func() {
		done <- h.session.StartCall(context.Background(), uuid.New(), domain.MediaKindVideo)
	}()

	require.Eventually(t, func() bool {
		return h.session.State() == StateCalling
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.session.Cancel())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("StartCall did not return after cancel")
	}
	assert.Equal(t, StateIdle, h.session.State())
}

// gatedSignaler parks sends of one kind until the gate opens, so tests
// can interleave other session calls with an in-flight send.
type gatedSignaler struct {
	inner    *fakeSignaler
	hold     signal.Kind
	gate     chan struct{}
	inFlight chan struct{}
}

func (g *gatedSignaler) Send(msg *signal.Message) error {
	if msg.Kind == g.hold {
		g.inFlight <- struct{}{}
		<-g.gate
	}
	return g.inner.Send(msg)
}

func TestCancel_WhileOfferSendInFlight(t *testing.T) {
	gated := &gatedSignaler{
		inner:    &fakeSignaler{},
		hold:     signal.KindOffer,
		gate:     make(chan struct{}),
		inFlight: make(chan struct{}, 1),
	}
	h := newHarness(t, func(cfg *Config) {
		cfg.Signaler = gated
	})

	done := make(chan error, 1)
	go func() {
		done <- h.session.StartCall(context.Background(), uuid.New(), domain.MediaKindVideo)
	}()

	<-gated.inFlight
	require.NoError(t, h.session.Cancel())
	close(gated.gate)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("StartCall did not return")
	}
	assert.Equal(t, StateIdle, h.session.State())

	// The offer escaped after the cancel's end, so it is followed by a
	// retraction for the same call id.
	msgs := gated.inner.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, signal.KindEnd, msgs[0].Kind)
	assert.Equal(t, signal.KindOffer, msgs[1].Kind)
	assert.Equal(t, signal.KindEnd, msgs[2].Kind)
	assert.Equal(t, msgs[1].CallID, msgs[2].CallID)
}

func TestIncomingEnd_WhileAnswerSendInFlight(t *testing.T) {
	gated := &gatedSignaler{
		inner:    &fakeSignaler{},
		hold:     signal.KindAnswer,
		gate:     make(chan struct{}),
		inFlight: make(chan struct{}, 1),
	}
	h := newHarness(t, func(cfg *Config) {
		cfg.Signaler = gated
	})
	offer := incomingOffer(uuid.New())
	h.session.HandleSignal(offer)

	done := make(chan error, 1)
	go func() {
		done <- h.session.Accept(context.Background())
	}()

	<-gated.inFlight
	h.session.HandleSignal(&signal.Message{Kind: signal.KindEnd, CallID: offer.CallID})
	close(gated.gate)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept did not return")
	}
	assert.Equal(t, StateIdle, h.session.State())

	msgs := gated.inner.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, signal.KindAnswer, msgs[0].Kind)
	assert.Equal(t, signal.KindEnd, msgs[1].Kind)
	assert.Equal(t, offer.CallID, msgs[1].CallID)
}

func TestEndCall_HangsUp(t *testing.T) {
	h := newHarness(t)
	h.session.HandleSignal(incomingOffer(uuid.New()))
	require.NoError(t, h.session.Accept(context.Background()))

	err := h.session.End()

	require.NoError(t, err)
	assert.Equal(t, StateIdle, h.session.State())
	assert.Equal(t, signal.KindEnd, h.signaler.lastKind())
}

func TestTransportFailed_ConvergesToIdleSilently(t *testing.T) {
	h := newHarness(t)
	h.session.HandleSignal(incomingOffer(uuid.New()))
	require.NoError(t, h.session.Accept(context.Background()))
	before := len(h.signaler.messages())

	h.session.TransportFailed()

	assert.Equal(t, StateIdle, h.session.State())
	assert.Len(t, h.signaler.messages(), before)
	assert.True(t, h.peer.isClosed())
}

func TestRingTimeout_CallerGivesUp(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.RingTimeout = 30 * time.Millisecond
	})
	require.NoError(t, h.session.StartCall(context.Background(), uuid.New(), domain.MediaKindAudio))

	assert.Eventually(t, func() bool {
		return h.session.State() == StateIdle
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, signal.KindEnd, h.signaler.lastKind())
}

func TestRingTimeout_CalleeStopsRinging(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.RingTimeout = 30 * time.Millisecond
	})
	h.session.HandleSignal(incomingOffer(uuid.New()))

	assert.Eventually(t, func() bool {
		return h.session.State() == StateIdle
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, signal.KindReject, h.signaler.lastKind())
}

func TestOnStateChange_ObservesTransitions(t *testing.T) {
	var mu sync.Mutex
	var states []State
	h := newHarness(t, func(cfg *Config) {
		cfg.OnStateChange = func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}
	})

	h.session.HandleSignal(incomingOffer(uuid.New()))
	require.NoError(t, h.session.Accept(context.Background()))
	require.NoError(t, h.session.End())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateRinging, StateConnected, StateIdle}, states)
}
