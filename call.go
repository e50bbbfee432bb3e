// Package firecall runs a two-party WebRTC call over a shared document store used as the
// signaling relay.
//
// The initiator creates a session record holding its offer and streams its ICE candidates into
// the record's offerCandidates collection. The responder joins with the session id, answers, and
// streams into answerCandidates. Each side applies the other's candidates. Hangup from either side
// deletes everything the call left in the store and closes the local transport.
package firecall

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/store"
	"github.com/harshabose/simple_webrtc_comm/firecall/pkg/transport"
)

// Call is one participant's side of a call. A Call and its transport negotiate a single session:
// either Create or Join is called once, then Hangup.
type Call struct {
	store      store.Store
	transport  transport.Transport
	teardown   *Teardown
	collection string
	logger     zerolog.Logger

	id    string
	role  Role
	phase Phase

	// localReady is set once the own description is in the store; candidates gathered before that
	// wait in localPending.
	localReady   bool
	localPending []transport.Candidate
	// remoteReady is set once the peer's description is applied; candidates delivered before that
	// wait in remotePending.
	remoteReady   bool
	remotePending []transport.Candidate
	seenEntries   map[string]struct{}
	answerApplied bool
	recordSeen    bool

	subs   []store.Unsubscribe
	writes sync.WaitGroup

	onPhaseChange func(Phase)
	onStateChange func(transport.ConnectionState)
	onRemoteTrack transport.RemoteTrackHandler
	onPeerHangup  func()
	onError       func(error)

	// events queued under mux and run by unlock, so hooks never run with the lock held.
	events []func()
	mux    sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// CallOption configures a Call in NewCall.
type CallOption = func(*Call) error

// NewCall binds a call to its store and transport and registers for the transport's events.
func NewCall(s store.Store, t transport.Transport, options ...CallOption) (*Call, error) {
	if s == nil || t == nil {
		return nil, errors.New("a call needs both a store and a transport")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Call{
		store:       s,
		transport:   t,
		collection:  DefaultCollection,
		logger:      zerolog.Nop(),
		seenEntries: make(map[string]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}

	for _, option := range options {
		if err := option(c); err != nil {
			cancel()
			return nil, err
		}
	}

	c.logger = c.logger.With().Str("module", "call").Logger()
	c.teardown = NewTeardown(s, c.collection, c.logger)

	t.OnLocalCandidate(c.onLocalCandidate)
	t.OnConnectionStateChange(c.onConnectionStateChange)
	t.OnRemoteTrack(c.onTrack)

	return c, nil
}

func WithLogger(logger zerolog.Logger) CallOption {
	return func(c *Call) error {
		c.logger = logger
		return nil
	}
}

// WithCollection sets the root collection of session records. Both peers must agree on it.
func WithCollection(collection string) CallOption {
	return func(c *Call) error {
		if collection == "" {
			return errors.New("collection name cannot be empty")
		}
		c.collection = collection
		return nil
	}
}

func OnPhaseChange(handler func(Phase)) CallOption {
	return func(c *Call) error {
		c.onPhaseChange = handler
		return nil
	}
}

func OnConnectionStateChange(handler func(transport.ConnectionState)) CallOption {
	return func(c *Call) error {
		c.onStateChange = handler
		return nil
	}
}

func OnRemoteTrack(handler transport.RemoteTrackHandler) CallOption {
	return func(c *Call) error {
		c.onRemoteTrack = handler
		return nil
	}
}

// OnPeerHangup fires when the session record disappears after it was seen, which means the peer
// tore the call down. The call itself stays up until Hangup.
func OnPeerHangup(handler func()) CallOption {
	return func(c *Call) error {
		c.onPeerHangup = handler
		return nil
	}
}

// OnError receives failures that happen inside subscription and transport callbacks, where there
// is no caller to return them to.
func OnError(handler func(error)) CallOption {
	return func(c *Call) error {
		c.onError = handler
		return nil
	}
}

func (c *Call) SessionID() string {
	c.mux.Lock()
	defer c.mux.Unlock()

	return c.id
}

func (c *Call) Role() Role {
	c.mux.Lock()
	defer c.mux.Unlock()

	return c.role
}

func (c *Call) Phase() Phase {
	c.mux.Lock()
	defer c.mux.Unlock()

	return c.phase
}

func (c *Call) ConnectionState() transport.ConnectionState {
	return c.transport.ConnectionState()
}

// Hangup moves the call to Closed, stops every subscription and runs the teardown. It can be
// called in any phase and more than once; later calls repeat the store cleanup.
func (c *Call) Hangup(ctx context.Context) error {
	c.mux.Lock()
	if c.phase != PhaseClosed {
		c.setPhaseLocked(PhaseClosed)
	}
	subs := c.subs
	c.subs = nil
	id := c.id
	role := c.role
	c.localPending = nil
	c.remotePending = nil
	c.cancel()
	c.unlock()

	c.writes.Wait()

	c.logger.Info().Str("session", id).Str("role", role.String()).Msg("hanging up")
	return c.teardown.Run(ctx, id, c.transport, subs...)
}

// +++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

// begin claims the call for role. Only an idle, unclaimed call can be claimed.
func (c *Call) begin(op string, role Role) error {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.phase != PhaseIdle || c.role != RoleNone {
		return &StateError{Op: op, Phase: c.phase, Reason: "call was already used as " + c.role.String()}
	}
	c.role = role
	return nil
}

// release undoes begin when nothing was written yet, so the call can be retried.
func (c *Call) release() {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.phase == PhaseIdle {
		c.role = RoleNone
		c.id = ""
	}
}

func (c *Call) advance(op string, to Phase) error {
	c.mux.Lock()
	defer c.unlock()

	return c.advanceLocked(op, to)
}

func (c *Call) advanceLocked(op string, to Phase) error {
	if c.phase == PhaseClosed {
		return &StateError{Op: op, Phase: c.phase, Reason: "call was hung up"}
	}
	if !canTransition(c.role, c.phase, to) {
		return &StateError{Op: op, Phase: c.phase, Reason: "cannot move to " + to.String() + " as " + c.role.String()}
	}

	c.setPhaseLocked(to)

	// connectivity can be reported before the last signaling write is acknowledged.
	if (to == PhaseAwaitingAnswer || to == PhaseAnswered) && c.transport.ConnectionState() == transport.StateConnected {
		c.setPhaseLocked(PhaseConnected)
	}
	return nil
}

func (c *Call) setPhaseLocked(to Phase) {
	from := c.phase
	c.phase = to

	c.logger.Debug().Str("session", c.id).Str("role", c.role.String()).Str("from", from.String()).Str("to", to.String()).Msg("phase changed")
	if handler := c.onPhaseChange; handler != nil {
		c.events = append(c.events, func() { handler(to) })
	}
}

func (c *Call) unlock() {
	events := c.events
	c.events = nil
	c.mux.Unlock()

	for _, event := range events {
		event()
	}
}

// keep holds the handle for teardown. A subscription that completes after Hangup is
// cancelled right away.
func (c *Call) keep(unsubscribe store.Unsubscribe) error {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.phase == PhaseClosed {
		unsubscribe()
		return &StateError{Op: "subscribe", Phase: c.phase, Reason: "call was hung up"}
	}
	c.subs = append(c.subs, unsubscribe)
	return nil
}

// Subscriptions live on the call's own context so that they last until Hangup; ctx only bounds
// the setup step that opens them.
func (c *Call) subscribePeerCandidates(ctx context.Context) error {
	paths := sessionPaths{collection: c.collection, id: c.id}

	if err := ctx.Err(); err != nil {
		return err
	}

	unsubscribe, err := c.store.SubscribeCollection(c.ctx, paths.peer(c.role), c.onPeerCandidate)
	if err != nil {
		return err
	}
	return c.keep(unsubscribe)
}

func (c *Call) subscribeRecord(ctx context.Context) error {
	paths := sessionPaths{collection: c.collection, id: c.id}

	if err := ctx.Err(); err != nil {
		return err
	}

	unsubscribe, err := c.store.SubscribeDocument(c.ctx, paths.doc(), c.onRecord)
	if err != nil {
		return err
	}
	return c.keep(unsubscribe)
}

// markLocalReady flushes candidates gathered before the own description reached the store.
func (c *Call) markLocalReady() {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.phase == PhaseClosed {
		return
	}

	c.localReady = true
	pending := c.localPending
	c.localPending = nil

	for _, candidate := range pending {
		c.writeCandidateLocked(candidate)
	}
}

// markRemoteReadyLocked applies candidates that arrived before the peer's description.
func (c *Call) markRemoteReadyLocked() {
	c.remoteReady = true
	pending := c.remotePending
	c.remotePending = nil

	for _, candidate := range pending {
		c.applyCandidateLocked(candidate)
	}
}

func (c *Call) onLocalCandidate(candidate transport.Candidate) {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.phase == PhaseClosed {
		return
	}
	if !c.localReady {
		c.localPending = append(c.localPending, candidate)
		return
	}
	c.writeCandidateLocked(candidate)
}

func (c *Call) writeCandidateLocked(candidate transport.Candidate) {
	id := c.id
	collection := sessionPaths{collection: c.collection, id: id}.owned(c.role)

	c.writes.Add(1)
	go func() {
		defer c.writes.Done()

		if _, err := c.store.Add(c.ctx, collection, store.Fields(candidate)); err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Str("session", id).Str("collection", collection).Msg("failed to write local candidate")
			c.reportError(err)
		}
	}()
}

func (c *Call) onPeerCandidate(entry store.Entry) {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.phase == PhaseClosed {
		return
	}
	if _, seen := c.seenEntries[entry.ID]; seen {
		c.logger.Debug().Str("session", c.id).Str("entry", entry.ID).Msg("candidate redelivered")
		return
	}
	c.seenEntries[entry.ID] = struct{}{}

	candidate := transport.Candidate(entry.Fields)
	if !c.remoteReady {
		c.remotePending = append(c.remotePending, candidate)
		return
	}
	c.applyCandidateLocked(candidate)
}

// applyCandidateLocked is the only place a remote candidate reaches the transport. Duplicates and
// candidates that lose the race with Hangup are dropped here.
func (c *Call) applyCandidateLocked(candidate transport.Candidate) {
	err := c.transport.AddRemoteCandidate(candidate)
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrDuplicateCandidate), errors.Is(err, transport.ErrClosed):
		c.logger.Debug().Err(err).Str("session", c.id).Msg("remote candidate ignored")
	default:
		c.logger.Error().Err(err).Str("session", c.id).Msg("failed to apply remote candidate")
		c.reportErrorLocked(err)
	}
}

func (c *Call) onConnectionStateChange(state transport.ConnectionState) {
	c.mux.Lock()
	defer c.unlock()

	if c.phase == PhaseClosed {
		return
	}

	if state == transport.StateConnected && (c.phase == PhaseAwaitingAnswer || c.phase == PhaseAnswered) {
		_ = c.advanceLocked("connect", PhaseConnected)
	}

	if handler := c.onStateChange; handler != nil {
		c.events = append(c.events, func() { handler(state) })
	}
}

func (c *Call) onTrack(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	c.mux.Lock()
	closed := c.phase == PhaseClosed
	handler := c.onRemoteTrack
	c.mux.Unlock()

	if closed || handler == nil {
		return
	}
	handler(remote, receiver)
}

// onRecord handles every snapshot of the session record.
func (c *Call) onRecord(fields store.Fields) {
	c.mux.Lock()
	defer c.unlock()

	if c.phase == PhaseClosed {
		return
	}

	if fields == nil {
		if c.recordSeen && c.onPeerHangup != nil {
			c.logger.Info().Str("session", c.id).Msg("session record deleted by peer")
			c.events = append(c.events, c.onPeerHangup)
		}
		c.recordSeen = false
		return
	}
	c.recordSeen = true

	if c.role == RoleInitiator {
		c.observeAnswerLocked(fields)
	}
}

func (c *Call) reportError(err error) {
	c.mux.Lock()
	defer c.unlock()

	c.reportErrorLocked(err)
}

func (c *Call) reportErrorLocked(err error) {
	if handler := c.onError; handler != nil {
		c.events = append(c.events, func() { handler(err) })
	}
}

func timestamp() time.Time {
	return time.Now().UTC()
}
